package auth

// Service extracts upload credentials from requests. Tokens are not verified
// here; they are forwarded to the upload backend, which owns them.
type Service struct {
	cookieName      string
	headerName      string
	ownerHeaderName string
	csrfCookieName  string
	csrfHeaderName  string
}

func NewService() *Service {
	return &Service{
		cookieName:      "auth_token",
		headerName:      "Authorization",
		ownerHeaderName: "X-Owner-ID",
		csrfCookieName:  "csrf_token",
		csrfHeaderName:  "X-CSRF-Token",
	}
}
