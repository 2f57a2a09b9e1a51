package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attachflow/internal/upload"
)

const (
	credentialsContextKey = "auth_credentials"
	tokenSourceContextKey = "auth_token_source"
)

// Middleware resolves the caller's upload credentials from a bearer token (or
// the auth cookie) and the owner header. A request with neither is rejected.
// The session id comes from the :session_id route parameter.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, fromCookie := s.extractToken(c)
		creds := upload.Credentials{
			AuthToken: token,
			OwnerID:   strings.TrimSpace(c.GetHeader(s.ownerHeaderName)),
			SessionID: c.Param("session_id"),
		}
		if creds.AuthToken == "" && creds.OwnerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if fromCookie {
			c.Set(tokenSourceContextKey, "cookie")
		}
		c.Set(credentialsContextKey, creds)
		c.Next()
	}
}

// CredentialsFromContext retrieves the credentials captured by the middleware.
func CredentialsFromContext(c *gin.Context) (upload.Credentials, bool) {
	val, ok := c.Get(credentialsContextKey)
	if !ok {
		return upload.Credentials{}, false
	}
	creds, ok := val.(upload.Credentials)
	return creds, ok
}

func (s *Service) extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:]), false
	}
	if s.cookieName != "" {
		if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
			return token, true
		}
	}
	return "", false
}
