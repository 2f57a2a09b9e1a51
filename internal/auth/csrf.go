package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CSRFMiddleware rejects state-changing requests whose token came from the
// auth cookie unless the csrf header repeats the csrf cookie. Must run after
// Middleware.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) || c.GetString(tokenSourceContextKey) != "cookie" {
			c.Next()
			return
		}
		if !s.csrfPairMatches(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

func (s *Service) csrfPairMatches(c *gin.Context) bool {
	header := c.GetHeader(s.csrfHeaderName)
	cookie, err := c.Cookie(s.csrfCookieName)
	if err != nil || header == "" || cookie == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) == 1
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
