package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireBearer guards mutating endpoints with the internal bearer credential.
// An empty configured token disables the check (local development).
func RequireBearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "missing or invalid bearer token"},
			})
			return
		}
		c.Next()
	}
}
