// Package auth guards the HTTP surface with a shared bearer token and a
// per-client rate limit.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coderelay/coderelay/internal/logger"
)

// Middleware validates the Authorization header against the configured
// bearer token. With auth disabled it is a pass-through.
func Middleware(enabled bool, bearerToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required (Bearer token)",
			})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(bearerToken)) != 1 {
			logger.Info("Rejected request with invalid bearer token")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Next()
	}
}
