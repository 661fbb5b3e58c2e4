package middleware

import (
	"log/slog"
	"net/http"

	"github.com/evvos/pairing/internal/auth"
	"github.com/gin-gonic/gin"
)

const UserIDKey = "user_id"

// IdentityAuth verifies the caller's bearer token and stores the subject
// under UserIDKey.
func IdentityAuth(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			slog.Warn("Identity verification failed",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, identity.Subject)
		c.Next()
	}
}

// ServiceKeyAuth admits devices presenting one of the configured service keys.
func ServiceKeyAuth(keys *auth.ServiceKeys) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.Configured() {
			slog.Warn("Service keys not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"ok":    false,
				"error": "service authentication is not configured",
			})
			return
		}

		key, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "missing service key",
			})
			return
		}

		if !keys.Check(key) {
			slog.Warn("Invalid service key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "invalid service key",
			})
			return
		}

		c.Next()
	}
}
