package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyAuthToken is the gin context key for the caller's raw authorization value.
const ContextKeyAuthToken = "authToken"

// AuthTokenMiddleware captures the caller's Authorization header so it can be
// forwarded verbatim to the learning-object API. Requests without one are
// rejected.
func AuthTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(401, gin.H{"code": "unauthorized", "error": "missing Authorization header"})
			return
		}
		c.Set(ContextKeyAuthToken, token)
		c.Next()
	}
}

// GetAuthToken returns the Authorization value captured by AuthTokenMiddleware.
func GetAuthToken(c *gin.Context) string {
	return c.GetString(ContextKeyAuthToken)
}
