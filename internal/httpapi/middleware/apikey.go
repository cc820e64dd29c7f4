package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiKeyHeader carries the pre-shared key for the tracking API.
const apiKeyHeader = "X-API-Key"

// APIKey rejects requests whose X-API-Key header does not match the
// configured key. Comparison is constant-time.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(apiKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid API key",
				"status":     "error",
			})
			return
		}
		c.Next()
	}
}
