// Package middleware – per-IP rate limiting for the public boundary.
//
// The limiter is a process-local sliding window keyed by client IP. It is an
// edge-level abuse control, not an authorization mechanism; for horizontally
// scaled deployments a shared store would be needed to enforce global limits.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pricewatch/go-tracker-backend/internal/ratelimit"
)

// IPRateLimit rejects requests once the client IP exhausts its sliding-window
// budget. Rejections use the standard error envelope with a Retry-After hint.
func IPRateLimit(w *ratelimit.Window) gin.HandlerFunc {
	return func(c *gin.Context) {
		if w.Allow("ip:" + c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", "60")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
			"status":     "error",
		})
	}
}
