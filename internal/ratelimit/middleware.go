package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Middleware rejects requests over the class limit for the client address with
// 429, a Retry-After header and a plain-text body. A failing limiter lets the request through.
func Middleware(l Limiter, class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := l.Allow(c.Request.Context(), c.ClientIP(), class)
		if err != nil {
			logging.Errorf("Rate limiter unavailable, allowing request - class: %s, error: %v", class, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Permitted {
			metrics.RateLimitedTotal.WithLabelValues(string(class)).Inc()
			logging.Debugf("Rate limit exceeded - class: %s, address: %s, retry_after: %d", class, c.ClientIP(), decision.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter))
			c.String(http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}
