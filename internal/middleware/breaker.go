package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

// CircuitBreakerMiddleware guards the downstream handlers with breaker.
// Responses with status 5xx count as failures; while the circuit is open
// requests are answered with 503 without reaching the handlers.
func CircuitBreakerMiddleware(breaker *resilience.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := breaker.Execute(c.Request.Context(), func(ctx context.Context) (interface{}, error) {
			c.Next()
			if status := c.Writer.Status(); status >= http.StatusInternalServerError {
				return nil, fmt.Errorf("handler responded with status %d", status)
			}
			return nil, nil
		})

		if !resilience.IsCircuitOpenError(err) {
			return
		}

		retryAfter := retryAfterSeconds(breaker.Status(), time.Now())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"status":     "error",
			"message":    "Service temporarily unavailable",
			"code":       "SERVICE_UNAVAILABLE",
			"retryAfter": retryAfter,
		})
	}
}

// retryAfterSeconds is the time left until the breaker admits a probe, at
// least one second
func retryAfterSeconds(status resilience.BreakerStatus, now time.Time) int {
	remaining := status.ResetTimeout
	if !status.LastFailure.IsZero() {
		remaining -= now.Sub(status.LastFailure)
	}
	seconds := int(math.Ceil(remaining.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
