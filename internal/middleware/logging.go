package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"

	// requestIDKey is the gin context key read by the API error envelope
	requestIDKey = "request_id"
)

// RequestTracker receives the outcome of every request, feeding the
// error-rate and latency windows
type RequestTracker interface {
	TrackRequest(duration time.Duration, statusCode int)
}

// tagRequest keeps the caller's correlation ID or mints one, mints a request
// ID, and echoes both in the response headers
func tagRequest(c *gin.Context) context.Context {
	correlationID := c.GetHeader(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}
	requestID := logging.NewCorrelationID()

	ctx := logging.WithRequestID(logging.WithCorrelationID(c.Request.Context(), correlationID), requestID)
	c.Request = c.Request.WithContext(ctx)
	c.Set(requestIDKey, requestID)
	c.Header(HeaderCorrelationID, correlationID)
	c.Header(HeaderRequestID, requestID)
	return ctx
}

// LoggingMiddleware tags the request with IDs, logs it once served and
// reports its outcome to tracker
func LoggingMiddleware(logger *logging.Logger, tracker RequestTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := tagRequest(c)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		if tracker != nil {
			tracker.TrackRequest(elapsed, status)
		}
		req := c.Request
		logger.LogRequest(ctx, req.Method, req.URL.Path, req.UserAgent(), c.ClientIP(), status, elapsed)
	}
}

// ErrorLoggingMiddleware logs every error a handler attached with c.Error
func ErrorLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			logger.LogError(c.Request.Context(), ginErr.Err, "Handler reported an error", logging.Fields{
				"gin_error_type": ginErr.Type,
				"meta":           ginErr.Meta,
				"path":           c.FullPath(),
			})
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 envelope
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		ctx := c.Request.Context()
		logger.LogError(ctx, fmt.Errorf("panic: %v", recovered), "Handler panicked", logging.Fields{
			"path": c.Request.URL.Path,
		})

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":           errors.CodeInternal,
			"message":        "Internal server error",
			"correlation_id": logging.GetCorrelationID(ctx),
		})
	})
}
