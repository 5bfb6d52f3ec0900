package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey type for context keys
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	TraceIDKey       ContextKey = "trace_id"
)

var contextKeys = []ContextKey{CorrelationIDKey, RequestIDKey, TraceIDKey}

// WithContext returns an entry carrying the base fields and whichever
// correlation, request and trace IDs ctx holds
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	for _, key := range contextKeys {
		if v := ctx.Value(key); v != nil {
			fields[string(key)] = v
		}
	}
	return l.WithFields(fields)
}

func NewCorrelationID() string {
	return uuid.New().String()
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetCorrelationID returns the correlation ID in ctx, or ""
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}
