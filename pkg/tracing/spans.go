package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// StartPollSpan starts the root span of one monitoring tick
func (ts *TracingService) StartPollSpan(ctx context.Context, services int) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "monitoring.poll",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("monitoring.services", services)),
	)
}

// StartHealthCheckSpan starts the span of one service health check
func (ts *TracingService) StartHealthCheckSpan(ctx context.Context, service, url string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "health_check."+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("service.checked", service),
			attribute.String("http.url", url),
		),
	)
}

// StartNotificationSpan starts the span of one alert delivery on channel
func (ts *TracingService) StartNotificationSpan(ctx context.Context, channel, alertID string) (context.Context, trace.Span) {
	return ts.tracer.Start(ctx, "notify."+channel,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("alert.channel", channel),
			attribute.String("alert.id", alertID),
		),
	)
}
