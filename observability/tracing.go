package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/courier"

// Tracer provides OpenTelemetry tracing for Courier sends.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerWithProvider creates a tracer from tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(tracerName),
	}
}

// StartSendSpan starts a span for one relay attempt.
func (t *Tracer) StartSendSpan(ctx context.Context, protocol, target, messageID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("courier.protocol", protocol),
			attribute.String("courier.target", target),
			attribute.String("courier.message_id", messageID),
		),
	)
}

// EndSendSpan ends a send span with the final status.
func (t *Tracer) EndSendSpan(span trace.Span, status string, latencyMs int, err string) {
	span.SetAttributes(
		attribute.String("courier.status", status),
		attribute.Int("courier.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("courier.error", err))
		span.SetStatus(codes.Error, err)
	}
	span.End()
}
