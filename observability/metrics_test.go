package observability

import (
	"context"
	"testing"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.RecordSend("HTTP", "DELIVERED", 0.1)
	m.RecordHealth("QUEUE", "ONLINE")
	m.ContainerCreated()
	m.ContainerRemoved()

	if m.Snapshot() != nil {
		t.Fatal("nil metrics must have no snapshot")
	}
}

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracerWithProvider(tp), sr
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSendSpanDelivered(t *testing.T) {
	tr, sr := newRecordingTracer()

	_, span := tr.StartSendSpan(context.Background(), "QUEUE", "rabbitmq://local/jobs", "msg_1")
	tr.EndSendSpan(span, "DELIVERED", 12, "")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "courier.send" {
		t.Fatalf("span name = %q", s.Name())
	}
	if v, ok := attr(s.Attributes(), "courier.protocol"); !ok || v.AsString() != "QUEUE" {
		t.Fatalf("protocol attribute = %v", v)
	}
	if v, ok := attr(s.Attributes(), "courier.status"); !ok || v.AsString() != "DELIVERED" {
		t.Fatalf("status attribute = %v", v)
	}
	if s.Status().Code == codes.Error {
		t.Fatal("delivered span must not carry an error status")
	}
}

func TestSendSpanFailed(t *testing.T) {
	tr, sr := newRecordingTracer()

	_, span := tr.StartSendSpan(context.Background(), "HTTP", "https://example.com", "msg_2")
	tr.EndSendSpan(span, "FAILED", 30, "connection refused")

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "connection refused" {
		t.Fatalf("status = %+v", s.Status())
	}
	if v, ok := attr(s.Attributes(), "courier.error"); !ok || v.AsString() != "connection refused" {
		t.Fatalf("error attribute = %v", v)
	}
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(gu.NewMetricsCollector("courier-test"))

	m.RecordSend("HTTP", "DELIVERED", 0.5)
	m.RecordSend("HTTP", "FAILED", 1.5)
	m.RecordSend("QUEUE", "DELIVERED", 1.0)

	if got := m.MessagesTotal.Value(); got != 3 {
		t.Fatalf("messages total = %v, want 3", got)
	}
	if got := m.MessagesByProtocol("HTTP").Value(); got != 2 {
		t.Fatalf("http messages = %v, want 2", got)
	}
	if got := m.MessagesByStatus("DELIVERED").Value(); got != 2 {
		t.Fatalf("delivered = %v, want 2", got)
	}
	if got := m.SendLatency.Count(); got != 3 {
		t.Fatalf("latency observations = %d, want 3", got)
	}
	if got := m.SendLatency.Sum(); got != 3.0 {
		t.Fatalf("latency sum = %v, want 3", got)
	}
}

func TestMetricsHealthAndContainers(t *testing.T) {
	m := NewMetrics(gu.NewMetricsCollector("courier-test"))

	m.RecordHealth("QUEUE", "ONLINE")
	m.RecordHealth("QUEUE", "ERROR")
	m.RecordHealth("SOCKET", "ONLINE")
	m.ContainerCreated()
	m.ContainerCreated()
	m.ContainerRemoved()

	if got := m.BrokerHealthBy("QUEUE", "ONLINE").Value(); got != 1 {
		t.Fatalf("queue online = %v, want 1", got)
	}
	snap := m.Snapshot()
	if snap["broker_health_checks"] != 3 {
		t.Fatalf("health checks = %v, want 3", snap["broker_health_checks"])
	}
	if snap["containers_active"] != 1 {
		t.Fatalf("containers active = %v, want 1", snap["containers_active"])
	}
}
