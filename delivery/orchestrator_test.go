package delivery_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/socket"
	"github.com/xraph/courier/store/memory"
)

func ctx() context.Context { return context.Background() }

type fakeHTTP struct {
	result httprelay.Result
	calls  int
}

func (f *fakeHTTP) Send(_ context.Context, _ *httprelay.Request) httprelay.Result {
	f.calls++
	return f.result
}

type fakeQueue struct {
	result queue.Result
	got    *queue.Request
}

func (f *fakeQueue) Publish(_ context.Context, req *queue.Request) queue.Result {
	f.got = req
	return f.result
}

func (f *fakeQueue) DefaultBroker() string { return "rabbitmq-local" }

type fakeSocket struct {
	result socket.Result
	got    *socket.Request
}

func (f *fakeSocket) Send(_ context.Context, req *socket.Request) socket.Result {
	f.got = req
	return f.result
}

func (f *fakeSocket) DefaultBroker() string { return "stomp-local" }

type failingRecorder struct {
	saveErr   error
	updateErr error
	saved     int
}

func (r *failingRecorder) Save(_ context.Context, _ *message.Record) error {
	r.saved++
	return r.saveErr
}

func (r *failingRecorder) Update(_ context.Context, _ *message.Record) error {
	return r.updateErr
}

func newService() (*message.Service, *memory.Store) {
	s := memory.New()
	return message.NewService(s, nil), s
}

func httpRequest() *httprelay.Request {
	return &httprelay.Request{
		Headers: message.Headers{"url": "http://example.test/hook", "sender": "svc-a"},
		Body:    `{"ok":true}`,
	}
}

func TestSendHTTP_Delivered(t *testing.T) {
	svc, s := newService()
	h := &fakeHTTP{result: httprelay.Result{Success: true, StatusCode: 200, Response: "fine"}}
	o := delivery.NewOrchestrator(svc, h, nil, nil, delivery.Config{}, nil)

	rec, err := o.SendHTTP(ctx(), httpRequest())
	if err != nil {
		t.Fatalf("SendHTTP: %v", err)
	}
	if rec.Status != message.StatusDelivered {
		t.Errorf("status = %s, want DELIVERED", rec.Status)
	}
	if rec.Body != `{"ok":true}` {
		t.Errorf("body changed on success: %q", rec.Body)
	}
	if rec.Sender != "svc-a" {
		t.Errorf("sender = %q", rec.Sender)
	}

	stored, err := s.GetMessage(ctx(), rec.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.Status != message.StatusDelivered {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestSendHTTP_FailureAppendsErrorBlock(t *testing.T) {
	svc, s := newService()
	h := &fakeHTTP{result: httprelay.Result{StatusCode: 503, Error: "Server Error: 503 Service Unavailable", Response: "down"}}
	o := delivery.NewOrchestrator(svc, h, nil, nil, delivery.Config{}, nil)

	rec, err := o.SendHTTP(ctx(), httpRequest())
	if err != nil {
		t.Fatalf("SendHTTP: %v", err)
	}
	if rec.Status != message.StatusFailed {
		t.Fatalf("status = %s, want FAILED", rec.Status)
	}
	want := "{\"ok\":true}\n\nERROR: Server Error: 503 Service Unavailable\nRESPONSE: down"
	if rec.Body != want {
		t.Errorf("body = %q, want %q", rec.Body, want)
	}

	stored, _ := s.GetMessage(ctx(), rec.ID)
	if stored.Body != want {
		t.Errorf("stored body = %q", stored.Body)
	}
}

func TestSendHTTP_NotConfigured(t *testing.T) {
	svc, _ := newService()
	o := delivery.NewOrchestrator(svc, nil, nil, nil, delivery.Config{}, nil)

	rec, err := o.SendHTTP(ctx(), httpRequest())
	if err != nil {
		t.Fatalf("SendHTTP: %v", err)
	}
	if rec.Status != message.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
}

func TestSendQueue_DefaultsBrokerBeforeRecording(t *testing.T) {
	svc, _ := newService()
	q := &fakeQueue{result: queue.Result{Success: true, Broker: "rabbitmq-local"}}
	o := delivery.NewOrchestrator(svc, nil, q, nil, delivery.Config{}, nil)

	rec, err := o.SendQueue(ctx(), &queue.Request{Queue: "orders", Payload: "p"})
	if err != nil {
		t.Fatalf("SendQueue: %v", err)
	}
	if rec.URL != "rabbitmq://rabbitmq-local/orders" {
		t.Errorf("url = %q", rec.URL)
	}
	if rec.Method != "PUBLISH" {
		t.Errorf("method = %q", rec.Method)
	}
	if rec.Status != message.StatusDelivered {
		t.Errorf("status = %s", rec.Status)
	}
	if q.got.Broker != "rabbitmq-local" {
		t.Errorf("publisher saw broker %q", q.got.Broker)
	}
}

func TestSendQueue_Failure(t *testing.T) {
	svc, _ := newService()
	q := &fakeQueue{result: queue.Result{Error: "connection refused"}}
	o := delivery.NewOrchestrator(svc, nil, q, nil, delivery.Config{}, nil)

	rec, err := o.SendQueue(ctx(), &queue.Request{Broker: "b1", Queue: "orders", Payload: "p"})
	if err != nil {
		t.Fatalf("SendQueue: %v", err)
	}
	if rec.Status != message.StatusFailed {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Body != "p\n\n❌ PUBLISH ERROR: connection refused" {
		t.Errorf("body = %q", rec.Body)
	}
}

func TestSendSocket(t *testing.T) {
	svc, _ := newService()
	sk := &fakeSocket{result: socket.Result{Error: "session closed"}}
	o := delivery.NewOrchestrator(svc, nil, nil, sk, delivery.Config{}, nil)

	rec, err := o.SendSocket(ctx(), &socket.Request{Destination: "/chat", Payload: "hi"})
	if err != nil {
		t.Fatalf("SendSocket: %v", err)
	}
	if rec.URL != "websocket://stomp-local/chat" {
		t.Errorf("url = %q", rec.URL)
	}
	if rec.Status != message.StatusFailed {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.Body != "hi\n\n❌ WEBSOCKET ERROR: session closed" {
		t.Errorf("body = %q", rec.Body)
	}

	sk.result = socket.Result{Success: true}
	rec, err = o.SendSocket(ctx(), &socket.Request{Broker: "s2", Destination: "/chat", Payload: "hi"})
	if err != nil {
		t.Fatalf("SendSocket: %v", err)
	}
	if rec.Status != message.StatusDelivered {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestSaveFailureIsFatal(t *testing.T) {
	r := &failingRecorder{saveErr: errors.New("disk full")}
	h := &fakeHTTP{result: httprelay.Result{Success: true, StatusCode: 200}}
	o := delivery.NewOrchestrator(r, h, nil, nil, delivery.Config{}, nil)

	if _, err := o.SendHTTP(ctx(), httpRequest()); err == nil {
		t.Fatal("expected error")
	}
	if h.calls != 0 {
		t.Errorf("sender called %d times after failed save", h.calls)
	}
}

func TestUpdateFailurePropagates(t *testing.T) {
	r := &failingRecorder{updateErr: errors.New("gone")}
	h := &fakeHTTP{result: httprelay.Result{Success: true, StatusCode: 200}}
	o := delivery.NewOrchestrator(r, h, nil, nil, delivery.Config{}, nil)

	_, err := o.SendHTTP(ctx(), httpRequest())
	if err == nil || !strings.Contains(err.Error(), "gone") {
		t.Fatalf("err = %v", err)
	}
}

func TestSpansRecorded(t *testing.T) {
	svc, _ := newService()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := &fakeHTTP{result: httprelay.Result{Success: true, StatusCode: 204}}
	o := delivery.NewOrchestrator(svc, h, nil, nil, delivery.Config{
		Tracer: observability.NewTracerWithProvider(tp),
	}, nil)

	if _, err := o.SendHTTP(ctx(), httpRequest()); err != nil {
		t.Fatalf("SendHTTP: %v", err)
	}
	if got := len(sr.Ended()); got != 1 {
		t.Errorf("ended spans = %d, want 1", got)
	}
}
