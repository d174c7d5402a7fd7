// Package delivery runs each relay request through its record lifecycle:
// persist, transmit, then record the outcome.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/socket"
)

// Recorder persists message records.
type Recorder interface {
	Save(ctx context.Context, rec *message.Record) error
	Update(ctx context.Context, rec *message.Record) error
}

// HTTPSender relays HTTP requests.
type HTTPSender interface {
	Send(ctx context.Context, req *httprelay.Request) httprelay.Result
}

// QueuePublisher publishes queue requests.
type QueuePublisher interface {
	Publish(ctx context.Context, req *queue.Request) queue.Result
	DefaultBroker() string
}

// SocketSender sends socket requests.
type SocketSender interface {
	Send(ctx context.Context, req *socket.Request) socket.Result
	DefaultBroker() string
}

// Config holds optional instrumentation.
type Config struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator drives RECEIVED/QUEUED → DELIVERED | FAILED for every send.
// A record is written before transmission and updated exactly once after it.
type Orchestrator struct {
	recorder Recorder
	http     HTTPSender
	queue    QueuePublisher
	socket   SocketSender
	config   Config
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. Any sender may be nil when its
// protocol is not served.
func NewOrchestrator(recorder Recorder, httpSender HTTPSender, queuePub QueuePublisher, socketSender SocketSender, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		recorder: recorder,
		http:     httpSender,
		queue:    queuePub,
		socket:   socketSender,
		config:   cfg,
		logger:   logger,
	}
}

// outcome is the protocol-neutral view of a transmission result.
type outcome struct {
	delivered bool
	errBlock  string
	errText   string
	latencyMs int
}

// SendHTTP relays req and returns the final record. A failed transmission is
// not an error; only storage failures are.
func (o *Orchestrator) SendHTTP(ctx context.Context, req *httprelay.Request) (*message.Record, error) {
	rec := req.NewRecord()
	return o.run(ctx, rec, func(ctx context.Context) outcome {
		if o.http == nil {
			return failed("http relay is not configured", "")
		}
		res := o.http.Send(ctx, req)
		out := outcome{delivered: res.Delivered(), latencyMs: res.LatencyMs}
		if !out.delivered {
			errText := res.Error
			if errText == "" {
				errText = fmt.Sprintf("unexpected status %d", res.StatusCode)
			}
			out.errText = errText
			out.errBlock = fmt.Sprintf("\n\nERROR: %s\nRESPONSE: %s", errText, res.Response)
		}
		return out
	})
}

// SendQueue publishes req and returns the final record.
func (o *Orchestrator) SendQueue(ctx context.Context, req *queue.Request) (*message.Record, error) {
	if strings.TrimSpace(req.Broker) == "" && o.queue != nil {
		req.Broker = o.queue.DefaultBroker()
	}
	rec := req.NewRecord("")
	return o.run(ctx, rec, func(ctx context.Context) outcome {
		if o.queue == nil {
			return failed("queue publishing is not configured", "\n\n❌ PUBLISH ERROR: ")
		}
		res := o.queue.Publish(ctx, req)
		if res.Success {
			return outcome{delivered: true, latencyMs: res.LatencyMs}
		}
		return outcome{errText: res.Error, errBlock: "\n\n❌ PUBLISH ERROR: " + res.Error, latencyMs: res.LatencyMs}
	})
}

// SendSocket sends req and returns the final record.
func (o *Orchestrator) SendSocket(ctx context.Context, req *socket.Request) (*message.Record, error) {
	if strings.TrimSpace(req.Broker) == "" && o.socket != nil {
		req.Broker = o.socket.DefaultBroker()
	}
	rec := req.NewRecord("")
	return o.run(ctx, rec, func(ctx context.Context) outcome {
		if o.socket == nil {
			return failed("socket sending is not configured", "\n\n❌ WEBSOCKET ERROR: ")
		}
		res := o.socket.Send(ctx, req)
		if res.Success {
			return outcome{delivered: true, latencyMs: res.LatencyMs}
		}
		return outcome{errText: res.Error, errBlock: "\n\n❌ WEBSOCKET ERROR: " + res.Error, latencyMs: res.LatencyMs}
	})
}

func failed(msg, prefix string) outcome {
	if prefix == "" {
		return outcome{errText: msg, errBlock: "\n\nERROR: " + msg + "\nRESPONSE: "}
	}
	return outcome{errText: msg, errBlock: prefix + msg}
}

// run persists rec in its initial state, transmits, then records the outcome.
func (o *Orchestrator) run(ctx context.Context, rec *message.Record, send func(context.Context) outcome) (*message.Record, error) {
	if err := o.recorder.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save %s record: %w", rec.Protocol, err)
	}

	var span trace.Span
	if o.config.Tracer != nil {
		ctx, span = o.config.Tracer.StartSendSpan(ctx, string(rec.Protocol), rec.URL, rec.ID.String())
	}

	start := time.Now()
	out := send(ctx)
	if out.latencyMs == 0 {
		out.latencyMs = int(time.Since(start).Milliseconds())
	}

	next := message.StatusDelivered
	if !out.delivered {
		next = message.StatusFailed
		rec.Body += out.errBlock
	}
	if !message.CanTransition(rec.Status, next) {
		return nil, fmt.Errorf("%w: %s → %s", message.ErrInvalidTransition, rec.Status, next)
	}
	rec.Status = next

	if span != nil {
		o.config.Tracer.EndSendSpan(span, string(next), out.latencyMs, out.errText)
	}
	o.config.Metrics.RecordSend(string(rec.Protocol), string(next), float64(out.latencyMs)/1000.0)

	if err := o.recorder.Update(ctx, rec); err != nil {
		o.logger.ErrorContext(ctx, "record update failed", "message_id", rec.ID, "status", next, "error", err)
		return nil, fmt.Errorf("update %s record: %w", rec.Protocol, err)
	}

	if out.delivered {
		o.logger.DebugContext(ctx, "message delivered", "message_id", rec.ID, "protocol", rec.Protocol, "latency_ms", out.latencyMs)
	} else {
		o.logger.WarnContext(ctx, "message failed", "message_id", rec.ID, "protocol", rec.Protocol, "error", out.errText)
	}
	return rec, nil
}

var (
	_ HTTPSender     = (*httprelay.Sender)(nil)
	_ QueuePublisher = (*queue.Publisher)(nil)
	_ SocketSender   = (*socket.Sender)(nil)
)
