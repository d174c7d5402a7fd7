package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/xraph/courier/broker"
)

// ContentType is set on every published message.
const ContentType = "application/json"

// Result is the outcome of a single publish.
type Result struct {
	Success   bool   `json:"success"`
	Broker    string `json:"broker"`
	Error     string `json:"error,omitempty"`
	LatencyMs int    `json:"latency_ms"`
}

// Publisher sends requests to the broker named in each request, dialing a
// fresh connection per call.
type Publisher struct {
	brokers Brokers
	dialer  Dialer
	logger  *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(brokers Brokers, dialer Dialer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{brokers: brokers, dialer: dialer, logger: logger}
}

// DefaultBroker is the key used when a request names no broker.
func (p *Publisher) DefaultBroker() string { return p.brokers.PrimaryKey() }

// Publish sends req and reports the outcome. It never returns an error; a
// blank broker key selects the primary broker.
func (p *Publisher) Publish(ctx context.Context, req *Request) Result {
	start := time.Now()
	key := strings.TrimSpace(req.Broker)
	if key == "" {
		key = p.brokers.PrimaryKey()
		req.Broker = key
	}

	res := Result{Broker: key}
	err := p.publish(ctx, key, req)
	res.LatencyMs = int(time.Since(start).Milliseconds())

	if err != nil {
		res.Error = err.Error()
		var nf *broker.NotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, errNoRoute) {
			p.markHealth(ctx, key, broker.HealthError)
		}
		p.logger.ErrorContext(ctx, "queue publish failed", "broker_key", key, "queue", req.Queue, "error", err)
		return res
	}

	p.markHealth(ctx, key, broker.HealthOnline)
	res.Success = true
	p.logger.InfoContext(ctx, "queue message published",
		"broker_key", key, "queue", req.Queue, "exchange", req.Exchange, "latency_ms", res.LatencyMs)
	return res
}

var errNoRoute = errors.New("exchange or queue must be specified")

func (p *Publisher) publish(ctx context.Context, key string, req *Request) error {
	exchange := strings.TrimSpace(req.Exchange)
	queue := strings.TrimSpace(req.Queue)
	if exchange == "" && queue == "" {
		return errNoRoute
	}

	d, err := p.brokers.FindActiveByKey(ctx, key)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	conn, err := p.dialer.DialQueue(ctx, d)
	if err != nil {
		return fmt.Errorf("queue publish failed: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			p.logger.DebugContext(ctx, "queue connection close failed", "broker_key", key, "error", closeErr)
		}
	}()

	msg := amqp091.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	// A blank exchange routes through the default exchange to the named queue.
	routingKey := queue
	if exchange != "" {
		routingKey = req.RoutingKey
	}
	if err := conn.Publish(ctx, exchange, routingKey, msg); err != nil {
		return fmt.Errorf("queue publish failed: %w", err)
	}
	return nil
}

// markHealth is best effort and never masks the publish outcome.
func (p *Publisher) markHealth(ctx context.Context, key string, status broker.Health) {
	if err := p.brokers.UpdateHealth(ctx, key, status); err != nil {
		p.logger.WarnContext(ctx, "broker health update failed", "broker_key", key, "error", err)
	}
}
