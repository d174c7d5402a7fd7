package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	wmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/xraph/courier/message"
)

// DefaultQueues are consumed when a listener is configured without queues.
var DefaultQueues = []string{"generic-messages-queue", "notifications", "user-notifications"}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (wmessage.Subscriber, error) {
	return amqp.NewSubscriber(cfg, logger)
}

// Recorder persists consumed messages.
type Recorder interface {
	Save(ctx context.Context, rec *message.Record) error
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// URL is the AMQP URI of the broker to consume from.
	URL    string
	Queues []string
}

// Listener consumes requests published by this service and records each one
// as a delivered queue message.
type Listener struct {
	config   ListenerConfig
	recorder Recorder
	logger   *slog.Logger

	mu         sync.Mutex
	subscriber wmessage.Subscriber
	wg         sync.WaitGroup
}

// NewListener creates a listener. It does nothing until Start.
func NewListener(cfg ListenerConfig, recorder Recorder, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultQueues
	}
	return &Listener{config: cfg, recorder: recorder, logger: logger}
}

// Start subscribes to every configured queue. Consumption stops when ctx is
// cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subscriber != nil {
		return errors.New("queue: listener already started")
	}

	sub, err := SubscriberFactory(amqp.NewDurableQueueConfig(l.config.URL), watermill.NewSlogLogger(l.logger))
	if err != nil {
		return fmt.Errorf("queue: create subscriber: %w", err)
	}

	for _, q := range l.config.Queues {
		msgs, err := sub.Subscribe(ctx, q)
		if err != nil {
			_ = sub.Close()
			return fmt.Errorf("queue: subscribe %s: %w", q, err)
		}
		l.wg.Add(1)
		go l.consume(ctx, q, msgs)
	}

	l.subscriber = sub
	l.logger.Info("queue listener started", "queues", l.config.Queues)
	return nil
}

// Stop closes the subscriber and waits for in-flight messages.
func (l *Listener) Stop() error {
	l.mu.Lock()
	sub := l.subscriber
	l.subscriber = nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	l.wg.Wait()
	l.logger.Info("queue listener stopped")
	return err
}

func (l *Listener) consume(ctx context.Context, queue string, msgs <-chan *wmessage.Message) {
	defer l.wg.Done()
	for msg := range msgs {
		l.handle(ctx, queue, msg)
		msg.Ack()
	}
}

// handle records msg. A message that cannot be decoded is dropped; it would
// never decode on redelivery either.
func (l *Listener) handle(ctx context.Context, queue string, msg *wmessage.Message) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		l.logger.WarnContext(ctx, "undecodable queue message dropped",
			"queue", queue, "message_uuid", msg.UUID, "error", err)
		return
	}
	if req.Queue == "" {
		req.Queue = queue
	}

	l.logger.InfoContext(ctx, "queue message consumed", "broker_key", req.Broker, "queue", req.Queue)

	err := l.recorder.Save(ctx, req.NewRecord(message.StatusDelivered))
	if err == nil {
		return
	}
	l.logger.ErrorContext(ctx, "consumed message save failed", "queue", req.Queue, "error", err)

	if err := l.recorder.Save(ctx, req.NewRecord(message.StatusFailed)); err != nil {
		l.logger.ErrorContext(ctx, "failed-status save failed", "queue", req.Queue, "error", err)
	}
}
