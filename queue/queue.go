// Package queue publishes relay requests to AMQP 0.9.1 brokers and consumes
// them back into the message store.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/rabbitmq/amqp091-go"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/message"
)

// Request is a queue send request. Its JSON form is also the published body.
type Request struct {
	Broker     string `json:"broker"`
	Queue      string `json:"queue"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routingKey,omitempty"`
	Payload    string `json:"payload"`
	Sender     string `json:"sender,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

// NewRecord maps r to its canonical message record in the given status.
func (r *Request) NewRecord(status message.Status) *message.Record {
	rec := message.NewRecord(message.ProtocolQueue)
	rec.Method = "PUBLISH"
	rec.URL = fmt.Sprintf("rabbitmq://%s/%s", r.Broker, r.Queue)
	rec.Headers = message.Headers{
		"broker": r.Broker,
		"queue":  r.Queue,
	}
	if strings.TrimSpace(r.Exchange) != "" {
		rec.Headers["exchange"] = r.Exchange
	}
	if strings.TrimSpace(r.RoutingKey) != "" {
		rec.Headers["routing-key"] = r.RoutingKey
	}
	rec.Body = r.Payload
	rec.Sender = r.Sender
	rec.GroupID = r.GroupID
	if status != "" {
		rec.Status = status
	}
	return rec
}

// Conn is one open channel on a fresh broker connection.
type Conn interface {
	Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error
	Close() error
}

// Dialer opens a fresh connection to a queue broker.
type Dialer interface {
	DialQueue(ctx context.Context, d *broker.Descriptor) (Conn, error)
}

// Brokers is the registry surface the publisher needs.
type Brokers interface {
	FindActiveByKey(ctx context.Context, key string) (*broker.Descriptor, error)
	PrimaryKey() string
	UpdateHealth(ctx context.Context, key string, status broker.Health) error
}
