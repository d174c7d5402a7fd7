// Package resolver turns broker descriptors into live connections at send time.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/socket"
)

// channelMax caps the channels on each just-in-time AMQP connection.
const channelMax = 5

// ErrNoHub is returned when an embedded socket descriptor is resolved without
// an in-process hub.
var ErrNoHub = errors.New("courier: no embedded socket hub configured")

// Config configures connection establishment.
type Config struct {
	ConnectTimeout time.Duration
	Heartbeat      time.Duration

	// ConnectionNamePrefix is prepended to the broker key in the AMQP
	// connection_name client property.
	ConnectionNamePrefix string

	// SocketTimeout bounds the WebSocket and STOMP handshakes.
	SocketTimeout time.Duration
}

// DefaultConfig returns a 30s connect timeout and a 60s heartbeat.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       30 * time.Second,
		Heartbeat:            60 * time.Second,
		ConnectionNamePrefix: "courier-",
		SocketTimeout:        30 * time.Second,
	}
}

// Resolver dials brokers from their descriptors. It holds no connections:
// every call opens a fresh one, so each send pays a TCP connect plus an AMQP
// or STOMP handshake and is isolated from every other send.
type Resolver struct {
	config Config
	hub    *socket.Hub
}

var (
	_ broker.Prober = (*Resolver)(nil)
	_ queue.Dialer  = (*Resolver)(nil)
	_ socket.Dialer = (*Resolver)(nil)
)

// New creates a resolver. hub serves embedded socket descriptors and may be nil.
func New(cfg Config, hub *socket.Hub) *Resolver {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.ConnectionNamePrefix == "" {
		cfg.ConnectionNamePrefix = def.ConnectionNamePrefix
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = def.SocketTimeout
	}
	return &Resolver{config: cfg, hub: hub}
}

// DialQueue opens a connection and channel to a queue broker.
func (r *Resolver) DialQueue(ctx context.Context, d *broker.Descriptor) (queue.Conn, error) {
	dialer := &net.Dialer{Timeout: r.config.ConnectTimeout}
	cfg := amqp091.Config{
		Heartbeat:  r.config.Heartbeat,
		Vhost:      d.VirtualHost,
		ChannelMax: channelMax,
		Properties: amqp091.Table{
			"connection_name": r.config.ConnectionNamePrefix + d.Key,
		},
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}

	conn, err := amqp091.DialConfig(d.AMQPURL(), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.Address(), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel on %s: %w", d.Address(), err)
	}
	return &amqpConn{conn: conn, ch: ch}, nil
}

// DialSocket opens a STOMP session. Descriptors without an endpoint URL are
// served by the in-process hub.
func (r *Resolver) DialSocket(ctx context.Context, d *broker.Descriptor) (socket.Session, error) {
	if d.Embedded() {
		if r.hub == nil {
			return nil, ErrNoHub
		}
		return r.hub.Session(), nil
	}

	return socket.Dial(ctx, d.Param(broker.ParamEndpointURL), socket.ClientConfig{
		Host:     d.Host,
		Login:    d.Username,
		Passcode: d.Password,
		Timeout:  r.config.SocketTimeout,
	})
}

// Probe opens and closes a connection of the descriptor's family.
func (r *Resolver) Probe(ctx context.Context, d *broker.Descriptor) error {
	switch d.Family {
	case broker.FamilyQueue:
		conn, err := r.DialQueue(ctx, d)
		if err != nil {
			return err
		}
		return conn.Close()
	case broker.FamilySocket:
		session, err := r.DialSocket(ctx, d)
		if err != nil {
			return err
		}
		return session.Close()
	default:
		return fmt.Errorf("courier: unknown broker family %q", d.Family)
	}
}

// amqpConn owns one connection and its single channel.
type amqpConn struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func (c *amqpConn) Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	return c.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

func (c *amqpConn) Close() error {
	chErr := c.ch.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}
