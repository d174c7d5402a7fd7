package courier

import (
	"log/slog"
	"net/http"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/socket"
	"github.com/xraph/courier/store"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. It is validated in New.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithContainers enables container-managed queue brokers.
func WithContainers(m broker.Containers) Option {
	return func(c *Courier) error {
		c.containers = m
		return nil
	}
}

// WithHub sets the embedded STOMP hub. Without it New creates one from the
// socket configuration.
func WithHub(h *socket.Hub) Option {
	return func(c *Courier) error {
		c.hub = h
		return nil
	}
}

// WithConnector replaces the connection resolver used for probes and sends.
func WithConnector(conn Connector) Option {
	return func(c *Courier) error {
		c.connector = conn
		return nil
	}
}

// WithMetrics enables send, health and container metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer enables send spans.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithHTTPClient sets the client used by the HTTP relay.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Courier) error {
		c.httpClient = hc
		return nil
	}
}
