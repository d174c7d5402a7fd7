package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/container"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/resolver"
	"github.com/xraph/courier/socket"
	"github.com/xraph/courier/store"
)

// Connector opens connections to brokers at send time. resolver.Resolver is
// the production implementation.
type Connector interface {
	broker.Prober
	queue.Dialer
	socket.Dialer
}

// Courier is the root relay: it owns the message and broker services, the
// protocol senders and the delivery orchestrator.
type Courier struct {
	config     Config
	store      store.Store
	logger     *slog.Logger
	containers broker.Containers
	hub        *socket.Hub
	connector  Connector
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	httpClient *http.Client

	messages      *message.Service
	queueBrokers  *broker.Registry
	socketBrokers *broker.Registry
	lifecycle     *broker.Lifecycle
	httpSender    *httprelay.Sender
	publisher     *queue.Publisher
	socketSender  *socket.Sender
	orchestrator  *delivery.Orchestrator

	mu       sync.Mutex
	listener *queue.Listener
}

// New creates a Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	c.wireServices()
	return c, nil
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() {
	cfg := c.config

	if c.hub == nil {
		c.hub = socket.NewHub(socket.HubConfig{
			Path:              cfg.Socket.EndpointPath,
			MaxConnections:    cfg.Socket.MaxConnections,
			HeartbeatInterval: time.Duration(cfg.Socket.Heartbeat) * time.Millisecond,
		}, c.logger)
	}
	if c.connector == nil {
		c.connector = resolver.New(resolver.Config{
			ConnectTimeout: cfg.Queue.ConnectionTimeout,
			Heartbeat:      cfg.Queue.Heartbeat,
		}, c.hub)
	}

	var onHealth func(broker.Family, broker.Health)
	if c.metrics != nil {
		onHealth = func(f broker.Family, h broker.Health) {
			c.metrics.RecordHealth(string(f), string(h))
		}
	}

	containers := c.containers
	if containers != nil && c.metrics != nil {
		containers = &meteredContainers{Containers: containers, metrics: c.metrics}
	}

	readiness := broker.Readiness{
		InitialInterval: cfg.Container.ReadyInitial,
		MaxInterval:     cfg.Container.ReadyMaxBackoff,
		MaxElapsed:      cfg.Container.ReadyMaxWait,
	}

	c.messages = message.NewService(c.store, c.logger)

	c.queueBrokers = broker.NewRegistry(c.store, broker.Config{
		Family:     broker.FamilyQueue,
		PrimaryKey: cfg.Queue.PrimaryKey,
		Defaults: broker.Defaults{
			Host:           cfg.Queue.Host,
			Port:           cfg.Queue.Port,
			ManagementPort: cfg.Queue.ManagementPort,
			Username:       cfg.Queue.Username,
			Password:       cfg.Queue.Password,
			VirtualHost:    cfg.Queue.VirtualHost,
		},
		Readiness:  readiness,
		Prober:     c.connector,
		Containers: containers,
		OnHealth:   onHealth,
	}, c.logger)

	c.socketBrokers = broker.NewRegistry(c.store, broker.Config{
		Family:     broker.FamilySocket,
		PrimaryKey: cfg.Socket.PrimaryKey,
		Defaults: broker.Defaults{
			Host: cfg.Socket.Host,
			Port: cfg.Socket.Port,
			Params: map[string]string{
				broker.ParamProtocolType:      "STOMP",
				broker.ParamMaxConnections:    strconv.Itoa(cfg.Socket.MaxConnections),
				broker.ParamHeartbeatInterval: strconv.Itoa(cfg.Socket.Heartbeat),
			},
		},
		Prober:   c.connector,
		OnHealth: onHealth,
	}, c.logger)

	c.lifecycle = broker.NewLifecycle(c.queueBrokers, c.logger)

	c.httpSender = httprelay.NewSender(httprelay.Config{
		ConnectTimeout:  cfg.HTTP.ConnectTimeout,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		BreakerFailures: cfg.Breaker.ConsecutiveFailures,
		BreakerTimeout:  cfg.Breaker.OpenTimeout,
		RatePerHost:     cfg.RateLimit.PerHost,
		SigningSecret:   cfg.HTTP.SigningSecret,
	}, c.httpClient, c.logger)
	c.publisher = queue.NewPublisher(c.queueBrokers, c.connector, c.logger)
	c.socketSender = socket.NewSender(c.socketBrokers, c.connector, c.logger)

	c.orchestrator = delivery.NewOrchestrator(c.messages, c.httpSender, c.publisher, c.socketSender,
		delivery.Config{Metrics: c.metrics, Tracer: c.tracer}, c.logger)
}

// Start seeds the primary brokers and, when enabled, starts the queue
// listener on the primary queue broker.
func (c *Courier) Start(ctx context.Context) error {
	if _, err := c.queueBrokers.EnsurePrimary(ctx, broker.Input{}); err != nil {
		return fmt.Errorf("courier: seed primary queue broker: %w", err)
	}
	if _, err := c.socketBrokers.EnsurePrimary(ctx, broker.Input{}); err != nil {
		return fmt.Errorf("courier: seed primary socket broker: %w", err)
	}

	if !c.config.Listener.Enabled {
		return nil
	}
	primary, err := c.queueBrokers.Primary(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return nil
	}
	l := queue.NewListener(queue.ListenerConfig{
		URL:    primary.AMQPURL(),
		Queues: c.config.Listener.Queues,
	}, c.messages, c.logger)
	if err := l.Start(ctx); err != nil {
		// The listener is optional; HTTP and socket relaying continue without it.
		c.logger.WarnContext(ctx, "queue listener not started", "broker_key", primary.Key, "error", err)
		return nil
	}
	c.listener = l
	return nil
}

// Stop shuts down the listener and the embedded hub.
func (c *Courier) Stop(_ context.Context) error {
	c.mu.Lock()
	l := c.listener
	c.listener = nil
	c.mu.Unlock()

	var errs []error
	if l != nil {
		errs = append(errs, l.Stop())
	}
	errs = append(errs, c.hub.Close())
	return errors.Join(errs...)
}

// SendHTTP relays an HTTP request and returns its record.
func (c *Courier) SendHTTP(ctx context.Context, req *httprelay.Request) (*message.Record, error) {
	return c.orchestrator.SendHTTP(ctx, req)
}

// SendQueue publishes to a queue broker and returns the record.
func (c *Courier) SendQueue(ctx context.Context, req *queue.Request) (*message.Record, error) {
	return c.orchestrator.SendQueue(ctx, req)
}

// SendSocket sends to a socket broker and returns the record.
func (c *Courier) SendSocket(ctx context.Context, req *socket.Request) (*message.Record, error) {
	return c.orchestrator.SendSocket(ctx, req)
}

// Health is the liveness report served by the API.
type Health struct {
	Status        string        `json:"status"`
	Store         string        `json:"store"`
	PrimaryBroker string        `json:"primaryBroker"`
	BrokerHealth  broker.Health `json:"brokerHealth"`
	Containers    bool          `json:"containers"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Health pings the store and probes the primary queue broker. Only a store
// failure makes the report DOWN; an unreachable broker is reported as-is.
func (c *Courier) Health(ctx context.Context) *Health {
	h := &Health{
		Status:        "UP",
		Store:         "UP",
		PrimaryBroker: c.config.Queue.PrimaryKey,
		BrokerHealth:  broker.HealthUnknown,
		Containers:    c.containers != nil,
		Timestamp:     time.Now().UTC(),
	}
	if err := c.store.Ping(ctx); err != nil {
		h.Status = "DOWN"
		h.Store = "DOWN"
		c.logger.WarnContext(ctx, "store ping failed", "error", err)
		return h
	}
	ok, err := c.queueBrokers.CheckAvailability(ctx, c.config.Queue.PrimaryKey)
	switch {
	case err != nil:
		c.logger.DebugContext(ctx, "primary broker unavailable", "error", err)
	case ok:
		h.BrokerHealth = broker.HealthOnline
	default:
		h.BrokerHealth = broker.HealthOffline
	}
	return h
}

// Messages returns the message record service.
func (c *Courier) Messages() *message.Service { return c.messages }

// QueueBrokers returns the queue broker registry.
func (c *Courier) QueueBrokers() *broker.Registry { return c.queueBrokers }

// SocketBrokers returns the socket broker registry.
func (c *Courier) SocketBrokers() *broker.Registry { return c.socketBrokers }

// Lifecycle returns the queue broker lifecycle service.
func (c *Courier) Lifecycle() *broker.Lifecycle { return c.lifecycle }

// Hub returns the embedded STOMP hub.
func (c *Courier) Hub() *socket.Hub { return c.hub }

// Store returns the underlying store.
func (c *Courier) Store() store.Store { return c.store }

// Config returns the active configuration.
func (c *Courier) Config() Config { return c.config }

// meteredContainers counts containers as they are provisioned and removed.
type meteredContainers struct {
	broker.Containers
	metrics *observability.Metrics
}

func (m *meteredContainers) Provision(ctx context.Context, spec container.Spec) container.Result {
	res := m.Containers.Provision(ctx, spec)
	if res.Success {
		m.metrics.ContainerCreated()
	}
	return res
}

func (m *meteredContainers) Teardown(ctx context.Context, key string) bool {
	ok := m.Containers.Teardown(ctx, key)
	if ok {
		m.metrics.ContainerRemoved()
	}
	return ok
}
