package courier

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the configuration for a Courier instance.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Queue     QueueConfig     `yaml:"queue"`
	Socket    SocketConfig    `yaml:"socket"`
	Container ContainerConfig `yaml:"container"`
	Listener  ListenerConfig  `yaml:"listener"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig configures the HTTP relay.
type HTTPConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	// SigningSecret enables X-Courier-Signature headers on relayed calls.
	SigningSecret string `yaml:"signing_secret"`
}

// QueueConfig holds the defaults applied to queue brokers and the primary
// queue broker seeded at startup.
type QueueConfig struct {
	PrimaryKey        string        `yaml:"primary_key"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ManagementPort    int           `yaml:"management_port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	VirtualHost       string        `yaml:"virtual_host"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
}

// SocketConfig configures the embedded STOMP hub and the primary socket broker.
type SocketConfig struct {
	PrimaryKey     string `yaml:"primary_key"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	EndpointPath   string `yaml:"endpoint_path"`
	MaxConnections int    `yaml:"max_connections"`

	// Heartbeat is the server ping interval in milliseconds.
	Heartbeat int `yaml:"heartbeat_ms"`
}

// ContainerConfig configures provisioning of broker containers.
type ContainerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Image           string        `yaml:"image"`
	MemoryMB        int           `yaml:"memory_mb"`
	MinMemoryMB     int           `yaml:"min_memory_mb"`
	MaxMemoryMB     int           `yaml:"max_memory_mb"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// Readiness polling after a container starts.
	ReadyInitial    time.Duration `yaml:"ready_initial"`
	ReadyMaxBackoff time.Duration `yaml:"ready_max_backoff"`
	ReadyMaxWait    time.Duration `yaml:"ready_max_wait"`
}

// ListenerConfig configures the queue consumer.
type ListenerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Queues  []string `yaml:"queues"`
}

// BreakerConfig configures the per-host circuit breaker of the HTTP relay.
type BreakerConfig struct {
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// RateLimitConfig throttles the HTTP relay per target host.
type RateLimitConfig struct {
	// PerHost is requests per second per host. Zero disables throttling.
	PerHost int `yaml:"per_host"`
}

// DefaultQueues are consumed by the listener when none are configured.
var DefaultQueues = []string{"generic-messages-queue", "notifications", "user-notifications"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    60 * time.Second,
		},
		Queue: QueueConfig{
			PrimaryKey:        "rabbitmq-local",
			Host:              "localhost",
			Port:              5672,
			ManagementPort:    15672,
			Username:          "guest",
			Password:          "guest",
			VirtualHost:       "/",
			ConnectionTimeout: 30 * time.Second,
			Heartbeat:         60 * time.Second,
		},
		Socket: SocketConfig{
			PrimaryKey:     "websocket-local",
			Host:           "localhost",
			Port:           8080,
			EndpointPath:   "/ws",
			MaxConnections: 1000,
			Heartbeat:      60000,
		},
		Container: ContainerConfig{
			Image:           "rabbitmq:3-management",
			MemoryMB:        512,
			MinMemoryMB:     128,
			MaxMemoryMB:     8192,
			ConnectTimeout:  30 * time.Second,
			ResponseTimeout: 45 * time.Second,
			ReadyInitial:    500 * time.Millisecond,
			ReadyMaxBackoff: 4 * time.Second,
			ReadyMaxWait:    8 * time.Second,
		},
		Listener: ListenerConfig{
			Queues: append([]string(nil), DefaultQueues...),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.HTTP.ConnectTimeout <= 0 {
		add("http.connect_timeout", "must be positive")
	}
	if c.HTTP.ReadTimeout <= 0 {
		add("http.read_timeout", "must be positive")
	}
	if strings.TrimSpace(c.Queue.PrimaryKey) == "" {
		add("queue.primary_key", "must not be blank")
	}
	if !validPort(c.Queue.Port) {
		add("queue.port", "must be between 1 and 65535, got %d", c.Queue.Port)
	}
	if !validPort(c.Queue.ManagementPort) {
		add("queue.management_port", "must be between 1 and 65535, got %d", c.Queue.ManagementPort)
	}
	if strings.TrimSpace(c.Socket.PrimaryKey) == "" {
		add("socket.primary_key", "must not be blank")
	}
	if c.Socket.PrimaryKey == c.Queue.PrimaryKey && c.Socket.PrimaryKey != "" {
		add("socket.primary_key", "must differ from queue.primary_key")
	}
	if !strings.HasPrefix(c.Socket.EndpointPath, "/") {
		add("socket.endpoint_path", "must start with /")
	}
	if c.Socket.MaxConnections <= 0 {
		add("socket.max_connections", "must be positive")
	}
	if c.Container.MinMemoryMB <= 0 || c.Container.MinMemoryMB > c.Container.MaxMemoryMB {
		add("container.min_memory_mb", "must be positive and at most max_memory_mb")
	}
	if c.Container.MemoryMB < c.Container.MinMemoryMB || c.Container.MemoryMB > c.Container.MaxMemoryMB {
		add("container.memory_mb", "must be between %d and %d, got %d",
			c.Container.MinMemoryMB, c.Container.MaxMemoryMB, c.Container.MemoryMB)
	}
	if c.Container.Enabled && strings.TrimSpace(c.Container.Image) == "" {
		add("container.image", "must not be blank when containers are enabled")
	}
	if c.Breaker.ConsecutiveFailures < 0 {
		add("breaker.consecutive_failures", "must not be negative")
	}
	if c.RateLimit.PerHost < 0 {
		add("rate_limit.per_host", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }
