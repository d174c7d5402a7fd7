package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/courier/container"
)

// Readiness bounds the wait between a container start and its first
// successful probe.
type Readiness struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultReadiness polls from 500ms up to 4s apart and gives up after 8s.
func DefaultReadiness() Readiness {
	return Readiness{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
		MaxElapsed:      8 * time.Second,
	}
}

func (r Readiness) withDefaults() Readiness {
	def := DefaultReadiness()
	if r.InitialInterval <= 0 {
		r.InitialInterval = def.InitialInterval
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = def.MaxInterval
	}
	if r.MaxElapsed <= 0 {
		r.MaxElapsed = def.MaxElapsed
	}
	return r
}

// CreateInput requests a queue broker, optionally provisioned in a container.
type CreateInput struct {
	Key            string `json:"brokerKey"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	ManagementPort int    `json:"managementPort,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	VirtualHost    string `json:"virtualHost,omitempty"`
	AutoCreate     bool   `json:"autoCreateContainer,omitempty"`
	Image          string `json:"image,omitempty"`
	MemoryLimitMB  int    `json:"memoryLimitMb,omitempty"`
	DisableRestart bool   `json:"disableRestart,omitempty"`
}

// CreationResult reports the outcome of Create. Provisioning failures are
// reported here rather than as errors.
type CreationResult struct {
	Success          bool        `json:"success"`
	Broker           *Descriptor `json:"broker,omitempty"`
	ContainerCreated bool        `json:"dockerCreated"`
	ManagementURL    string      `json:"managementUI,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// DetailedBroker pairs a descriptor with the live status of its container.
type DetailedBroker struct {
	*Descriptor
	ContainerState container.State `json:"containerStatus,omitempty"`
}

// Listing is the result of ListDetailed.
type Listing struct {
	Brokers    []DetailedBroker `json:"brokers"`
	Statistics *Statistics      `json:"statistics"`
}

// Lifecycle creates and removes brokers together with their containers.
type Lifecycle struct {
	registry *Registry
	logger   *slog.Logger
}

// NewLifecycle wraps a registry with container-aware creation.
func NewLifecycle(registry *Registry, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{registry: registry, logger: logger}
}

// Registry returns the wrapped registry.
func (l *Lifecycle) Registry() *Registry { return l.registry }

// Create registers a broker. With AutoCreate a container is provisioned first
// and the broker is registered once it accepts connections or the readiness
// wait runs out. An existing active key fails with ErrConflict before any
// container work.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (*CreationResult, error) {
	if !ValidKey(in.Key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, in.Key)
	}
	if _, err := l.registry.FindActiveByKey(ctx, in.Key); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, in.Key)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	reg := Input{
		Key:            in.Key,
		Host:           in.Host,
		Port:           in.Port,
		ManagementPort: in.ManagementPort,
		Username:       in.Username,
		Password:       in.Password,
		VirtualHost:    in.VirtualHost,
	}

	res := &CreationResult{}
	if in.AutoCreate {
		handle, failure, err := l.provision(ctx, in)
		if err != nil {
			return nil, err
		}
		if failure != "" {
			res.Error = failure
			return res, nil
		}
		res.ContainerCreated = true
		reg.Host = handle.Host
		reg.Port = handle.Port
		reg.ManagementPort = handle.ManagementPort
		reg.Username = handle.Username
		reg.Password = handle.Password
		reg.VirtualHost = handle.VirtualHost
		reg.ContainerManaged = true
		reg.ContainerID = handle.ID
		reg.ContainerName = handle.Name

		l.awaitReady(ctx, l.registry.descriptorFromInput(reg))
	}

	d, err := l.registry.Register(ctx, reg)
	if err != nil {
		if res.ContainerCreated {
			l.registry.config.Containers.Teardown(ctx, in.Key)
		}
		return nil, err
	}

	health := HealthOffline
	if l.registry.TestConnection(ctx, d) {
		health = HealthOnline
	}
	if err := l.registry.UpdateHealth(ctx, d.Key, health); err != nil {
		l.logger.WarnContext(ctx, "health update failed", "broker_key", d.Key, "error", err)
	} else {
		now := time.Now().UTC()
		d.Health = health
		d.LastHealthCheck = &now
	}

	res.Success = true
	res.Broker = d
	if d.ManagementPort > 0 {
		res.ManagementURL = "http://localhost:" + strconv.Itoa(d.ManagementPort)
	}
	return res, nil
}

// provision returns either a handle, a failure message for the caller, or an
// error that must abort creation.
func (l *Lifecycle) provision(ctx context.Context, in CreateInput) (*container.Handle, string, error) {
	containers := l.registry.config.Containers
	if containers == nil {
		return nil, "container management is not enabled", nil
	}

	result := containers.Provision(ctx, container.Spec{
		Key:            in.Key,
		Image:          in.Image,
		Port:           in.Port,
		ManagementPort: in.ManagementPort,
		Username:       in.Username,
		Password:       in.Password,
		VirtualHost:    in.VirtualHost,
		MemoryMB:       in.MemoryLimitMB,
		DisableRestart: in.DisableRestart,
	})
	if errors.Is(result.Err, container.ErrExists) {
		return nil, "", fmt.Errorf("%w: container %s already exists", ErrConflict, container.Name(in.Key))
	}
	if !result.Success {
		l.logger.WarnContext(ctx, "container provisioning failed", "broker_key", in.Key, "error", result.Error)
		return nil, "Failed to create Docker container: " + result.Error, nil
	}
	return result.Handle, "", nil
}

// awaitReady polls the broker with exponential backoff until a probe succeeds
// or the readiness window closes. Running out of time is not an error; the
// broker is registered and reported OFFLINE.
func (l *Lifecycle) awaitReady(ctx context.Context, d *Descriptor) {
	cfg := l.registry.config.Readiness
	if l.registry.config.Prober == nil {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	start := time.Now()
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, l.registry.config.Prober.Probe(ctx, d)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(cfg.MaxElapsed))

	if err != nil {
		l.logger.WarnContext(ctx, "broker not ready within wait window",
			"broker_key", d.Key, "attempts", attempts, "waited", time.Since(start), "error", err)
		return
	}
	l.logger.InfoContext(ctx, "broker ready", "broker_key", d.Key, "attempts", attempts, "waited", time.Since(start))
}

// Remove deactivates key. See Registry.Deactivate.
func (l *Lifecycle) Remove(ctx context.Context, key string) error {
	return l.registry.Deactivate(ctx, key)
}

// ListDetailed returns the active brokers with their container status.
func (l *Lifecycle) ListDetailed(ctx context.Context) (*Listing, error) {
	list, err := l.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := l.registry.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	out := &Listing{Brokers: make([]DetailedBroker, 0, len(list)), Statistics: stats}
	for _, d := range list {
		db := DetailedBroker{Descriptor: d}
		if d.ContainerManaged && l.registry.config.Containers != nil {
			db.ContainerState = l.registry.config.Containers.Status(ctx, d.Key)
		}
		out.Brokers = append(out.Brokers, db)
	}
	return out, nil
}
