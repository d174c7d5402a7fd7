package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the defaults applied to every provisioning request.
type Config struct {
	// Image is the broker image, e.g. "rabbitmq:3-management".
	Image string

	// Host is the address clients use to reach published ports.
	Host string

	DefaultPort           int
	DefaultManagementPort int

	// MemoryMB is the default limit; MinMemoryMB and MaxMemoryMB bound requests.
	MemoryMB    int
	MinMemoryMB int
	MaxMemoryMB int

	DefaultUsername    string
	DefaultPassword    string
	DefaultVirtualHost string

	// StopTimeout bounds a graceful stop before the runtime kills the container.
	StopTimeout time.Duration
}

// DefaultConfig returns the stock RabbitMQ management image settings.
func DefaultConfig() Config {
	return Config{
		Image:                 "rabbitmq:3-management",
		Host:                  "localhost",
		DefaultPort:           AMQPPort,
		DefaultManagementPort: ManagementPort,
		MemoryMB:              512,
		MinMemoryMB:           128,
		MaxMemoryMB:           8192,
		DefaultUsername:       "guest",
		DefaultPassword:       "guest",
		DefaultVirtualHost:    "/",
		StopTimeout:           10 * time.Second,
	}
}

// Manager owns the single long-lived runtime handle and performs container
// lifecycle operations for broker keys.
type Manager struct {
	engine Engine
	config Config
	logger *slog.Logger
}

// NewManager creates a lifecycle manager around an already-connected engine.
func NewManager(engine Engine, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = def.DefaultPort
	}
	if cfg.DefaultManagementPort == 0 {
		cfg.DefaultManagementPort = def.DefaultManagementPort
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = def.MemoryMB
	}
	if cfg.MinMemoryMB == 0 {
		cfg.MinMemoryMB = def.MinMemoryMB
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = def.MaxMemoryMB
	}
	if cfg.DefaultUsername == "" {
		cfg.DefaultUsername = def.DefaultUsername
	}
	if cfg.DefaultPassword == "" {
		cfg.DefaultPassword = def.DefaultPassword
	}
	if cfg.DefaultVirtualHost == "" {
		cfg.DefaultVirtualHost = def.DefaultVirtualHost
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	return &Manager{engine: engine, config: cfg, logger: logger}
}

// Provision creates and starts a broker container for spec.Key.
//
// A container that was created but failed to start is reported as a failure
// with a CREATED handle so the caller can account for it; it is not retried.
func (m *Manager) Provision(ctx context.Context, spec Spec) Result {
	started := time.Now()
	name := Name(spec.Key)

	memoryMB := spec.MemoryMB
	if memoryMB == 0 {
		memoryMB = m.config.MemoryMB
	}
	if memoryMB < m.config.MinMemoryMB || memoryMB > m.config.MaxMemoryMB {
		return failure(fmt.Errorf("%w: %dMB (allowed %d-%dMB)",
			ErrInvalidMemory, memoryMB, m.config.MinMemoryMB, m.config.MaxMemoryMB), nil, started)
	}

	existing, err := m.engine.Find(ctx, name)
	if err != nil {
		m.logger.ErrorContext(ctx, "container lookup failed", "container", name, "error", err)
		return failure(fmt.Errorf("container: lookup %s: %w", name, err), nil, started)
	}
	if existing != nil {
		return failure(fmt.Errorf("%w: %s", ErrExists, name), nil, started)
	}

	h := &Handle{
		Name:           name,
		Host:           m.config.Host,
		Port:           orDefault(spec.Port, m.config.DefaultPort),
		ManagementPort: orDefault(spec.ManagementPort, m.config.DefaultManagementPort),
		Username:       orDefaultString(spec.Username, m.config.DefaultUsername),
		Password:       orDefaultString(spec.Password, m.config.DefaultPassword),
		VirtualHost:    orDefaultString(spec.VirtualHost, m.config.DefaultVirtualHost),
		State:          StateUnknown,
	}

	restart := RestartUnlessStopped
	if spec.DisableRestart {
		restart = RestartNo
	}

	req := CreateRequest{
		Name:  name,
		Image: orDefaultString(spec.Image, m.config.Image),
		Env: []string{
			"RABBITMQ_DEFAULT_USER=" + h.Username,
			"RABBITMQ_DEFAULT_PASS=" + h.Password,
			"RABBITMQ_DEFAULT_VHOST=" + h.VirtualHost,
			"RABBITMQ_MANAGEMENT_PATH_PREFIX=/",
		},
		Ports: map[int]int{
			AMQPPort:       h.Port,
			ManagementPort: h.ManagementPort,
		},
		MemoryBytes:   int64(memoryMB) * 1024 * 1024,
		RestartPolicy: restart,
	}

	containerID, err := m.engine.Create(ctx, req)
	if err != nil {
		m.logger.ErrorContext(ctx, "container create failed", "container", name, "error", err)
		return failure(fmt.Errorf("container: create %s: %w", name, err), nil, started)
	}
	h.ID = containerID
	h.State = StateCreated

	if err := m.engine.Start(ctx, containerID); err != nil {
		m.logger.ErrorContext(ctx, "container start failed",
			"container", name, "container_id", containerID, "error", err)
		return failure(fmt.Errorf("container: start %s: %w", name, err), h, started)
	}
	h.State = StateRunning

	m.logger.InfoContext(ctx, "container provisioned",
		"container", name,
		"container_id", containerID,
		"port", h.Port,
		"management_port", h.ManagementPort,
		"memory_mb", memoryMB,
	)

	return Result{Success: true, Handle: h, Duration: time.Since(started)}
}

// Teardown stops (when running) and removes the container for key. It
// reports false when the container does not exist or could not be removed.
// Removal is attempted exactly once.
func (m *Manager) Teardown(ctx context.Context, key string) bool {
	name := Name(key)

	existing, err := m.engine.Find(ctx, name)
	if err != nil {
		m.logger.ErrorContext(ctx, "container lookup failed", "container", name, "error", err)
		return false
	}
	if existing == nil {
		m.logger.WarnContext(ctx, "container not found for teardown", "container", name)
		return false
	}

	if MapState(existing.State) == StateRunning {
		if err := m.engine.Stop(ctx, existing.ID, m.config.StopTimeout); err != nil {
			m.logger.WarnContext(ctx, "container stop failed",
				"container", name, "container_id", existing.ID, "error", err)
		}
	}

	if err := m.engine.Remove(ctx, existing.ID); err != nil {
		m.logger.ErrorContext(ctx, "container remove failed",
			"container", name, "container_id", existing.ID, "error", err)
		return false
	}

	m.logger.InfoContext(ctx, "container removed", "container", name, "container_id", existing.ID)
	return true
}

// Status reports the state of the container for key. Runtime failures map to
// StateError, which is distinct from StateUnknown.
func (m *Manager) Status(ctx context.Context, key string) State {
	existing, err := m.engine.Find(ctx, Name(key))
	if err != nil {
		m.logger.WarnContext(ctx, "container status failed", "container", Name(key), "error", err)
		return StateError
	}
	if existing == nil {
		return StateNotFound
	}
	return MapState(existing.State)
}

// Exists reports whether a container for key exists, running or stopped.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	existing, err := m.engine.Find(ctx, Name(key))
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Ping checks the runtime connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.engine.Ping(ctx)
}

// Close releases the runtime handle.
func (m *Manager) Close() error {
	return m.engine.Close()
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
