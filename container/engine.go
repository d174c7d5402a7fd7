package container

import (
	"context"
	"time"
)

// Restart policies understood by engines.
const (
	RestartUnlessStopped = "unless-stopped"
	RestartNo            = "no"
)

// Engine is the narrow slice of a container runtime the Manager drives.
type Engine interface {
	// Ping checks that the runtime is reachable.
	Ping(ctx context.Context) error

	// Find returns the container with exactly the given name, running or not.
	// It returns nil and no error when there is none.
	Find(ctx context.Context, name string) (*Summary, error)

	// Create creates, but does not start, a container and returns its ID.
	Create(ctx context.Context, req CreateRequest) (string, error)

	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Remove(ctx context.Context, containerID string) error

	Close() error
}

// Summary is what Find reports about an existing container.
type Summary struct {
	ID    string
	Name  string
	State string
}

// CreateRequest is the engine-neutral container definition.
type CreateRequest struct {
	Name  string
	Image string
	Env   []string

	// Ports maps container ports to host ports (TCP).
	Ports map[int]int

	MemoryBytes   int64
	RestartPolicy string
}
