// Package container provisions and tears down the Docker containers that host
// courier-managed queue brokers.
//
// Containers are named "rabbitmq-{brokerKey}" so that every operation can find
// its container again by key alone, across restarts of courier itself.
package container

import (
	"errors"
	"time"
)

// NamePrefix is prepended to broker keys to derive container names.
const NamePrefix = "rabbitmq-"

// Container ports exposed by the broker image.
const (
	AMQPPort       = 5672
	ManagementPort = 15672
)

// Errors reported inside Result.Err.
var (
	// ErrExists is reported when a container with the derived name already exists.
	ErrExists = errors.New("courier: container already exists")

	// ErrNotFound is reported when no container carries the derived name.
	ErrNotFound = errors.New("courier: container not found")

	// ErrInvalidMemory is reported when a memory limit is outside the allowed range.
	ErrInvalidMemory = errors.New("courier: container memory limit out of range")
)

// Name returns the container name for a broker key.
func Name(key string) string {
	return NamePrefix + key
}

// State is the runtime state of a broker container.
type State string

// Container states as seen by courier.
const (
	StateRunning  State = "RUNNING"
	StateStopped  State = "STOPPED"
	StateCreated  State = "CREATED"
	StateUnknown  State = "UNKNOWN"
	StateNotFound State = "NOT_FOUND"
	StateError    State = "ERROR"
)

// MapState translates a Docker state string into a State.
func MapState(runtime string) State {
	switch runtime {
	case "running", "restarting":
		return StateRunning
	case "exited", "paused":
		return StateStopped
	case "created":
		return StateCreated
	default:
		return StateUnknown
	}
}

// Spec describes a broker container to provision.
type Spec struct {
	Key            string
	Image          string
	Port           int
	ManagementPort int
	Username       string
	Password       string
	VirtualHost    string
	MemoryMB       int

	// DisableRestart selects restart policy "no" instead of "unless-stopped".
	DisableRestart bool
}

// Handle is the runtime view of a provisioned container. It is never persisted;
// descriptors keep only the ID and name.
type Handle struct {
	ID             string `json:"containerId"`
	Name           string `json:"containerName"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ManagementPort int    `json:"managementPort"`
	Username       string `json:"username"`
	Password       string `json:"-"`
	VirtualHost    string `json:"virtualHost"`
	State          State  `json:"state"`
}

// Result is the outcome of a provisioning attempt. Failures are reported here
// rather than as returned errors.
type Result struct {
	Success  bool          `json:"success"`
	Handle   *Handle       `json:"container,omitempty"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

func failure(err error, h *Handle, started time.Time) Result {
	return Result{Error: err.Error(), Err: err, Handle: h, Duration: time.Since(started)}
}
