package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors.
var (
	// ErrNotFound is returned when no active broker matches a key.
	ErrNotFound = errors.New("courier: broker not found")

	// ErrConflict is returned when registering a key that is already active.
	ErrConflict = errors.New("courier: broker key already registered")

	// ErrPrimaryProtected is returned for any attempt to deactivate or remove
	// the primary broker.
	ErrPrimaryProtected = errors.New("courier: primary broker cannot be removed")

	// ErrInvalidKey is returned when a broker key does not match the key format.
	ErrInvalidKey = errors.New("courier: invalid broker key")
)

// NotFoundError reports a missing broker together with the keys that are
// available, so callers can correct the request.
type NotFoundError struct {
	Family    Family
	Key       string
	Available []string
}

func (e *NotFoundError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("%s broker not found: %s. Available brokers: %s",
		strings.ToLower(string(e.Family)), e.Key, available)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
