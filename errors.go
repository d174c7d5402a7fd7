package courier

import (
	"errors"
	"strings"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/container"
	"github.com/xraph/courier/message"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Courier is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("courier: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("courier: migration failed")

	// ErrMessageNotFound is returned when a message record cannot be found.
	ErrMessageNotFound = message.ErrNotFound

	// ErrBrokerNotFound is returned when no active broker matches a key.
	ErrBrokerNotFound = broker.ErrNotFound

	// ErrBrokerConflict is returned when a broker key is already registered.
	ErrBrokerConflict = broker.ErrConflict

	// ErrPrimaryProtected is returned when removing a primary broker.
	ErrPrimaryProtected = broker.ErrPrimaryProtected

	// ErrInvalidBrokerKey is returned for malformed broker keys.
	ErrInvalidBrokerKey = broker.ErrInvalidKey

	// ErrContainerExists is returned when a broker container name is taken.
	ErrContainerExists = container.ErrExists

	// ErrContainerNotFound is returned when a broker container does not exist.
	ErrContainerNotFound = container.ErrNotFound
)

// ValidationError describes one malformed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found in a request.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return "courier: validation failed: " + strings.Join(msgs, "; ")
}

// Fields maps each invalid field to its message.
func (v ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		out[e.Field] = e.Message
	}
	return out
}

// IsValidation reports whether err carries validation errors.
func IsValidation(err error) bool {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var single ValidationError
	return errors.As(err, &single)
}
