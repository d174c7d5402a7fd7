package message

import (
	"context"
	"errors"

	"github.com/xraph/courier/id"
)

// ErrNotFound is returned when a record cannot be found.
var ErrNotFound = errors.New("courier: message not found")

// Store defines the persistence contract for message records. Every write
// touches a single record; no operation spans more than one row.
type Store interface {
	// SaveMessage persists a new record.
	SaveMessage(ctx context.Context, rec *Record) error

	// UpdateMessage replaces the mutable fields (status, body, headers) of a record.
	UpdateMessage(ctx context.Context, rec *Record) error

	// UpdateMessageStatus sets the status of a record. Returns ErrNotFound when
	// no record has the given ID.
	UpdateMessageStatus(ctx context.Context, recID id.ID, status Status) error

	// GetMessage returns a record by ID.
	GetMessage(ctx context.Context, recID id.ID) (*Record, error)

	// ListMessages returns records newest first, optionally filtered by protocol.
	ListMessages(ctx context.Context, opts ListOpts) ([]*Record, error)

	// CountMessages counts records, optionally filtered by protocol.
	CountMessages(ctx context.Context, protocol Protocol) (int64, error)

	// CountMessagesByProtocol groups record counts by protocol.
	CountMessagesByProtocol(ctx context.Context) (map[Protocol]int64, error)

	// CountMessagesByStatus groups record counts by status.
	CountMessagesByStatus(ctx context.Context) (map[Status]int64, error)

	// DeleteAllMessages bulk-clears every record.
	DeleteAllMessages(ctx context.Context) error
}
