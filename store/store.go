// Package store defines the composite Store interface for all Courier persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them.
package store

import (
	"context"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/message"
)

// Store is the aggregate persistence interface.
type Store interface {
	message.Store
	broker.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
