package broker

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store defines the persistence contract for broker descriptors.
type Store interface {
	// CreateBroker persists a new descriptor.
	CreateBroker(ctx context.Context, d *Descriptor) error

	// GetBroker returns the descriptor of a family with the given key, active
	// or not. Returns ErrNotFound when none exists.
	GetBroker(ctx context.Context, family Family, key string) (*Descriptor, error)

	// UpdateBroker replaces a descriptor.
	UpdateBroker(ctx context.Context, d *Descriptor) error

	// DeleteBroker removes a descriptor permanently.
	DeleteBroker(ctx context.Context, brokerID id.ID) error

	// ListBrokers returns descriptors of a family ordered by key.
	ListBrokers(ctx context.Context, family Family, opts ListOpts) ([]*Descriptor, error)
}
