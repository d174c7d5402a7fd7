// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
// Values are copied on the way in and out so callers never share state with
// the store.
type Store struct {
	mu sync.RWMutex

	messages map[string]*message.Record   // keyed by ID string
	brokers  map[string]*broker.Descriptor // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages: make(map[string]*message.Record),
		brokers:  make(map[string]*broker.Descriptor),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// message.Store
// ──────────────────────────────────────────────────

// SaveMessage persists a new record.
func (s *Store) SaveMessage(_ context.Context, rec *message.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	s.messages[rec.ID.String()] = cloneRecord(rec)
	return nil
}

// UpdateMessage replaces the mutable fields of a record.
func (s *Store) UpdateMessage(_ context.Context, rec *message.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.messages[rec.ID.String()]
	if !ok {
		return message.ErrNotFound
	}
	existing.Status = rec.Status
	existing.Body = rec.Body
	existing.Headers = rec.Headers.Clone()
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateMessageStatus sets the status of a record.
func (s *Store) UpdateMessageStatus(_ context.Context, recID id.ID, status message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.messages[recID.String()]
	if !ok {
		return message.ErrNotFound
	}
	existing.Status = status
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// GetMessage returns a record by ID.
func (s *Store) GetMessage(_ context.Context, recID id.ID) (*message.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.messages[recID.String()]
	if !ok {
		return nil, message.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// ListMessages returns records newest first, optionally filtered by protocol.
func (s *Store) ListMessages(_ context.Context, opts message.ListOpts) ([]*message.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*message.Record
	for _, rec := range s.messages {
		if opts.Protocol != "" && rec.Protocol != opts.Protocol {
			continue
		}
		result = append(result, cloneRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountMessages counts records, optionally filtered by protocol.
func (s *Store) CountMessages(_ context.Context, protocol message.Protocol) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.messages {
		if protocol == "" || rec.Protocol == protocol {
			n++
		}
	}
	return n, nil
}

// CountMessagesByProtocol groups record counts by protocol.
func (s *Store) CountMessagesByProtocol(_ context.Context) (map[message.Protocol]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[message.Protocol]int64)
	for _, rec := range s.messages {
		out[rec.Protocol]++
	}
	return out, nil
}

// CountMessagesByStatus groups record counts by status.
func (s *Store) CountMessagesByStatus(_ context.Context) (map[message.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[message.Status]int64)
	for _, rec := range s.messages {
		out[rec.Status]++
	}
	return out, nil
}

// DeleteAllMessages removes every record.
func (s *Store) DeleteAllMessages(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*message.Record)
	return nil
}

// ──────────────────────────────────────────────────
// broker.Store
// ──────────────────────────────────────────────────

// CreateBroker persists a new descriptor. Only one descriptor per family and
// key may exist.
func (s *Store) CreateBroker(_ context.Context, d *broker.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	if s.findBroker(d.Family, d.Key) != nil {
		return broker.ErrConflict
	}
	s.brokers[d.ID.String()] = cloneDescriptor(d)
	return nil
}

// GetBroker returns the descriptor of a family with the given key.
func (s *Store) GetBroker(_ context.Context, family broker.Family, key string) (*broker.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := s.findBroker(family, key)
	if d == nil {
		return nil, broker.ErrNotFound
	}
	return cloneDescriptor(d), nil
}

// UpdateBroker replaces a descriptor.
func (s *Store) UpdateBroker(_ context.Context, d *broker.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brokers[d.ID.String()]; !ok {
		return broker.ErrNotFound
	}
	updated := cloneDescriptor(d)
	updated.UpdatedAt = time.Now().UTC()
	s.brokers[d.ID.String()] = updated
	return nil
}

// DeleteBroker removes a descriptor permanently.
func (s *Store) DeleteBroker(_ context.Context, brokerID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brokers[brokerID.String()]; !ok {
		return broker.ErrNotFound
	}
	delete(s.brokers, brokerID.String())
	return nil
}

// ListBrokers returns descriptors of a family ordered by key.
func (s *Store) ListBrokers(_ context.Context, family broker.Family, opts broker.ListOpts) ([]*broker.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*broker.Descriptor
	for _, d := range s.brokers {
		if d.Family != family {
			continue
		}
		if opts.ActiveOnly && !d.Active {
			continue
		}
		result = append(result, cloneDescriptor(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (s *Store) findBroker(family broker.Family, key string) *broker.Descriptor {
	for _, d := range s.brokers {
		if d.Family == family && d.Key == key {
			return d
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func cloneRecord(rec *message.Record) *message.Record {
	cp := *rec
	cp.Headers = rec.Headers.Clone()
	return &cp
}

func cloneDescriptor(d *broker.Descriptor) *broker.Descriptor {
	cp := *d
	if d.Params != nil {
		cp.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			cp.Params[k] = v
		}
	}
	if d.LastHealthCheck != nil {
		t := *d.LastHealthCheck
		cp.LastHealthCheck = &t
	}
	return &cp
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
