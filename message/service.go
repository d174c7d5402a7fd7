package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// DefaultPageSize is used when a listing asks for no explicit limit.
const DefaultPageSize = 20

// ErrInvalidTransition is returned when a status update would move a record
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("courier: invalid status transition")

// Service provides record persistence operations on top of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new message service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// NewRecord returns a record for protocol in its initial state, with a fresh
// ID, timestamps and version tag.
func NewRecord(protocol Protocol) *Record {
	return &Record{
		Entity:   entity.New(),
		ID:       id.NewMessageID(),
		Protocol: protocol,
		Version:  protocol.Version(),
		Headers:  Headers{},
		Status:   protocol.InitialStatus(),
	}
}

// Save persists a new record, assigning an ID and timestamps when missing.
func (svc *Service) Save(ctx context.Context, rec *Record) error {
	if !rec.Protocol.Valid() {
		return fmt.Errorf("message: invalid protocol %q", rec.Protocol)
	}
	if rec.ID.IsNil() {
		rec.ID = id.NewMessageID()
	}
	if rec.CreatedAt.IsZero() {
		rec.Entity = entity.New()
	}
	if rec.Status == "" {
		rec.Status = rec.Protocol.InitialStatus()
	}
	if rec.Headers == nil {
		rec.Headers = Headers{}
	}
	return svc.store.SaveMessage(ctx, rec)
}

// Update persists the mutable fields of rec.
func (svc *Service) Update(ctx context.Context, rec *Record) error {
	rec.Touch()
	return svc.store.UpdateMessage(ctx, rec)
}

// UpdateStatus moves the record with the given ID to status, rejecting
// transitions the state machine does not allow.
func (svc *Service) UpdateStatus(ctx context.Context, recID id.ID, status Status) error {
	rec, err := svc.store.GetMessage(ctx, recID)
	if err != nil {
		return err
	}
	if !CanTransition(rec.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}
	return svc.store.UpdateMessageStatus(ctx, recID, status)
}

// Get returns a record by ID.
func (svc *Service) Get(ctx context.Context, recID id.ID) (*Record, error) {
	return svc.store.GetMessage(ctx, recID)
}

// FindAll returns one page of records across all protocols.
func (svc *Service) FindAll(ctx context.Context, offset, limit int) (*Page, error) {
	return svc.page(ctx, ListOpts{Offset: offset, Limit: limit})
}

// FindByProtocol returns one page of records for the protocol named by tag.
// An unparseable tag yields an empty page so listing stays tolerant of typos.
func (svc *Service) FindByProtocol(ctx context.Context, tag string, offset, limit int) (*Page, error) {
	protocol, err := ParseProtocol(tag)
	if err != nil {
		svc.logger.DebugContext(ctx, "unknown protocol filter", "protocol", tag)
		return &Page{Items: []*Record{}, Offset: offset, Limit: normalizeLimit(limit)}, nil
	}
	return svc.page(ctx, ListOpts{Offset: offset, Limit: limit, Protocol: protocol})
}

func (svc *Service) page(ctx context.Context, opts ListOpts) (*Page, error) {
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Limit = normalizeLimit(opts.Limit)

	items, err := svc.store.ListMessages(ctx, opts)
	if err != nil {
		return nil, err
	}
	total, err := svc.store.CountMessages(ctx, opts.Protocol)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Record{}
	}
	return &Page{Items: items, Offset: opts.Offset, Limit: opts.Limit, Total: total}, nil
}

// Statistics returns record totals grouped by protocol and status.
func (svc *Service) Statistics(ctx context.Context) (*Statistics, error) {
	byProtocol, err := svc.store.CountMessagesByProtocol(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := svc.store.CountMessagesByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		ByProtocol: make(map[Protocol]int64, len(Protocols)),
		ByStatus:   make(map[Status]int64, len(Statuses)),
	}
	for _, p := range Protocols {
		stats.ByProtocol[p] = byProtocol[p]
		stats.Total += byProtocol[p]
	}
	for _, s := range Statuses {
		stats.ByStatus[s] = byStatus[s]
	}
	return stats, nil
}

// Clear bulk-deletes every record.
func (svc *Service) Clear(ctx context.Context) error {
	if err := svc.store.DeleteAllMessages(ctx); err != nil {
		return err
	}
	svc.logger.WarnContext(ctx, "all message records deleted")
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
