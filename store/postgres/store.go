package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("courier/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("courier/postgres: %w: %w", courier.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Message Store ====================

func (s *Store) SaveMessage(ctx context.Context, rec *message.Record) error {
	_, err := s.pg.NewInsert(toMessageModel(rec)).Exec(ctx)
	return err
}

func (s *Store) UpdateMessage(ctx context.Context, rec *message.Record) error {
	headers, err := json.Marshal(map[string]string(rec.Headers))
	if err != nil {
		return fmt.Errorf("courier/postgres: encode headers: %w", err)
	}
	res, err := s.pg.NewUpdate((*messageModel)(nil)).
		Set("status = $1", string(rec.Status)).
		Set("body = $2", rec.Body).
		Set("headers = $3::jsonb", string(headers)).
		Set("updated_at = $4", time.Now().UTC()).
		Where("id = $5", rec.ID.String()).
		Exec(ctx)
	return affected(res, err, message.ErrNotFound)
}

func (s *Store) UpdateMessageStatus(ctx context.Context, recID id.ID, status message.Status) error {
	res, err := s.pg.NewUpdate((*messageModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", recID.String()).
		Exec(ctx)
	return affected(res, err, message.ErrNotFound)
}

func (s *Store) GetMessage(ctx context.Context, recID id.ID) (*message.Record, error) {
	m := new(messageModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, message.ErrNotFound
		}
		return nil, err
	}
	return fromMessageModel(m)
}

func (s *Store) ListMessages(ctx context.Context, opts message.ListOpts) ([]*message.Record, error) {
	var models []messageModel
	q := s.pg.NewSelect(&models)
	if opts.Protocol != "" {
		q = q.Where("protocol = $1", string(opts.Protocol))
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*message.Record, len(models))
	for i := range models {
		rec, err := fromMessageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountMessages(ctx context.Context, protocol message.Protocol) (int64, error) {
	q := s.pg.NewSelect((*messageModel)(nil))
	if protocol != "" {
		q = q.Where("protocol = $1", string(protocol))
	}
	return q.Count(ctx)
}

func (s *Store) CountMessagesByProtocol(ctx context.Context) (map[message.Protocol]int64, error) {
	out := make(map[message.Protocol]int64, len(message.Protocols))
	for _, p := range message.Protocols {
		n, err := s.CountMessages(ctx, p)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[p] = n
		}
	}
	return out, nil
}

func (s *Store) CountMessagesByStatus(ctx context.Context) (map[message.Status]int64, error) {
	out := make(map[message.Status]int64, len(message.Statuses))
	for _, st := range message.Statuses {
		n, err := s.pg.NewSelect((*messageModel)(nil)).
			Where("status = $1", string(st)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[st] = n
		}
	}
	return out, nil
}

func (s *Store) DeleteAllMessages(ctx context.Context) error {
	_, err := s.pg.NewDelete((*messageModel)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

// ==================== Broker Store ====================

func (s *Store) CreateBroker(ctx context.Context, d *broker.Descriptor) error {
	_, err := s.pg.NewInsert(toBrokerModel(d)).Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", broker.ErrConflict, d.Key)
	}
	return err
}

func (s *Store) GetBroker(ctx context.Context, family broker.Family, key string) (*broker.Descriptor, error) {
	m := new(brokerModel)
	err := s.pg.NewSelect(m).
		Where("family = $1", string(family)).
		Where("broker_key = $2", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, broker.ErrNotFound
		}
		return nil, err
	}
	return fromBrokerModel(m)
}

func (s *Store) UpdateBroker(ctx context.Context, d *broker.Descriptor) error {
	m := toBrokerModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
		WherePK().
		Exec(ctx)
	return affected(res, err, broker.ErrNotFound)
}

func (s *Store) DeleteBroker(ctx context.Context, brokerID id.ID) error {
	res, err := s.pg.NewDelete((*brokerModel)(nil)).
		Where("id = $1", brokerID.String()).
		Exec(ctx)
	return affected(res, err, broker.ErrNotFound)
}

func (s *Store) ListBrokers(ctx context.Context, family broker.Family, opts broker.ListOpts) ([]*broker.Descriptor, error) {
	var models []brokerModel
	q := s.pg.NewSelect(&models).
		Where("family = $1", string(family))
	if opts.ActiveOnly {
		q = q.Where("is_active = true")
	}
	q = q.OrderExpr("broker_key ASC")
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*broker.Descriptor, len(models))
	for i := range models {
		d, err := fromBrokerModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

type rowsResult interface {
	RowsAffected() (int64, error)
}

// affected maps a zero-row write to notFound.
func affected(res rowsResult, err, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
