package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("courier/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("courier/sqlite: %w: %w", courier.ErrMigrationFailed, err)
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
	_, err := s.sdb.NewInsert(toMessageModel(rec)).Exec(ctx)
	return err
}

func (s *Store) UpdateMessage(ctx context.Context, rec *message.Record) error {
	headers, err := json.Marshal(map[string]string(rec.Headers))
	if err != nil {
		return fmt.Errorf("courier/sqlite: encode headers: %w", err)
	}
	res, err := s.sdb.NewUpdate((*messageModel)(nil)).
		Set("status = ?", string(rec.Status)).
		Set("body = ?", rec.Body).
		Set("headers = ?", string(headers)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", rec.ID.String()).
		Exec(ctx)
	return affected(res, err, message.ErrNotFound)
}

func (s *Store) UpdateMessageStatus(ctx context.Context, recID id.ID, status message.Status) error {
	res, err := s.sdb.NewUpdate((*messageModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", recID.String()).
		Exec(ctx)
	return affected(res, err, message.ErrNotFound)
}

func (s *Store) GetMessage(ctx context.Context, recID id.ID) (*message.Record, error) {
	m := new(messageModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recID.String()).
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
	q := s.sdb.NewSelect(&models)
	if opts.Protocol != "" {
		q = q.Where("protocol = ?", string(opts.Protocol))
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
	q := s.sdb.NewSelect((*messageModel)(nil))
	if protocol != "" {
		q = q.Where("protocol = ?", string(protocol))
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
		n, err := s.sdb.NewSelect((*messageModel)(nil)).
			Where("status = ?", string(st)).
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
	_, err := s.sdb.NewDelete((*messageModel)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

// ==================== Broker Store ====================

func (s *Store) CreateBroker(ctx context.Context, d *broker.Descriptor) error {
	_, err := s.sdb.NewInsert(toBrokerModel(d)).Exec(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", broker.ErrConflict, d.Key)
	}
	return err
}

func (s *Store) GetBroker(ctx context.Context, family broker.Family, key string) (*broker.Descriptor, error) {
	m := new(brokerModel)
	err := s.sdb.NewSelect(m).
		Where("family = ?", string(family)).
		Where("broker_key = ?", key).
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
	res, err := s.sdb.NewUpdate(m).
		WherePK().
		Exec(ctx)
	return affected(res, err, broker.ErrNotFound)
}

func (s *Store) DeleteBroker(ctx context.Context, brokerID id.ID) error {
	res, err := s.sdb.NewDelete((*brokerModel)(nil)).
		Where("id = ?", brokerID.String()).
		Exec(ctx)
	return affected(res, err, broker.ErrNotFound)
}

func (s *Store) ListBrokers(ctx context.Context, family broker.Family, opts broker.ListOpts) ([]*broker.Descriptor, error) {
	var models []brokerModel
	q := s.sdb.NewSelect(&models).
		Where("family = ?", string(family))
	if opts.ActiveOnly {
		q = q.Where("is_active = 1")
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

// isUniqueViolation matches SQLite's constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
