package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/message"
)

// messageModel is the JSON representation stored in Redis.
type messageModel struct {
	ID        string            `json:"id"`
	Protocol  string            `json:"protocol"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Version   string            `json:"version"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body"`
	Sender    string            `json:"sender"`
	GroupID   string            `json:"group_id"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toMessageModel(rec *message.Record) *messageModel {
	return &messageModel{
		ID:        rec.ID.String(),
		Protocol:  string(rec.Protocol),
		Method:    rec.Method,
		URL:       rec.URL,
		Version:   rec.Version,
		Headers:   rec.Headers,
		Body:      rec.Body,
		Sender:    rec.Sender,
		GroupID:   rec.GroupID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func fromMessageModel(m *messageModel) (*message.Record, error) {
	recID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse message ID %q: %w", m.ID, err)
	}
	headers := message.Headers(m.Headers)
	if headers == nil {
		headers = message.Headers{}
	}
	return &message.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       recID,
		Protocol: message.Protocol(m.Protocol),
		Method:   m.Method,
		URL:      m.URL,
		Version:  m.Version,
		Headers:  headers,
		Body:     m.Body,
		Sender:   m.Sender,
		GroupID:  m.GroupID,
		Status:   message.Status(m.Status),
	}, nil
}

func (s *Store) SaveMessage(ctx context.Context, rec *message.Record) error {
	m := toMessageModel(rec)
	if err := s.setEntity(ctx, entityKey(prefixMessage, m.ID), m); err != nil {
		return fmt.Errorf("courier/redis: save message: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zMessageAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zMessageProtocol+m.Protocol, goredis.Z{Score: score, Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: save message indexes: %w", err)
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, rec *message.Record) error {
	return s.modifyMessage(ctx, rec.ID, func(m *messageModel) {
		m.Status = string(rec.Status)
		m.Body = rec.Body
		m.Headers = rec.Headers
	})
}

func (s *Store) UpdateMessageStatus(ctx context.Context, recID id.ID, status message.Status) error {
	return s.modifyMessage(ctx, recID, func(m *messageModel) {
		m.Status = string(status)
	})
}

// modifyMessage loads a record, applies fn and writes it back.
func (s *Store) modifyMessage(ctx context.Context, recID id.ID, fn func(*messageModel)) error {
	key := entityKey(prefixMessage, recID.String())

	var m messageModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return message.ErrNotFound
		}
		return fmt.Errorf("courier/redis: update message get: %w", err)
	}

	fn(&m)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("courier/redis: update message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, recID id.ID) (*message.Record, error) {
	var m messageModel
	if err := s.getEntity(ctx, entityKey(prefixMessage, recID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, message.ErrNotFound
		}
		return nil, fmt.Errorf("courier/redis: get message: %w", err)
	}
	return fromMessageModel(&m)
}

func (s *Store) ListMessages(ctx context.Context, opts message.ListOpts) ([]*message.Record, error) {
	zKey := zMessageAll
	if opts.Protocol != "" {
		zKey = zMessageProtocol + string(opts.Protocol)
	}

	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	// Members are newest first since record IDs sort by creation time.
	ids, err := s.rdb.ZRevRange(ctx, zKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list messages: %w", err)
	}

	result := make([]*message.Record, 0, len(ids))
	for _, entryID := range ids {
		var m messageModel
		if err := s.getEntity(ctx, entityKey(prefixMessage, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := fromMessageModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) CountMessages(ctx context.Context, protocol message.Protocol) (int64, error) {
	zKey := zMessageAll
	if protocol != "" {
		zKey = zMessageProtocol + string(protocol)
	}
	count, err := s.rdb.ZCard(ctx, zKey).Result()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: count messages: %w", err)
	}
	return count, nil
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

// CountMessagesByStatus scans every record; status has no index because it
// changes after the record is written.
func (s *Store) CountMessagesByStatus(ctx context.Context) (map[message.Status]int64, error) {
	ids, err := s.rdb.ZRange(ctx, zMessageAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: count by status: %w", err)
	}

	out := make(map[message.Status]int64)
	for _, entryID := range ids {
		var m messageModel
		if err := s.getEntity(ctx, entityKey(prefixMessage, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out[message.Status(m.Status)]++
	}
	return out, nil
}

func (s *Store) DeleteAllMessages(ctx context.Context) error {
	ids, err := s.rdb.ZRange(ctx, zMessageAll, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: delete messages: %w", err)
	}

	for _, entryID := range ids {
		if err := s.kv.Delete(ctx, entityKey(prefixMessage, entryID)); err != nil && !isNotFound(err) {
			return fmt.Errorf("courier/redis: delete message %s: %w", entryID, err)
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, zMessageAll)
	for _, p := range message.Protocols {
		pipe.Del(ctx, zMessageProtocol+string(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete message indexes: %w", err)
	}
	return nil
}
