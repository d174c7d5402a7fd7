package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

// SaveMessage persists a new record.
func (s *Store) SaveMessage(ctx context.Context, rec *message.Record) error {
	if _, err := s.mdb.NewInsert(toMessageModel(rec)).Exec(ctx); err != nil {
		return fmt.Errorf("courier/mongo: save message: %w", err)
	}
	return nil
}

// UpdateMessage replaces the mutable fields of a record.
func (s *Store) UpdateMessage(ctx context.Context, rec *message.Record) error {
	res, err := s.mdb.NewUpdate((*messageModel)(nil)).
		Filter(bson.M{"_id": rec.ID.String()}).
		Set("status", string(rec.Status)).
		Set("body", rec.Body).
		Set("headers", map[string]string(rec.Headers)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update message: %w", err)
	}
	if res.MatchedCount() == 0 {
		return message.ErrNotFound
	}
	return nil
}

// UpdateMessageStatus sets the status of a record.
func (s *Store) UpdateMessageStatus(ctx context.Context, recID id.ID, status message.Status) error {
	res, err := s.mdb.NewUpdate((*messageModel)(nil)).
		Filter(bson.M{"_id": recID.String()}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update message status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return message.ErrNotFound
	}
	return nil
}

// GetMessage returns a record by ID.
func (s *Store) GetMessage(ctx context.Context, recID id.ID) (*message.Record, error) {
	var m messageModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, message.ErrNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get message: %w", err)
	}
	return fromMessageModel(&m)
}

// ListMessages returns records newest first, optionally filtered by protocol.
func (s *Store) ListMessages(ctx context.Context, opts message.ListOpts) ([]*message.Record, error) {
	var models []messageModel

	filter := bson.M{}
	if opts.Protocol != "" {
		filter["protocol"] = string(opts.Protocol)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list messages: %w", err)
	}

	result := make([]*message.Record, 0, len(models))
	for i := range models {
		rec, err := fromMessageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// CountMessages counts records, optionally filtered by protocol.
func (s *Store) CountMessages(ctx context.Context, protocol message.Protocol) (int64, error) {
	filter := bson.M{}
	if protocol != "" {
		filter["protocol"] = string(protocol)
	}
	count, err := s.mdb.NewFind((*messageModel)(nil)).
		Filter(filter).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/mongo: count messages: %w", err)
	}
	return count, nil
}

// CountMessagesByProtocol groups record counts by protocol.
func (s *Store) CountMessagesByProtocol(ctx context.Context) (map[message.Protocol]int64, error) {
	groups, err := s.groupCount(ctx, "protocol")
	if err != nil {
		return nil, err
	}
	out := make(map[message.Protocol]int64, len(groups))
	for k, n := range groups {
		out[message.Protocol(k)] = n
	}
	return out, nil
}

// CountMessagesByStatus groups record counts by status.
func (s *Store) CountMessagesByStatus(ctx context.Context) (map[message.Status]int64, error) {
	groups, err := s.groupCount(ctx, "status")
	if err != nil {
		return nil, err
	}
	out := make(map[message.Status]int64, len(groups))
	for k, n := range groups {
		out[message.Status(k)] = n
	}
	return out, nil
}

// groupCount runs a $group aggregation on field.
func (s *Store) groupCount(ctx context.Context, field string) (map[string]int64, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.mdb.Collection(colMessages).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("courier/mongo: count by %s: %w", field, err)
	}

	var rows []struct {
		Key   string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("courier/mongo: count by %s: %w", field, err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

// DeleteAllMessages removes every record.
func (s *Store) DeleteAllMessages(ctx context.Context) error {
	if _, err := s.mdb.Collection(colMessages).DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("courier/mongo: delete messages: %w", err)
	}
	return nil
}
