package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
)

// CreateBroker persists a new descriptor.
func (s *Store) CreateBroker(ctx context.Context, d *broker.Descriptor) error {
	_, err := s.mdb.NewInsert(toBrokerModel(d)).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", broker.ErrConflict, d.Key)
		}
		return fmt.Errorf("courier/mongo: create broker: %w", err)
	}
	return nil
}

// GetBroker returns the descriptor of a family with the given key.
func (s *Store) GetBroker(ctx context.Context, family broker.Family, key string) (*broker.Descriptor, error) {
	var m brokerModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"family": string(family), "broker_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, broker.ErrNotFound
		}
		return nil, fmt.Errorf("courier/mongo: get broker: %w", err)
	}
	return fromBrokerModel(&m)
}

// UpdateBroker replaces a descriptor.
func (s *Store) UpdateBroker(ctx context.Context, d *broker.Descriptor) error {
	m := toBrokerModel(d)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: update broker: %w", err)
	}
	if res.MatchedCount() == 0 {
		return broker.ErrNotFound
	}
	return nil
}

// DeleteBroker removes a descriptor permanently.
func (s *Store) DeleteBroker(ctx context.Context, brokerID id.ID) error {
	res, err := s.mdb.NewDelete((*brokerModel)(nil)).
		Filter(bson.M{"_id": brokerID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/mongo: delete broker: %w", err)
	}
	if res.DeletedCount() == 0 {
		return broker.ErrNotFound
	}
	return nil
}

// ListBrokers returns descriptors of a family ordered by key.
func (s *Store) ListBrokers(ctx context.Context, family broker.Family, opts broker.ListOpts) ([]*broker.Descriptor, error) {
	var models []brokerModel

	filter := bson.M{"family": string(family)}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	if err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "broker_key", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("courier/mongo: list brokers: %w", err)
	}

	result := make([]*broker.Descriptor, 0, len(models))
	for i := range models {
		d, err := fromBrokerModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}
