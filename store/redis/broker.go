package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// brokerModel is the JSON representation stored in Redis.
type brokerModel struct {
	ID               string            `json:"id"`
	Family           string            `json:"family"`
	Key              string            `json:"broker_key"`
	Host             string            `json:"host"`
	Port             int               `json:"port"`
	ManagementPort   int               `json:"management_port"`
	Username         string            `json:"username"`
	Password         string            `json:"password"`
	VirtualHost      string            `json:"virtual_host"`
	IsPrimary        bool              `json:"is_primary"`
	IsActive         bool              `json:"is_active"`
	ContainerManaged bool              `json:"container_managed"`
	ContainerID      string            `json:"container_id"`
	ContainerName    string            `json:"container_name"`
	Health           string            `json:"health"`
	LastHealthCheck  *time.Time        `json:"last_health_check,omitempty"`
	Params           map[string]string `json:"params,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toBrokerModel(d *broker.Descriptor) *brokerModel {
	return &brokerModel{
		ID:               d.ID.String(),
		Family:           string(d.Family),
		Key:              d.Key,
		Host:             d.Host,
		Port:             d.Port,
		ManagementPort:   d.ManagementPort,
		Username:         d.Username,
		Password:         d.Password,
		VirtualHost:      d.VirtualHost,
		IsPrimary:        d.Primary,
		IsActive:         d.Active,
		ContainerManaged: d.ContainerManaged,
		ContainerID:      d.ContainerID,
		ContainerName:    d.ContainerName,
		Health:           string(d.Health),
		LastHealthCheck:  d.LastHealthCheck,
		Params:           d.Params,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func fromBrokerModel(m *brokerModel) (*broker.Descriptor, error) {
	brokerID, err := id.ParseBrokerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse broker ID %q: %w", m.ID, err)
	}
	return &broker.Descriptor{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               brokerID,
		Family:           broker.Family(m.Family),
		Key:              m.Key,
		Host:             m.Host,
		Port:             m.Port,
		ManagementPort:   m.ManagementPort,
		Username:         m.Username,
		Password:         m.Password,
		VirtualHost:      m.VirtualHost,
		Primary:          m.IsPrimary,
		Active:           m.IsActive,
		ContainerManaged: m.ContainerManaged,
		ContainerID:      m.ContainerID,
		ContainerName:    m.ContainerName,
		Health:           broker.Health(m.Health),
		LastHealthCheck:  m.LastHealthCheck,
		Params:           m.Params,
	}, nil
}

func (s *Store) CreateBroker(ctx context.Context, d *broker.Descriptor) error {
	m := toBrokerModel(d)

	// Key uniqueness per family via SET NX.
	ok, err := s.rdb.SetNX(ctx, brokerKeyIndex(d.Family, m.Key), m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: create broker key check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrConflict, m.Key)
	}

	if err := s.setEntity(ctx, entityKey(prefixBroker, m.ID), m); err != nil {
		s.rdb.Del(ctx, brokerKeyIndex(d.Family, m.Key))
		return fmt.Errorf("courier/redis: create broker: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, zBrokerFamily+m.Family, goredis.Z{Score: 0, Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("courier/redis: create broker indexes: %w", err)
	}
	return nil
}

func (s *Store) GetBroker(ctx context.Context, family broker.Family, key string) (*broker.Descriptor, error) {
	entryID, err := s.rdb.Get(ctx, brokerKeyIndex(family, key)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, broker.ErrNotFound
		}
		return nil, fmt.Errorf("courier/redis: get broker lookup: %w", err)
	}

	var m brokerModel
	if err := s.getEntity(ctx, entityKey(prefixBroker, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, broker.ErrNotFound
		}
		return nil, fmt.Errorf("courier/redis: get broker: %w", err)
	}
	return fromBrokerModel(&m)
}

func (s *Store) UpdateBroker(ctx context.Context, d *broker.Descriptor) error {
	key := entityKey(prefixBroker, d.ID.String())

	var existing brokerModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return broker.ErrNotFound
		}
		return fmt.Errorf("courier/redis: update broker get: %w", err)
	}

	m := toBrokerModel(d)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("courier/redis: update broker: %w", err)
	}
	return nil
}

func (s *Store) DeleteBroker(ctx context.Context, brokerID id.ID) error {
	key := entityKey(prefixBroker, brokerID.String())

	var m brokerModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return broker.ErrNotFound
		}
		return fmt.Errorf("courier/redis: delete broker get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("courier/redis: delete broker: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, brokerKeyIndex(broker.Family(m.Family), m.Key))
	pipe.ZRem(ctx, zBrokerFamily+m.Family, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete broker indexes: %w", err)
	}
	return nil
}

func (s *Store) ListBrokers(ctx context.Context, family broker.Family, opts broker.ListOpts) ([]*broker.Descriptor, error) {
	ids, err := s.rdb.ZRange(ctx, zBrokerFamily+string(family), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: list brokers: %w", err)
	}

	result := make([]*broker.Descriptor, 0, len(ids))
	for _, entryID := range ids {
		var m brokerModel
		if err := s.getEntity(ctx, entityKey(prefixBroker, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.ActiveOnly && !m.IsActive {
			continue
		}
		d, err := fromBrokerModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}
