package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/message"
)

// --- Message models ---

type messageModel struct {
	grove.BaseModel `grove:"table:courier_messages"`

	ID        string    `grove:"id,pk"`
	Protocol  string    `grove:"protocol"`
	Method    string    `grove:"method"`
	URL       string    `grove:"url"`
	Version   string    `grove:"version"`
	Headers   string    `grove:"headers"` // JSON object
	Body      string    `grove:"body"`
	Sender    string    `grove:"sender"`
	GroupID   string    `grove:"group_id"`
	Status    string    `grove:"status"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m) //nolint:errcheck // string maps always encode
	return string(b)
}

func decodeMap(s string) map[string]string {
	out := map[string]string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort
	}
	return out
}

func toMessageModel(rec *message.Record) *messageModel {
	return &messageModel{
		ID:        rec.ID.String(),
		Protocol:  string(rec.Protocol),
		Method:    rec.Method,
		URL:       rec.URL,
		Version:   rec.Version,
		Headers:   encodeMap(rec.Headers),
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
		Headers:  message.Headers(decodeMap(m.Headers)),
		Body:     m.Body,
		Sender:   m.Sender,
		GroupID:  m.GroupID,
		Status:   message.Status(m.Status),
	}, nil
}

// --- Broker models ---

type brokerModel struct {
	grove.BaseModel `grove:"table:courier_brokers"`

	ID               string     `grove:"id,pk"`
	Family           string     `grove:"family"`
	Key              string     `grove:"broker_key"`
	Host             string     `grove:"host"`
	Port             int        `grove:"port"`
	ManagementPort   int        `grove:"management_port"`
	Username         string     `grove:"username"`
	Password         string     `grove:"password"`
	VirtualHost      string     `grove:"virtual_host"`
	IsPrimary        bool       `grove:"is_primary"`
	IsActive         bool       `grove:"is_active"`
	ContainerManaged bool       `grove:"container_managed"`
	ContainerID      string     `grove:"container_id"`
	ContainerName    string     `grove:"container_name"`
	Health           string     `grove:"health"`
	LastHealthCheck  *time.Time `grove:"last_health_check"`
	Params           string     `grove:"params"` // JSON object
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
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
		Params:           encodeMap(d.Params),
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
		Params:           decodeMap(m.Params),
	}, nil
}
