// Package message defines the uniform record persisted for every relay attempt,
// regardless of the transport that carried it.
package message

import (
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Record is one delivery attempt over one protocol.
type Record struct {
	entity.Entity

	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// Protocol is fixed at creation.
	Protocol Protocol `json:"protocol"`

	// Method is the canonical verb (POST, PUBLISH, SEND, ...).
	Method string `json:"method"`

	// URL is the canonical target address, e.g. rabbitmq://rabbitmq-local/orders.
	URL string `json:"url"`

	// Version is the protocol version tag (HTTP/1.1, AMQP/0.9.1, STOMP/1.2).
	Version string `json:"version"`

	Headers Headers `json:"headers"`

	// Body is opaque. Failure details are appended to it, never replacing it.
	Body string `json:"body"`

	Sender  string `json:"sender,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Status  Status `json:"status"`
}

// ListOpts configures filtering and pagination for record listing.
// Records are always returned newest first.
type ListOpts struct {
	Offset   int
	Limit    int
	Protocol Protocol
}

// Page is one slice of a record listing.
type Page struct {
	Items  []*Record `json:"items"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
	Total  int64     `json:"total"`
}

// Statistics summarises stored records.
type Statistics struct {
	Total      int64              `json:"total"`
	ByProtocol map[Protocol]int64 `json:"byProtocol"`
	ByStatus   map[Status]int64   `json:"byStatus"`
}
