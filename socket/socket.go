// Package socket delivers relay messages over STOMP 1.2 on WebSocket, either
// through the embedded Hub or to a remote STOMP endpoint.
package socket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/message"
)

// Kind selects how a destination is addressed.
type Kind string

// Message kinds.
const (
	KindUserSpecific Kind = "user-specific"
	KindTopic        Kind = "topic"
	KindBroadcast    Kind = "broadcast"
	KindRaw          Kind = "raw"
)

// ParseKind maps a messageType value to a Kind. Blank means broadcast and any
// unrecognised value is sent raw.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return KindBroadcast
	case string(KindUserSpecific):
		return KindUserSpecific
	case string(KindTopic):
		return KindTopic
	case string(KindBroadcast):
		return KindBroadcast
	default:
		return KindRaw
	}
}

// Route returns the STOMP destination for a message of kind k. User-specific
// messages need a userId header.
func Route(k Kind, destination string, headers message.Headers) (string, error) {
	switch k {
	case KindUserSpecific:
		userID, ok := headers.First("userId")
		if !ok {
			return "", errors.New("user-specific message requires a userId header")
		}
		return "/user/" + userID + destination, nil
	case KindTopic, KindBroadcast:
		if strings.HasPrefix(destination, "/topic") {
			return destination, nil
		}
		return "/topic" + destination, nil
	default:
		return destination, nil
	}
}

// Request is a socket send request.
type Request struct {
	Broker      string          `json:"broker"`
	Destination string          `json:"destination"`
	Headers     message.Headers `json:"headers,omitempty"`
	Payload     string          `json:"payload"`
	Sender      string          `json:"sender,omitempty"`
	GroupID     string          `json:"groupId,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
}

// NewRecord maps r to its canonical message record in the given status.
// Request headers override the derived ones.
func (r *Request) NewRecord(status message.Status) *message.Record {
	rec := message.NewRecord(message.ProtocolSocket)
	rec.Method = "SEND"
	rec.URL = fmt.Sprintf("websocket://%s%s", r.Broker, r.Destination)

	derived := message.Headers{
		"broker":      r.Broker,
		"destination": r.Destination,
	}
	if strings.TrimSpace(r.MessageType) != "" {
		derived["message-type"] = r.MessageType
	}
	rec.Headers = derived.Merge(r.Headers)
	rec.Body = r.Payload
	rec.Sender = r.Sender
	rec.GroupID = r.GroupID
	if status != "" {
		rec.Status = status
	}
	return rec
}

// Envelope is the JSON body delivered to subscribers.
type Envelope struct {
	Payload     string          `json:"payload,omitempty"`
	Headers     message.Headers `json:"headers,omitempty"`
	Sender      string          `json:"sender"`
	GroupID     string          `json:"groupId"`
	MessageType string          `json:"messageType"`
	Timestamp   string          `json:"timestamp"`
}

// Session is an open STOMP session able to send frames.
type Session interface {
	Send(ctx context.Context, destination, contentType string, body []byte) error
	Close() error
}

// Dialer opens a session to a socket broker.
type Dialer interface {
	DialSocket(ctx context.Context, d *broker.Descriptor) (Session, error)
}

// Brokers is the registry surface the sender needs.
type Brokers interface {
	FindActiveByKey(ctx context.Context, key string) (*broker.Descriptor, error)
	PrimaryKey() string
	UpdateHealth(ctx context.Context, key string, status broker.Health) error
}
