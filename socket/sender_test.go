package socket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/message"
)

type sent struct {
	destination string
	contentType string
	body        []byte
}

type fakeSession struct {
	err    error
	sent   []sent
	closed bool
}

func (s *fakeSession) Send(_ context.Context, destination, contentType string, body []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{destination, contentType, body})
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
}

func (d *fakeDialer) DialSocket(_ context.Context, _ *broker.Descriptor) (Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type fakeBrokers struct {
	health map[string]broker.Health
}

func (b *fakeBrokers) FindActiveByKey(_ context.Context, key string) (*broker.Descriptor, error) {
	if key != "websocket-local" && key != "remote" {
		return nil, &broker.NotFoundError{Family: broker.FamilySocket, Key: key, Available: []string{"remote", "websocket-local"}}
	}
	return &broker.Descriptor{Key: key, Family: broker.FamilySocket, Active: true}, nil
}

func (b *fakeBrokers) PrimaryKey() string { return "websocket-local" }

func (b *fakeBrokers) UpdateHealth(_ context.Context, key string, status broker.Health) error {
	b.health[key] = status
	return nil
}

func newTestSender(session *fakeSession, dialErr error) (*Sender, *fakeBrokers) {
	brokers := &fakeBrokers{health: make(map[string]broker.Health)}
	s := NewSender(brokers, &fakeDialer{session: session, err: dialErr}, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, brokers
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindBroadcast, ParseKind(""))
	assert.Equal(t, KindUserSpecific, ParseKind("User-Specific"))
	assert.Equal(t, KindTopic, ParseKind("topic"))
	assert.Equal(t, KindBroadcast, ParseKind("BROADCAST"))
	assert.Equal(t, KindRaw, ParseKind("direct"))
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		dest    string
		headers message.Headers
		want    string
		wantErr bool
	}{
		{name: "topic prefix added", kind: KindTopic, dest: "/news", want: "/topic/news"},
		{name: "topic prefix kept", kind: KindBroadcast, dest: "/topic/news", want: "/topic/news"},
		{name: "user destination", kind: KindUserSpecific, dest: "/queue/alerts", headers: message.Headers{"userId": "42"}, want: "/user/42/queue/alerts"},
		{name: "user without id", kind: KindUserSpecific, dest: "/queue/alerts", wantErr: true},
		{name: "raw as given", kind: KindRaw, dest: "/app/x", want: "/app/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Route(tt.kind, tt.dest, tt.headers)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSenderSend(t *testing.T) {
	t.Run("broadcast envelope", func(t *testing.T) {
		session := &fakeSession{}
		s, brokers := newTestSender(session, nil)

		res := s.Send(context.Background(), &Request{
			Broker:      "remote",
			Destination: "/alerts",
			Payload:     `{"level":"high"}`,
			Headers:     message.Headers{"trace": "t1"},
			Sender:      "svc",
			GroupID:     "g",
		})

		require.True(t, res.Success, res.Error)
		assert.Equal(t, "/topic/alerts", res.Destination)
		require.Len(t, session.sent, 1)
		assert.Equal(t, "/topic/alerts", session.sent[0].destination)
		assert.Equal(t, ContentType, session.sent[0].contentType)
		assert.True(t, session.closed)
		assert.Equal(t, broker.HealthOnline, brokers.health["remote"])

		var env Envelope
		require.NoError(t, json.Unmarshal(session.sent[0].body, &env))
		assert.Equal(t, `{"level":"high"}`, env.Payload)
		assert.Equal(t, "t1", env.Headers["trace"])
		assert.Equal(t, "svc", env.Sender)
		assert.Equal(t, "g", env.GroupID)
		assert.Equal(t, "broadcast", env.MessageType)
		assert.Equal(t, "2026-01-02T03:04:05Z", env.Timestamp)
	})

	t.Run("caller message type kept", func(t *testing.T) {
		session := &fakeSession{}
		s, _ := newTestSender(session, nil)

		res := s.Send(context.Background(), &Request{
			Broker:      "remote",
			Destination: "/app/orders",
			MessageType: "custom-type",
		})

		require.True(t, res.Success, res.Error)
		assert.Equal(t, "/app/orders", res.Destination, "unknown types route raw")

		var env Envelope
		require.NoError(t, json.Unmarshal(session.sent[0].body, &env))
		assert.Equal(t, "custom-type", env.MessageType)
	})

	t.Run("blank broker uses primary", func(t *testing.T) {
		s, _ := newTestSender(&fakeSession{}, nil)
		req := &Request{Destination: "/topic/x"}
		res := s.Send(context.Background(), req)
		require.True(t, res.Success)
		assert.Equal(t, "websocket-local", req.Broker)
	})

	t.Run("user-specific without userId", func(t *testing.T) {
		session := &fakeSession{}
		s, brokers := newTestSender(session, nil)

		res := s.Send(context.Background(), &Request{Broker: "remote", Destination: "/queue/a", MessageType: "user-specific"})

		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "userId")
		assert.Empty(t, session.sent)
		assert.Empty(t, brokers.health)
	})

	t.Run("unknown broker", func(t *testing.T) {
		s, brokers := newTestSender(&fakeSession{}, nil)
		res := s.Send(context.Background(), &Request{Broker: "nope", Destination: "/topic/a"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Available brokers: remote, websocket-local")
		assert.Empty(t, brokers.health)
	})

	t.Run("transport failure marks ERROR", func(t *testing.T) {
		s, brokers := newTestSender(nil, errors.New("connection refused"))
		res := s.Send(context.Background(), &Request{Broker: "remote", Destination: "/topic/a"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "connection refused")
		assert.Equal(t, broker.HealthError, brokers.health["remote"])
	})
}

func TestRequestNewRecord(t *testing.T) {
	req := &Request{
		Broker:      "websocket-local",
		Destination: "/topic/news",
		MessageType: "topic",
		Headers:     message.Headers{"destination": "/override", "x": "1"},
		Payload:     "p",
	}
	rec := req.NewRecord("")

	assert.Equal(t, message.ProtocolSocket, rec.Protocol)
	assert.Equal(t, "SEND", rec.Method)
	assert.Equal(t, "websocket://websocket-local/topic/news", rec.URL)
	assert.Equal(t, "STOMP/1.2", rec.Version)
	assert.Equal(t, message.StatusQueued, rec.Status)
	assert.Equal(t, "/override", rec.Headers["destination"])
	assert.Equal(t, "topic", rec.Headers["message-type"])
	assert.Equal(t, "1", rec.Headers["x"])
}
