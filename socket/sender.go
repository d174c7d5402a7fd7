package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/courier/broker"
)

// ContentType is the content type of every envelope.
const ContentType = "application/json"

// Result is the outcome of a single socket send.
type Result struct {
	Success     bool   `json:"success"`
	Broker      string `json:"broker"`
	Destination string `json:"destination,omitempty"`
	Error       string `json:"error,omitempty"`
	LatencyMs   int    `json:"latency_ms"`
}

// Sender delivers requests to the socket broker each names.
type Sender struct {
	brokers Brokers
	dialer  Dialer
	logger  *slog.Logger
	now     func() time.Time
}

// NewSender creates a sender.
func NewSender(brokers Brokers, dialer Dialer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{brokers: brokers, dialer: dialer, logger: logger, now: time.Now}
}

type requestError struct{ error }

// DefaultBroker is the key used when a request names no broker.
func (s *Sender) DefaultBroker() string { return s.brokers.PrimaryKey() }

// Send delivers req and reports the outcome. It never returns an error; a
// blank broker key selects the primary socket broker.
func (s *Sender) Send(ctx context.Context, req *Request) Result {
	start := time.Now()
	key := strings.TrimSpace(req.Broker)
	if key == "" {
		key = s.brokers.PrimaryKey()
		req.Broker = key
	}

	res := Result{Broker: key}
	dest, err := s.send(ctx, key, req)
	res.Destination = dest
	res.LatencyMs = int(time.Since(start).Milliseconds())

	if err != nil {
		res.Error = err.Error()
		var nf *broker.NotFoundError
		var re requestError
		if !errors.As(err, &nf) && !errors.As(err, &re) {
			s.markHealth(ctx, key, broker.HealthError)
		}
		s.logger.ErrorContext(ctx, "socket send failed", "broker_key", key, "destination", req.Destination, "error", err)
		return res
	}

	s.markHealth(ctx, key, broker.HealthOnline)
	res.Success = true
	s.logger.InfoContext(ctx, "socket message sent", "broker_key", key, "destination", dest, "latency_ms", res.LatencyMs)
	return res
}

func (s *Sender) send(ctx context.Context, key string, req *Request) (string, error) {
	d, err := s.brokers.FindActiveByKey(ctx, key)
	if err != nil {
		return "", err
	}

	kind := ParseKind(req.MessageType)
	dest, err := Route(kind, req.Destination, req.Headers)
	if err != nil {
		return "", requestError{err}
	}

	body, err := json.Marshal(s.envelope(req, kind))
	if err != nil {
		return dest, requestError{fmt.Errorf("encode envelope: %w", err)}
	}

	session, err := s.dialer.DialSocket(ctx, d)
	if err != nil {
		return dest, fmt.Errorf("socket send failed: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			s.logger.DebugContext(ctx, "socket session close failed", "broker_key", key, "error", closeErr)
		}
	}()

	if err := session.Send(ctx, dest, ContentType, body); err != nil {
		return dest, fmt.Errorf("socket send failed: %w", err)
	}
	return dest, nil
}

func (s *Sender) envelope(req *Request, kind Kind) Envelope {
	env := Envelope{
		Sender:      req.Sender,
		GroupID:     req.GroupID,
		MessageType: string(kind),
		Timestamp:   s.now().UTC().Format(time.RFC3339),
	}
	// Routing folds unknown types to raw; subscribers still see the caller's tag.
	if mt := strings.TrimSpace(req.MessageType); mt != "" {
		env.MessageType = mt
	}
	if strings.TrimSpace(req.Payload) != "" {
		env.Payload = req.Payload
	}
	if len(req.Headers) > 0 {
		env.Headers = req.Headers
	}
	return env
}

// markHealth is best effort and never masks the send outcome.
func (s *Sender) markHealth(ctx context.Context, key string, status broker.Health) {
	if err := s.brokers.UpdateHealth(ctx, key, status); err != nil {
		s.logger.WarnContext(ctx, "broker health update failed", "broker_key", key, "error", err)
	}
}
