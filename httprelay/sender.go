package httprelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/signature"
)

const maxResponseBody = 64 * 1024

// Config configures a Sender.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// BreakerFailures trips a host's circuit after this many consecutive
	// failures. Zero disables circuit breaking.
	BreakerFailures int
	BreakerTimeout  time.Duration

	// RatePerHost limits calls per second to each host. Zero disables it.
	RatePerHost int

	// SigningSecret, when set, adds HMAC signature headers to every call.
	SigningSecret string
}

// DefaultConfig returns the relay defaults: 30s connect and 60s read timeouts.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  30 * time.Second,
		ReadTimeout:     60 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Result is the outcome of a relay call.
type Result struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int    `json:"latency_ms"`
}

// Delivered reports a successful call answered with a 2xx status.
func (r Result) Delivered() bool {
	return r.Success && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs HTTP relay calls.
type Sender struct {
	client  *http.Client
	config  Config
	limiter *ratelimit.Limiter
	signer  *signature.Signer
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSender creates a sender. A nil client gets a transport honoring the
// configured timeouts.
func NewSender(cfg Config, client *http.Client, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if client == nil {
		client = newClient(cfg)
	}
	return &Sender{
		client:   client,
		config:   cfg,
		limiter:  ratelimit.New(),
		signer:   signature.NewSigner(cfg.SigningSecret),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func newClient(cfg Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}

// statusMessage describes a 4xx or 5xx answer.
func statusMessage(code int) string {
	kind := "Client Error"
	if code >= 500 {
		kind = "Server Error"
	}
	return fmt.Sprintf("%s: %d %s", kind, code, http.StatusText(code))
}

// Send relays req to its target and reports the outcome. Request problems
// fail before any network call with status 0.
func (s *Sender) Send(ctx context.Context, req *Request) Result {
	target, ok := req.Target()
	if !ok {
		return Result{Error: "no target url in headers (expected one of: " + strings.Join(URLKeys, ", ") + ")"}
	}
	method := req.Method()
	if !ValidMethod(method) {
		return Result{Error: "invalid HTTP method: " + method}
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{Error: "invalid target url: " + target}
	}

	if err := s.limiter.Wait(ctx, u.Host, s.config.RatePerHost); err != nil {
		return Result{Error: "rate limit: " + err.Error()}
	}

	start := time.Now()
	var res Result
	call := func() (interface{}, error) {
		res = s.do(ctx, method, target, req)
		if res.StatusCode >= 500 || (res.StatusCode == 0 && res.Error != "") {
			return nil, errors.New(res.Error)
		}
		return nil, nil
	}

	if cb := s.breaker(u.Host); cb != nil {
		if _, err := cb.Execute(call); errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			res = Result{Error: "circuit open for " + u.Host + ": " + err.Error()}
		}
	} else {
		_, _ = call()
	}
	res.LatencyMs = int(time.Since(start).Milliseconds())

	if res.Success {
		s.logger.InfoContext(ctx, "http relay sent", "method", method, "url", target, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	} else {
		s.logger.ErrorContext(ctx, "http relay failed", "method", method, "url", target, "status", res.StatusCode, "error", res.Error)
	}
	return res
}

func (s *Sender) do(ctx context.Context, method, target string, req *Request) Result {
	var (
		body    io.Reader
		payload []byte
	)
	if method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(req.Body)
		payload = []byte(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	for k, v := range req.Headers.Without(MetadataKeys...) {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	s.signer.Apply(httpReq.Header, payload)

	resp, err := s.client.Do(httpReq) //nolint:gosec // G704: relay targets are caller-supplied.
	if err != nil {
		return Result{Error: "Connection Error: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{StatusCode: resp.StatusCode, Error: fmt.Sprintf("read response: %v", readErr)}
	}

	if resp.StatusCode >= 400 {
		return Result{StatusCode: resp.StatusCode, Response: string(respBody), Error: statusMessage(resp.StatusCode)}
	}
	return Result{Success: true, StatusCode: resp.StatusCode, Response: string(respBody)}
}

func (s *Sender) breaker(host string) *gobreaker.CircuitBreaker {
	if s.config.BreakerFailures <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[host]
	if ok {
		return cb
	}
	threshold := uint32(s.config.BreakerFailures) //nolint:gosec // G115: positive config value
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     s.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("http relay circuit breaker state changed",
				slog.String("host", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	s.breakers[host] = cb
	return cb
}
