package socket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned when sending through a closed hub.
var ErrHubClosed = errors.New("courier: socket hub is closed")

// Subprotocols are the STOMP versions negotiated over WebSocket.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// HubConfig configures the embedded STOMP broker.
type HubConfig struct {
	// Path is where the hub is mounted, "/ws" by default.
	Path string

	// MaxConnections caps concurrent clients. Zero means unlimited.
	MaxConnections int

	// HeartbeatInterval is the WebSocket ping interval. Zero disables pings.
	HeartbeatInterval time.Duration

	WriteTimeout time.Duration
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Path:              "/ws",
		MaxConnections:    1000,
		HeartbeatInterval: 60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Hub is an in-process STOMP 1.2 broker served over WebSocket. Clients
// SUBSCRIBE to destinations and receive every message published to them,
// whether it comes from another client's SEND or from Publish.
type Hub struct {
	config   HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	seq      atomic.Uint64

	mu     sync.RWMutex
	conns  map[*stompConn]struct{}
	closed bool
}

// NewHub creates a hub. Mount it at cfg.Path.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			Subprotocols: Subprotocols,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		conns: make(map[*stompConn]struct{}),
	}
}

// Path returns the mount path.
func (h *Hub) Path() string { return h.config.Path }

// Connections returns the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves one STOMP client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &stompConn{hub: h, ws: ws, remote: r.RemoteAddr, subs: make(map[string]string)}
	if !h.add(c) {
		_ = c.writeError("too many connections", "")
		_ = ws.Close()
		return
	}
	defer h.remove(c)

	h.logger.Debug("socket client connected", "remote_addr", c.remote)

	stop := make(chan struct{})
	defer close(stop)
	if h.config.HeartbeatInterval > 0 {
		go c.keepAlive(h.config.HeartbeatInterval, stop)
	}

	c.serve()
	h.logger.Debug("socket client disconnected", "remote_addr", c.remote)
}

func (h *Hub) full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || (h.config.MaxConnections > 0 && len(h.conns) >= h.config.MaxConnections)
}

func (h *Hub) add(c *stompConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.config.MaxConnections > 0 && len(h.conns) >= h.config.MaxConnections) {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *stompConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.ws.Close()
}

// Publish sends body as a MESSAGE frame to every subscription on destination
// and returns the number of frames written. No subscribers is not an error.
func (h *Hub) Publish(destination, contentType string, body []byte) int {
	h.mu.RLock()
	conns := make([]*stompConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		for _, subID := range c.subscriptionsFor(destination) {
			f := frame.New(frame.MESSAGE,
				frame.Destination, destination,
				frame.Subscription, subID,
				frame.MessageId, strconv.FormatUint(h.seq.Add(1), 10),
				frame.ContentType, contentType,
				frame.ContentLength, strconv.Itoa(len(body)),
			)
			f.Body = body
			if err := c.write(f); err != nil {
				h.logger.Debug("socket message write failed", "remote_addr", c.remote, "error", err)
				continue
			}
			delivered++
		}
	}
	return delivered
}

// Session returns a session that publishes straight into the hub.
func (h *Hub) Session() Session { return hubSession{hub: h} }

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*stompConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	return nil
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

type hubSession struct {
	hub *Hub
}

func (s hubSession) Send(_ context.Context, destination, contentType string, body []byte) error {
	if s.hub.isClosed() {
		return ErrHubClosed
	}
	n := s.hub.Publish(destination, contentType, body)
	s.hub.logger.Debug("hub message published", "destination", destination, "subscribers", n)
	return nil
}

func (hubSession) Close() error { return nil }

// stompConn is one client connection on the hub.
type stompConn struct {
	hub    *Hub
	ws     *websocket.Conn
	remote string

	writeMu sync.Mutex

	mu        sync.RWMutex
	subs      map[string]string // subscription id → destination
	connected bool
}

func (c *stompConn) serve() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		r := frame.NewReader(bytes.NewReader(data))
		for {
			f, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = c.writeError("malformed frame", err.Error())
				return
			}
			if f == nil {
				continue // heart-beat
			}
			if done := c.dispatch(f); done {
				return
			}
		}
	}
}

// dispatch handles one client frame and reports whether the connection
// should be closed.
func (c *stompConn) dispatch(f *frame.Frame) bool {
	if f.Command != frame.CONNECT && f.Command != frame.STOMP && !c.isConnected() {
		_ = c.writeError("not connected", "CONNECT must be the first frame")
		return true
	}

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		return c.write(frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, "0,0",
			frame.Server, "courier",
		)) != nil

	case frame.SUBSCRIBE:
		subID, dest := f.Header.Get(frame.Id), f.Header.Get(frame.Destination)
		if subID == "" || dest == "" {
			_ = c.writeError("invalid subscription", "SUBSCRIBE requires id and destination headers")
			return true
		}
		c.mu.Lock()
		c.subs[subID] = dest
		c.mu.Unlock()

	case frame.UNSUBSCRIBE:
		c.mu.Lock()
		delete(c.subs, f.Header.Get(frame.Id))
		c.mu.Unlock()

	case frame.SEND:
		dest := f.Header.Get(frame.Destination)
		if dest == "" {
			_ = c.writeError("missing destination", "SEND requires a destination header")
			return true
		}
		c.hub.Publish(dest, f.Header.Get(frame.ContentType), f.Body)

	case frame.DISCONNECT:
		c.receipt(f)
		return true

	case frame.ACK, frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT:
		// Subscriptions are auto-ack and untransacted.

	default:
		_ = c.writeError("unsupported command", f.Command)
		return true
	}

	c.receipt(f)
	return false
}

func (c *stompConn) receipt(f *frame.Frame) {
	if id, ok := f.Header.Contains(frame.Receipt); ok {
		_ = c.write(frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

func (c *stompConn) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *stompConn) subscriptionsFor(destination string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for subID, dest := range c.subs {
		if dest == destination {
			ids = append(ids, subID)
		}
	}
	return ids
}

func (c *stompConn) writeError(msg, detail string) error {
	f := frame.New(frame.ERROR, frame.Message, msg)
	f.Body = []byte(detail)
	return c.write(f)
}

func (c *stompConn) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (c *stompConn) keepAlive(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.config.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
