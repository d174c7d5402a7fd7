package socket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// ClientConfig configures a connection to a remote STOMP endpoint.
type ClientConfig struct {
	// Host is sent in the CONNECT host header.
	Host     string
	Login    string
	Passcode string

	// Timeout bounds the handshake, each write and the DISCONNECT receipt wait.
	Timeout time.Duration
}

// Client is a STOMP 1.2 session over a WebSocket connection. Each Client is
// used for one send and then closed.
type Client struct {
	ws      *websocket.Conn
	timeout time.Duration

	mu      sync.Mutex
	receipt uint64
}

var _ Session = (*Client)(nil)

// Dial connects to url and completes the STOMP handshake.
func Dial(ctx context.Context, url string, cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.Timeout,
		Subprotocols:     Subprotocols,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{ws: ws, timeout: cfg.Timeout}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, cfg.Host,
		frame.HeartBeat, "0,0",
	)
	if cfg.Login != "" {
		connect.Header.Add(frame.Login, cfg.Login)
		connect.Header.Add(frame.Passcode, cfg.Passcode)
	}
	if err := c.write(connect); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	reply, err := c.read()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	if reply.Command != frame.CONNECTED {
		_ = ws.Close()
		return nil, frameError(reply)
	}
	return c, nil
}

// Send writes a SEND frame to destination.
func (c *Client) Send(_ context.Context, destination, contentType string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, contentType,
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return c.write(f)
}

// Close sends DISCONNECT, waits briefly for its receipt and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	c.receipt++
	id := "disconnect-" + strconv.FormatUint(c.receipt, 10)
	c.mu.Unlock()

	if err := c.write(frame.New(frame.DISCONNECT, frame.Receipt, id)); err == nil {
		for {
			f, err := c.read()
			if err != nil || f.Command == frame.RECEIPT || f.Command == frame.ERROR {
				break
			}
		}
	}
	return c.ws.Close()
}

func (c *Client) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// read returns the next non-heartbeat frame.
func (c *Client) read() (*frame.Frame, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := frame.NewReader(bytes.NewReader(data)).Read()
		if errors.Is(err, io.EOF) || (err == nil && f == nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func frameError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = "unexpected " + f.Command + " frame"
	}
	if len(f.Body) > 0 {
		return fmt.Errorf("stomp: %s: %s", msg, f.Body)
	}
	return fmt.Errorf("stomp: %s", msg)
}
