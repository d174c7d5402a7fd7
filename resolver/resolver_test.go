package resolver

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/socket"
)

func TestNewDefaults(t *testing.T) {
	r := New(Config{}, nil)
	assert.Equal(t, DefaultConfig(), r.config)
}

func TestDialSocketEmbedded(t *testing.T) {
	hub := socket.NewHub(socket.HubConfig{}, nil)
	defer hub.Close()

	r := New(Config{}, hub)
	d := &broker.Descriptor{Key: "websocket-local", Family: broker.FamilySocket}

	session, err := r.DialSocket(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, session.Send(context.Background(), "/topic/x", "text/plain", []byte("x")))
	require.NoError(t, r.Probe(context.Background(), d))
}

func TestDialSocketEmbeddedWithoutHub(t *testing.T) {
	r := New(Config{}, nil)
	_, err := r.DialSocket(context.Background(), &broker.Descriptor{Family: broker.FamilySocket})
	assert.True(t, errors.Is(err, ErrNoHub))
}

func TestDialSocketRemote(t *testing.T) {
	hub := socket.NewHub(socket.HubConfig{}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	r := New(Config{SocketTimeout: 5 * time.Second}, nil)
	d := &broker.Descriptor{
		Key:    "remote",
		Family: broker.FamilySocket,
		Host:   "localhost",
		Params: map[string]string{broker.ParamEndpointURL: "ws" + strings.TrimPrefix(srv.URL, "http")},
	}

	require.NoError(t, r.Probe(context.Background(), d))
}

func TestProbeQueueUnreachable(t *testing.T) {
	// Reserve a port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	r := New(Config{ConnectTimeout: time.Second}, nil)
	d := &broker.Descriptor{Key: "down", Family: broker.FamilyQueue, Host: "127.0.0.1", Port: port, Username: "guest", Password: "guest"}

	err = r.Probe(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}

func TestProbeUnknownFamily(t *testing.T) {
	r := New(Config{}, nil)
	assert.Error(t, r.Probe(context.Background(), &broker.Descriptor{Family: "SMTP"}))
}
