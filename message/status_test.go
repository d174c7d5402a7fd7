package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier/message"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to message.Status
		want     bool
	}{
		{message.StatusReceived, message.StatusQueued, true},
		{message.StatusReceived, message.StatusRetrying, true},
		{message.StatusReceived, message.StatusDelivered, true},
		{message.StatusReceived, message.StatusFailed, true},
		{message.StatusReceived, message.StatusReceived, false},

		{message.StatusQueued, message.StatusDelivered, true},
		{message.StatusQueued, message.StatusFailed, true},
		{message.StatusQueued, message.StatusRetrying, true},
		{message.StatusQueued, message.StatusReceived, false},
		{message.StatusQueued, message.StatusQueued, false},

		{message.StatusRetrying, message.StatusDelivered, true},
		{message.StatusRetrying, message.StatusFailed, true},
		{message.StatusRetrying, message.StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, message.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []message.Status{message.StatusDelivered, message.StatusFailed} {
		assert.True(t, from.Terminal(), "%s should be terminal", from)
		for _, to := range message.Statuses {
			assert.False(t, message.CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
	assert.False(t, message.CanTransition("BOGUS", message.StatusDelivered))
}

func TestParseStatus(t *testing.T) {
	st, err := message.ParseStatus(" delivered ")
	require.NoError(t, err)
	assert.Equal(t, message.StatusDelivered, st)

	_, err = message.ParseStatus("SENT")
	assert.Error(t, err)
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		tag  string
		want message.Protocol
	}{
		{"HTTP", message.ProtocolHTTP},
		{"rest", message.ProtocolHTTP},
		{"queue", message.ProtocolQueue},
		{"RabbitMQ", message.ProtocolQueue},
		{"amqp", message.ProtocolQueue},
		{" websocket ", message.ProtocolSocket},
		{"stomp", message.ProtocolSocket},
		{"SOCKET", message.ProtocolSocket},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := message.ParseProtocol(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := message.ParseProtocol("kafka")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"kafka"`)
}

func TestProtocolDefaults(t *testing.T) {
	assert.Equal(t, message.StatusReceived, message.ProtocolHTTP.InitialStatus())
	assert.Equal(t, message.StatusQueued, message.ProtocolQueue.InitialStatus())
	assert.Equal(t, message.StatusQueued, message.ProtocolSocket.InitialStatus())

	assert.Equal(t, "HTTP/1.1", message.ProtocolHTTP.Version())
	assert.Equal(t, "AMQP/0.9.1", message.ProtocolQueue.Version())
	assert.Equal(t, "STOMP/1.2", message.ProtocolSocket.Version())
}
