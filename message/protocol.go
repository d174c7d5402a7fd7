package message

import (
	"fmt"
	"strings"
)

// Protocol identifies the transport a record was relayed over.
type Protocol string

// Supported protocols.
const (
	ProtocolHTTP   Protocol = "HTTP"
	ProtocolQueue  Protocol = "QUEUE"
	ProtocolSocket Protocol = "SOCKET"
)

// Protocols lists every protocol in display order.
var Protocols = []Protocol{ProtocolHTTP, ProtocolQueue, ProtocolSocket}

var protocolAliases = map[string]Protocol{
	"HTTP":      ProtocolHTTP,
	"REST":      ProtocolHTTP,
	"QUEUE":     ProtocolQueue,
	"RABBITMQ":  ProtocolQueue,
	"AMQP":      ProtocolQueue,
	"SOCKET":    ProtocolSocket,
	"WEBSOCKET": ProtocolSocket,
	"STOMP":     ProtocolSocket,
}

// ParseProtocol resolves a protocol tag case-insensitively, accepting the
// legacy names REST, RABBITMQ and WEBSOCKET.
func ParseProtocol(s string) (Protocol, error) {
	p, ok := protocolAliases[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("message: unknown protocol %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the declared protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolQueue, ProtocolSocket:
		return true
	}
	return false
}

// InitialStatus is the state a record starts in before transmission.
// HTTP is synchronous and starts RECEIVED; broker hand-offs start QUEUED.
func (p Protocol) InitialStatus() Status {
	switch p {
	case ProtocolHTTP:
		return StatusReceived
	case ProtocolQueue, ProtocolSocket:
		return StatusQueued
	}
	return StatusReceived
}

// Version returns the protocol version tag stored on records.
func (p Protocol) Version() string {
	switch p {
	case ProtocolHTTP:
		return "HTTP/1.1"
	case ProtocolQueue:
		return "AMQP/0.9.1"
	case ProtocolSocket:
		return "STOMP/1.2"
	}
	return ""
}
