// Package broker manages the registry of named broker targets that queue and
// socket sends are resolved against at send time.
package broker

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Family separates the queue-broker and socket-broker registries.
type Family string

// Broker families.
const (
	FamilyQueue  Family = "QUEUE"
	FamilySocket Family = "SOCKET"
)

// Valid reports whether f is a declared family.
func (f Family) Valid() bool {
	switch f {
	case FamilyQueue, FamilySocket:
		return true
	}
	return false
}

// Health is the last probed state of a broker.
type Health string

// Health states.
const (
	HealthOnline  Health = "ONLINE"
	HealthOffline Health = "OFFLINE"
	HealthError   Health = "ERROR"
	HealthUnknown Health = "UNKNOWN"
)

// Valid reports whether h is a declared health state.
func (h Health) Valid() bool {
	switch h {
	case HealthOnline, HealthOffline, HealthError, HealthUnknown:
		return true
	}
	return false
}

// Socket descriptor parameter keys.
const (
	ParamEndpointURL       = "endpointUrl"
	ParamProtocolType      = "protocolType"
	ParamMaxConnections    = "maxConnections"
	ParamHeartbeatInterval = "heartbeatInterval"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-_]*$`)

// ValidKey reports whether key can be used in broker addresses and container names.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Descriptor is the persisted configuration record of one broker target.
type Descriptor struct {
	entity.Entity

	ID     id.ID  `json:"id"`
	Family Family `json:"family"`

	// Key is the human-chosen name used in addresses. Unique among active
	// descriptors of the same family.
	Key string `json:"brokerKey"`

	Host           string `json:"host"`
	Port           int    `json:"port"`
	ManagementPort int    `json:"managementPort,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"-"`
	VirtualHost    string `json:"virtualHost,omitempty"`

	// Primary marks the protected default broker of the family.
	Primary bool `json:"isPrimary"`
	Active  bool `json:"isActive"`

	// ContainerManaged descriptors own a container provisioned by courier.
	ContainerManaged bool   `json:"isContainerManaged"`
	ContainerID      string `json:"containerId,omitempty"`
	ContainerName    string `json:"containerName,omitempty"`

	Health          Health     `json:"healthStatus"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`

	// Params holds family-specific connection parameters, stored as JSON.
	Params map[string]string `json:"params,omitempty"`
}

// Address returns host:port.
func (d *Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Param returns a connection parameter or the empty string.
func (d *Descriptor) Param(key string) string {
	if d.Params == nil {
		return ""
	}
	return d.Params[key]
}

// Embedded reports whether a socket descriptor targets the in-process hub
// rather than a remote STOMP endpoint.
func (d *Descriptor) Embedded() bool {
	return d.Family == FamilySocket && strings.TrimSpace(d.Param(ParamEndpointURL)) == ""
}

// AMQPURL returns the amqp:// URL for a queue descriptor. The default
// virtual host "/" is expressed by an empty path.
func (d *Descriptor) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Address(),
	}
	if d.VirtualHost != "" && d.VirtualHost != "/" {
		u.Path = "/" + d.VirtualHost
	}
	return u.String()
}

// ListOpts configures descriptor listing.
type ListOpts struct {
	ActiveOnly bool
}

// Statistics counts the active descriptors of a family.
type Statistics struct {
	TotalBrokers         int `json:"totalBrokers"`
	DockerManagedBrokers int `json:"dockerManagedBrokers"`
	ManualBrokers        int `json:"manualBrokers"`
	OnlineBrokers        int `json:"onlineBrokers"`
}
