package api

// ---------------------------------------------------------------------------
// Send requests
// ---------------------------------------------------------------------------

// SendHTTPForgeRequest binds the body for POST /api/v1/rest/send.
type SendHTTPForgeRequest struct {
	Headers map[string]string `description:"Routing and forwarding headers (url, method, ...)" json:"headers"`
	Body    string            `description:"Opaque request body"                              json:"body"`
}

// PublishQueueForgeRequest binds the body for POST /api/v1/rabbitmq/publish.
type PublishQueueForgeRequest struct {
	Broker     string `description:"Broker key (default: primary)"    json:"broker,omitempty"`
	Queue      string `description:"Target queue"                     json:"queue,omitempty"`
	Exchange   string `description:"Exchange; routes by routing key"  json:"exchange,omitempty"`
	RoutingKey string `description:"Routing key for the exchange"     json:"routingKey,omitempty"`
	Payload    string `description:"Message payload"                  json:"payload,omitempty"`
	Sender     string `description:"Sender identifier"                json:"sender,omitempty"`
	GroupID    string `description:"Group identifier"                 json:"groupId,omitempty"`
}

// PublishSocketForgeRequest binds the body for POST /api/v1/websocket/publish.
type PublishSocketForgeRequest struct {
	Broker      string            `description:"Broker key (default: primary)"           json:"broker,omitempty"`
	Destination string            `description:"STOMP destination"                       json:"destination"`
	Headers     map[string]string `description:"Headers; userId selects the user queue"  json:"headers,omitempty"`
	Payload     string            `description:"Message payload"                         json:"payload,omitempty"`
	Sender      string            `description:"Sender identifier"                       json:"sender,omitempty"`
	GroupID     string            `description:"Group identifier"                        json:"groupId,omitempty"`
	MessageType string            `description:"user-specific, topic, broadcast or raw"  json:"messageType,omitempty"`
}

// ---------------------------------------------------------------------------
// Message requests
// ---------------------------------------------------------------------------

// ListMessagesForgeRequest binds query parameters for message listings.
type ListMessagesForgeRequest struct {
	Protocol string `description:"Protocol filter (HTTP, QUEUE, SOCKET)" query:"protocol"`
	Offset   int    `description:"Pagination offset"                      query:"offset"`
	Limit    int    `description:"Page size (default 20)"                 query:"limit"`
}

// EmptyForgeRequest binds routes that take no input.
type EmptyForgeRequest struct{}

// ---------------------------------------------------------------------------
// Broker requests
// ---------------------------------------------------------------------------

// CreateBrokerForgeRequest binds the body for POST /api/v1/rabbitmq/brokers.
type CreateBrokerForgeRequest struct {
	BrokerKey           string `description:"Broker key"                           json:"brokerKey"`
	Host                string `description:"Broker host"                          json:"host,omitempty"`
	Port                int    `description:"AMQP port"                            json:"port,omitempty"`
	ManagementPort      int    `description:"Management UI port"                   json:"managementPort,omitempty"`
	Username            string `description:"Username"                             json:"username,omitempty"`
	Password            string `description:"Password"                             json:"password,omitempty"`
	VirtualHost         string `description:"Virtual host"                         json:"virtualHost,omitempty"`
	AutoCreateContainer bool   `description:"Provision a broker container"         json:"autoCreateContainer,omitempty"`
	Image               string `description:"Container image"                      json:"image,omitempty"`
	MemoryLimitMB       int    `description:"Container memory limit in MB"         json:"memoryLimitMb,omitempty"`
	DisableRestart      bool   `description:"Disable the unless-stopped policy"    json:"disableRestart,omitempty"`
}

// BrokerKeyForgeRequest binds the broker key path parameter.
type BrokerKeyForgeRequest struct {
	BrokerKey string `description:"Broker key" path:"key"`
}
