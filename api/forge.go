package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/socket"
	"github.com/xraph/courier/validate"
)

// ForgeAPI wires all Forge-style HTTP handlers together.
type ForgeAPI struct {
	courier   *courier.Courier
	validator *validate.Validator
	prefix    string
	log       forge.Logger
}

// NewForgeAPI creates a ForgeAPI for c. Routes are registered under prefix,
// which may be empty.
func NewForgeAPI(c *courier.Courier, prefix string, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{
		courier:   c,
		validator: validate.New(),
		prefix:    strings.TrimRight(prefix, "/"),
		log:       log,
	}
}

func (a *ForgeAPI) path(p string) string { return a.prefix + p }

// RegisterRoutes registers all Courier routes into the given Forge router
// with full OpenAPI metadata.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerRESTRoutes(router)
	a.registerQueueRoutes(router)
	a.registerSocketRoutes(router)
	a.registerMessageRoutes(router)
}

// validate re-encodes a bound request and checks it against kind. On failure
// the error body has already been written.
func (a *ForgeAPI) validate(ctx forge.Context, kind validate.Kind, req any) bool {
	raw, err := json.Marshal(req)
	if err == nil {
		err = a.validator.Validate(kind, raw)
	}
	if err == nil {
		return true
	}
	status := statusFor(err)
	if jsonErr := ctx.JSON(status, newErrorBody(status, err)); jsonErr != nil {
		a.log.Error("Failed to write validation error", forge.Error(jsonErr))
	}
	return false
}

// ---------------------------------------------------------------------------
// REST routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerRESTRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("rest"))

	if err := g.POST(a.path("/api/v1/rest/send"), a.sendHTTP,
		forge.WithSummary("Relay HTTP request"),
		forge.WithDescription("Forwards the body to the URL named in the headers and records the attempt. A failed forward still answers 200 with a FAILED record."),
		forge.WithOperationID("sendHTTP"),
		forge.WithRequestSchema(SendHTTPForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Message record", message.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register sendHTTP route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/rest/messages"), a.listHTTPMessages,
		forge.WithSummary("List HTTP records"),
		forge.WithDescription("Returns HTTP relay records, newest first."),
		forge.WithOperationID("listHTTPMessages"),
		forge.WithRequestSchema(ListMessagesForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Record page", message.Page{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listHTTPMessages route", forge.Error(err))
	}
}

func (a *ForgeAPI) sendHTTP(ctx forge.Context, req *SendHTTPForgeRequest) (*message.Record, error) {
	if !a.validate(ctx, validate.HTTPSend, req) {
		//nolint:nilnil // response already written.
		return nil, nil
	}

	rec, err := a.courier.SendHTTP(ctx.Context(), &httprelay.Request{
		Headers: message.Headers(req.Headers),
		Body:    req.Body,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (a *ForgeAPI) listHTTPMessages(ctx forge.Context, req *ListMessagesForgeRequest) (*message.Page, error) {
	return a.page(ctx, string(message.ProtocolHTTP), req)
}

// ---------------------------------------------------------------------------
// Queue routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerQueueRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("rabbitmq"))

	if err := g.POST(a.path("/api/v1/rabbitmq/publish"), a.publishQueue,
		forge.WithSummary("Publish to queue broker"),
		forge.WithDescription("Publishes to a queue or exchange on the named broker (default: primary) and records the attempt."),
		forge.WithOperationID("publishQueue"),
		forge.WithRequestSchema(PublishQueueForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Message record", message.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register publishQueue route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/rabbitmq/messages"), a.listQueueMessages,
		forge.WithSummary("List queue records"),
		forge.WithDescription("Returns queue relay records, newest first."),
		forge.WithOperationID("listQueueMessages"),
		forge.WithRequestSchema(ListMessagesForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Record page", message.Page{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listQueueMessages route", forge.Error(err))
	}

	if err := g.POST(a.path("/api/v1/rabbitmq/brokers"), a.createBroker,
		forge.WithSummary("Create queue broker"),
		forge.WithDescription("Registers a queue broker, optionally provisioning it in a container first."),
		forge.WithOperationID("createQueueBroker"),
		forge.WithRequestSchema(CreateBrokerForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Creation result", broker.CreationResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register createQueueBroker route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/rabbitmq/brokers"), a.listQueueBrokers,
		forge.WithSummary("List queue brokers"),
		forge.WithDescription("Returns active queue brokers with live container status."),
		forge.WithOperationID("listQueueBrokers"),
		forge.WithResponseSchema(http.StatusOK, "Broker listing", broker.Listing{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listQueueBrokers route", forge.Error(err))
	}

	if err := g.DELETE(a.path("/api/v1/rabbitmq/brokers/:key"), a.removeBroker,
		forge.WithSummary("Remove queue broker"),
		forge.WithDescription("Removes a queue broker. The primary broker is protected."),
		forge.WithOperationID("removeQueueBroker"),
		forge.WithResponseSchema(http.StatusOK, "Removal confirmation", BrokerRemoved{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register removeQueueBroker route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/rabbitmq/brokers/debug"), a.debugBrokers,
		forge.WithSummary("Debug queue brokers"),
		forge.WithDescription("Lists available queue broker keys next to the active broker count."),
		forge.WithOperationID("debugQueueBrokers"),
		forge.WithResponseSchema(http.StatusOK, "Registry snapshot", BrokerDebug{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register debugQueueBrokers route", forge.Error(err))
	}

	a.registerBrokerQueries(router, broker.FamilyQueue, "/api/v1/rabbitmq", "Queue")
}

func (a *ForgeAPI) debugBrokers(ctx forge.Context, _ *EmptyForgeRequest) (*BrokerDebug, error) {
	dbg, err := brokerDebug(ctx.Context(), a.courier.QueueBrokers())
	if err != nil {
		return nil, mapError(err)
	}
	return dbg, nil
}

func (a *ForgeAPI) publishQueue(ctx forge.Context, req *PublishQueueForgeRequest) (*message.Record, error) {
	if !a.validate(ctx, validate.QueuePublish, req) {
		//nolint:nilnil // response already written.
		return nil, nil
	}

	rec, err := a.courier.SendQueue(ctx.Context(), &queue.Request{
		Broker:     req.Broker,
		Queue:      req.Queue,
		Exchange:   req.Exchange,
		RoutingKey: req.RoutingKey,
		Payload:    req.Payload,
		Sender:     req.Sender,
		GroupID:    req.GroupID,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (a *ForgeAPI) listQueueMessages(ctx forge.Context, req *ListMessagesForgeRequest) (*message.Page, error) {
	return a.page(ctx, string(message.ProtocolQueue), req)
}

func (a *ForgeAPI) createBroker(ctx forge.Context, req *CreateBrokerForgeRequest) (*broker.CreationResult, error) {
	if !a.validate(ctx, validate.BrokerCreate, req) {
		//nolint:nilnil // response already written.
		return nil, nil
	}

	res, err := a.courier.Lifecycle().Create(ctx.Context(), broker.CreateInput{
		Key:            req.BrokerKey,
		Host:           req.Host,
		Port:           req.Port,
		ManagementPort: req.ManagementPort,
		Username:       req.Username,
		Password:       req.Password,
		VirtualHost:    req.VirtualHost,
		AutoCreate:     req.AutoCreateContainer,
		Image:          req.Image,
		MemoryLimitMB:  req.MemoryLimitMB,
		DisableRestart: req.DisableRestart,
	})
	switch {
	case err != nil:
		return nil, a.brokerError(ctx, statusFor(err), "broker creation failed", err.Error(), req.BrokerKey)
	case !res.Success:
		return nil, a.brokerError(ctx, http.StatusBadRequest, "broker creation failed", res.Error, req.BrokerKey)
	}
	return res, nil
}

func (a *ForgeAPI) removeBroker(ctx forge.Context, req *BrokerKeyForgeRequest) (*BrokerRemoved, error) {
	if err := a.courier.Lifecycle().Remove(ctx.Context(), req.BrokerKey); err != nil {
		return nil, a.brokerError(ctx, statusFor(err), "broker removal failed", err.Error(), req.BrokerKey)
	}
	return &BrokerRemoved{Message: "broker removed", BrokerKey: req.BrokerKey}, nil
}

func (a *ForgeAPI) listQueueBrokers(ctx forge.Context, _ *EmptyForgeRequest) (*broker.Listing, error) {
	listing, err := a.courier.Lifecycle().ListDetailed(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}
	return listing, nil
}

// brokerError writes the broker administration error body. The returned
// error is nil unless writing failed.
func (a *ForgeAPI) brokerError(ctx forge.Context, status int, title, msg, key string) error {
	if err := ctx.JSON(status, BrokerErrorBody{Error: title, Message: msg, BrokerKey: key}); err != nil {
		return mapError(err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Socket routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerSocketRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("websocket"))

	if err := g.POST(a.path("/api/v1/websocket/publish"), a.publishSocket,
		forge.WithSummary("Publish to socket broker"),
		forge.WithDescription("Sends a STOMP message to a destination on the named broker (default: embedded hub) and records the attempt."),
		forge.WithOperationID("publishSocket"),
		forge.WithRequestSchema(PublishSocketForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Message record", message.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register publishSocket route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/websocket/messages"), a.listSocketMessages,
		forge.WithSummary("List socket records"),
		forge.WithDescription("Returns socket relay records, newest first."),
		forge.WithOperationID("listSocketMessages"),
		forge.WithRequestSchema(ListMessagesForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Record page", message.Page{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSocketMessages route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/websocket/brokers"), a.listSocketBrokers,
		forge.WithSummary("List socket brokers"),
		forge.WithDescription("Returns active socket brokers."),
		forge.WithOperationID("listSocketBrokers"),
		forge.WithResponseSchema(http.StatusOK, "Broker listing", broker.Listing{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSocketBrokers route", forge.Error(err))
	}

	a.registerBrokerQueries(router, broker.FamilySocket, "/api/v1/websocket", "Socket")
}

func (a *ForgeAPI) publishSocket(ctx forge.Context, req *PublishSocketForgeRequest) (*message.Record, error) {
	if !a.validate(ctx, validate.SocketPublish, req) {
		//nolint:nilnil // response already written.
		return nil, nil
	}

	rec, err := a.courier.SendSocket(ctx.Context(), &socket.Request{
		Broker:      req.Broker,
		Destination: req.Destination,
		Headers:     message.Headers(req.Headers),
		Payload:     req.Payload,
		Sender:      req.Sender,
		GroupID:     req.GroupID,
		MessageType: req.MessageType,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (a *ForgeAPI) listSocketMessages(ctx forge.Context, req *ListMessagesForgeRequest) (*message.Page, error) {
	return a.page(ctx, string(message.ProtocolSocket), req)
}

func (a *ForgeAPI) listSocketBrokers(ctx forge.Context, _ *EmptyForgeRequest) (*broker.Listing, error) {
	listing, err := socketListing(ctx.Context(), a.courier.SocketBrokers())
	if err != nil {
		return nil, mapError(err)
	}
	return listing, nil
}

// ---------------------------------------------------------------------------
// Broker queries shared by both families
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerBrokerQueries(router forge.Router, f broker.Family, base, label string) {
	g := router.Group("", forge.WithGroupTags(strings.ToLower(label)+"-brokers"))
	reg := registryFor(a.courier, f)

	if err := g.GET(a.path(base+"/brokers/:key/status"),
		func(ctx forge.Context, req *BrokerKeyForgeRequest) (*BrokerStatus, error) {
			status, err := checkBroker(ctx.Context(), reg, req.BrokerKey)
			if err != nil {
				return nil, mapError(err)
			}
			return status, nil
		},
		forge.WithSummary(label+" broker status"),
		forge.WithDescription("Tests the broker connection and records the outcome."),
		forge.WithOperationID("check"+label+"Broker"),
		forge.WithResponseSchema(http.StatusOK, "Broker status", BrokerStatus{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register broker status route", forge.Error(err))
	}

	if err := g.GET(a.path(base+"/brokers/stats"),
		func(ctx forge.Context, _ *EmptyForgeRequest) (*broker.Statistics, error) {
			stats, err := reg.Statistics(ctx.Context())
			if err != nil {
				return nil, mapError(err)
			}
			return stats, nil
		},
		forge.WithSummary(label+" broker statistics"),
		forge.WithDescription("Counts active brokers by management mode and health."),
		forge.WithOperationID(lowerFirst(label)+"BrokerStats"),
		forge.WithResponseSchema(http.StatusOK, "Broker statistics", broker.Statistics{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register broker stats route", forge.Error(err))
	}

	if err := g.GET(a.path(base+"/brokers/available"),
		func(ctx forge.Context, _ *EmptyForgeRequest) (*AvailableBrokers, error) {
			av, err := availableKeys(ctx.Context(), reg)
			if err != nil {
				return nil, mapError(err)
			}
			return av, nil
		},
		forge.WithSummary("Available "+lowerFirst(label)+" brokers"),
		forge.WithDescription("Lists the broker keys a send request may name."),
		forge.WithOperationID("available"+label+"Brokers"),
		forge.WithResponseSchema(http.StatusOK, "Available brokers", AvailableBrokers{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register available brokers route", forge.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Message routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerMessageRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("messages"))

	if err := g.GET(a.path("/api/v1/messages"), a.listMessages,
		forge.WithSummary("List records"),
		forge.WithDescription("Returns records newest first, optionally filtered by protocol."),
		forge.WithOperationID("listMessages"),
		forge.WithRequestSchema(ListMessagesForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Record page", message.Page{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listMessages route", forge.Error(err))
	}

	if err := g.GET(a.path("/api/v1/messages/statistics"), a.messageStatistics,
		forge.WithSummary("Record statistics"),
		forge.WithDescription("Counts records by protocol and by status."),
		forge.WithOperationID("messageStatistics"),
		forge.WithResponseSchema(http.StatusOK, "Statistics", message.Statistics{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register messageStatistics route", forge.Error(err))
	}

	if err := g.DELETE(a.path("/api/v1/messages"), a.clearMessages,
		forge.WithSummary("Delete all records"),
		forge.WithDescription("Bulk-deletes every record. Cannot be undone."),
		forge.WithOperationID("clearMessages"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register clearMessages route", forge.Error(err))
	}

	if err := g.GET(a.path("/health"), a.health,
		forge.WithSummary("Health"),
		forge.WithDescription("Pings the store and probes the primary queue broker."),
		forge.WithOperationID("health"),
		forge.WithResponseSchema(http.StatusOK, "Health report", courier.Health{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register health route", forge.Error(err))
	}
}

func (a *ForgeAPI) listMessages(ctx forge.Context, req *ListMessagesForgeRequest) (*message.Page, error) {
	if req.Protocol == "" {
		page, err := a.courier.Messages().FindAll(ctx.Context(), req.Offset, req.Limit)
		if err != nil {
			return nil, mapError(err)
		}
		return page, nil
	}
	return a.page(ctx, req.Protocol, req)
}

func (a *ForgeAPI) page(ctx forge.Context, protocol string, req *ListMessagesForgeRequest) (*message.Page, error) {
	page, err := a.courier.Messages().FindByProtocol(ctx.Context(), protocol, req.Offset, req.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return page, nil
}

func (a *ForgeAPI) messageStatistics(ctx forge.Context, _ *EmptyForgeRequest) (*message.Statistics, error) {
	stats, err := a.courier.Messages().Statistics(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}
	return stats, nil
}

func (a *ForgeAPI) clearMessages(ctx forge.Context, _ *EmptyForgeRequest) (*message.Statistics, error) {
	if err := a.courier.Messages().Clear(ctx.Context()); err != nil {
		return nil, mapError(err)
	}

	if err := ctx.NoContent(http.StatusNoContent); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

func (a *ForgeAPI) health(ctx forge.Context, _ *EmptyForgeRequest) (*courier.Health, error) {
	report := a.courier.Health(ctx.Context())
	if report.Status != "UP" {
		if err := ctx.JSON(http.StatusServiceUnavailable, report); err != nil {
			return nil, mapError(err)
		}
		//nolint:nilnil // response already written via ctx.JSON.
		return nil, nil
	}
	return report, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
