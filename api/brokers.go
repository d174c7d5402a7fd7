package api

import (
	"context"
	"net/http"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/validate"
)

// BrokerStatus is the result of a live availability check.
type BrokerStatus struct {
	BrokerKey string        `json:"brokerKey"`
	Available bool          `json:"available"`
	IsPrimary bool          `json:"isPrimary"`
	Status    broker.Health `json:"status"`
	Protocol  string        `json:"protocol"`
	Timestamp time.Time     `json:"timestamp"`
}

// AvailableBrokers lists the keys a send request may name.
type AvailableBrokers struct {
	AvailableBrokers []string `json:"availableBrokers"`
	DefaultBroker    string   `json:"defaultBroker"`
	Total            int      `json:"total"`
	Protocol         string   `json:"protocol"`
}

// BrokerDebug is a diagnostic view of the queue registry.
type BrokerDebug struct {
	BrokerKeys []string `json:"brokerKeys"`
	TotalCount int      `json:"totalCount"`
	Status     string   `json:"status"`
}

// BrokerRemoved confirms a broker removal.
type BrokerRemoved struct {
	Message   string `json:"message"`
	BrokerKey string `json:"brokerKey"`
}

func protocolLabel(f broker.Family) string {
	if f == broker.FamilySocket {
		return "WebSocket/STOMP"
	}
	return "AMQP/0.9.1"
}

func registryFor(c *courier.Courier, f broker.Family) *broker.Registry {
	if f == broker.FamilySocket {
		return c.SocketBrokers()
	}
	return c.QueueBrokers()
}

func writeBrokerError(w http.ResponseWriter, status int, title, msg, key string) {
	writeJSON(w, status, BrokerErrorBody{Error: title, Message: msg, BrokerKey: key})
}

func (h *Handler) createQueueBroker(w http.ResponseWriter, r *http.Request) {
	var in broker.CreateInput
	if err := h.readValidated(r, validate.BrokerCreate, &in); err != nil {
		fail(w, err)
		return
	}

	res, err := h.courier.Lifecycle().Create(r.Context(), in)
	if err != nil {
		writeBrokerError(w, statusFor(err), "broker creation failed", err.Error(), in.Key)
		return
	}
	if !res.Success {
		writeBrokerError(w, http.StatusBadRequest, "broker creation failed", res.Error, in.Key)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) removeQueueBroker(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.courier.Lifecycle().Remove(r.Context(), key); err != nil {
		writeBrokerError(w, statusFor(err), "broker removal failed", err.Error(), key)
		return
	}
	writeJSON(w, http.StatusOK, BrokerRemoved{Message: "broker removed", BrokerKey: key})
}

func (h *Handler) listQueueBrokers(w http.ResponseWriter, r *http.Request) {
	listing, err := h.courier.Lifecycle().ListDetailed(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) listSocketBrokers(w http.ResponseWriter, r *http.Request) {
	listing, err := socketListing(r.Context(), h.courier.SocketBrokers())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) brokerStatus(f broker.Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := checkBroker(r.Context(), registryFor(h.courier, f), r.PathValue("key"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (h *Handler) brokerStats(f broker.Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := registryFor(h.courier, f).Statistics(r.Context())
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (h *Handler) availableBrokers(f broker.Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		av, err := availableKeys(r.Context(), registryFor(h.courier, f))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, av)
	}
}

func (h *Handler) debugBrokers(w http.ResponseWriter, r *http.Request) {
	dbg, err := brokerDebug(r.Context(), h.courier.QueueBrokers())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbg)
}

// socketListing lists active socket descriptors. Socket brokers are never
// container-managed, so no container status is attached.
func socketListing(ctx context.Context, reg *broker.Registry) (*broker.Listing, error) {
	active, err := reg.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := reg.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	listing := &broker.Listing{Brokers: make([]broker.DetailedBroker, 0, len(active)), Statistics: stats}
	for _, d := range active {
		listing.Brokers = append(listing.Brokers, broker.DetailedBroker{Descriptor: d})
	}
	return listing, nil
}

// checkBroker probes key and records the outcome.
func checkBroker(ctx context.Context, reg *broker.Registry, key string) (*BrokerStatus, error) {
	ok, err := reg.CheckAvailability(ctx, key)
	if err != nil {
		return nil, err
	}
	status := broker.HealthOffline
	if ok {
		status = broker.HealthOnline
	}
	return &BrokerStatus{
		BrokerKey: key,
		Available: ok,
		IsPrimary: key == reg.PrimaryKey(),
		Status:    status,
		Protocol:  protocolLabel(reg.Family()),
		Timestamp: time.Now().UTC(),
	}, nil
}

func availableKeys(ctx context.Context, reg *broker.Registry) (*AvailableBrokers, error) {
	keys, err := reg.AvailableKeys(ctx)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return &AvailableBrokers{
		AvailableBrokers: keys,
		DefaultBroker:    reg.PrimaryKey(),
		Total:            len(keys),
		Protocol:         protocolLabel(reg.Family()),
	}, nil
}

// brokerDebug reports the available keys next to the active count, which
// differ when active brokers are offline.
func brokerDebug(ctx context.Context, reg *broker.Registry) (*BrokerDebug, error) {
	keys, err := reg.AvailableKeys(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := reg.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return &BrokerDebug{BrokerKeys: keys, TotalCount: stats.TotalBrokers, Status: "success"}, nil
}
