// Package api exposes Courier over HTTP: one send route per protocol, message
// listing, broker administration for both broker families, and a health probe.
//
// Routes are registered on a stdlib ServeMux by Handler, or on a Forge router
// with OpenAPI metadata by ForgeAPI.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/container"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/validate"
)

// maxBodyBytes bounds request bodies read by the send and create routes.
const maxBodyBytes = 4 << 20

// Handler is the root HTTP handler for the Courier API.
type Handler struct {
	courier   *courier.Courier
	validator *validate.Validator
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewHandler creates the API handler for c.
func NewHandler(c *courier.Courier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		courier:   c,
		validator: validate.New(),
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// HTTP relay
	h.mux.HandleFunc("POST /api/v1/rest/send", h.sendHTTP)
	h.mux.HandleFunc("GET /api/v1/rest/messages", h.listProtocol(message.ProtocolHTTP))

	// Queue relay and broker administration
	h.mux.HandleFunc("POST /api/v1/rabbitmq/publish", h.publishQueue)
	h.mux.HandleFunc("GET /api/v1/rabbitmq/messages", h.listProtocol(message.ProtocolQueue))
	h.mux.HandleFunc("POST /api/v1/rabbitmq/brokers", h.createQueueBroker)
	h.mux.HandleFunc("GET /api/v1/rabbitmq/brokers", h.listQueueBrokers)
	h.mux.HandleFunc("DELETE /api/v1/rabbitmq/brokers/{key}", h.removeQueueBroker)
	h.mux.HandleFunc("GET /api/v1/rabbitmq/brokers/{key}/status", h.brokerStatus(broker.FamilyQueue))
	h.mux.HandleFunc("GET /api/v1/rabbitmq/brokers/stats", h.brokerStats(broker.FamilyQueue))
	h.mux.HandleFunc("GET /api/v1/rabbitmq/brokers/available", h.availableBrokers(broker.FamilyQueue))
	h.mux.HandleFunc("GET /api/v1/rabbitmq/brokers/debug", h.debugBrokers)

	// Socket relay and broker listing
	h.mux.HandleFunc("POST /api/v1/websocket/publish", h.publishSocket)
	h.mux.HandleFunc("GET /api/v1/websocket/messages", h.listProtocol(message.ProtocolSocket))
	h.mux.HandleFunc("GET /api/v1/websocket/brokers", h.listSocketBrokers)
	h.mux.HandleFunc("GET /api/v1/websocket/brokers/{key}/status", h.brokerStatus(broker.FamilySocket))
	h.mux.HandleFunc("GET /api/v1/websocket/brokers/stats", h.brokerStats(broker.FamilySocket))
	h.mux.HandleFunc("GET /api/v1/websocket/brokers/available", h.availableBrokers(broker.FamilySocket))

	// Messages
	h.mux.HandleFunc("GET /api/v1/messages", h.listMessages)
	h.mux.HandleFunc("GET /api/v1/messages/statistics", h.messageStatistics)
	h.mux.HandleFunc("DELETE /api/v1/messages", h.clearMessages)

	h.mux.HandleFunc("GET /health", h.health)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Timestamp time.Time         `json:"timestamp"`
	Status    int               `json:"status"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// BrokerErrorBody is the JSON body of a failed broker administration request.
type BrokerErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	BrokerKey string `json:"brokerKey"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case courier.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrPrimaryProtected):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrNotFound), errors.Is(err, message.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrConflict), errors.Is(err, container.ErrExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// newErrorBody builds the error body for err at status.
func newErrorBody(status int, err error) ErrorBody {
	body := ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   err.Error(),
	}
	var ve courier.ValidationErrors
	if errors.As(err, &ve) {
		body.Error = "Validation failed"
		body.Details = ve.Fields()
	}
	return body
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, newErrorBody(status, err))
}

// fail writes err with its mapped status.
func fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

// readValidated reads the request body, validates it against kind and decodes
// it into v.
func (h *Handler) readValidated(r *http.Request, kind validate.Kind, v any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return courier.ValidationErrors{{Field: "body", Message: "unreadable request body"}}
	}
	if err := h.validator.Validate(kind, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return courier.ValidationErrors{{Field: "body", Message: err.Error()}}
	}
	return nil
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
