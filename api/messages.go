package api

import (
	"net/http"
	"strings"

	"github.com/xraph/courier/message"
)

// listMessages lists every record, or one protocol's records when the
// protocol query parameter is set.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	protocol := strings.TrimSpace(r.URL.Query().Get("protocol"))

	svc := h.courier.Messages()
	var (
		page *message.Page
		err  error
	)
	if protocol != "" {
		page, err = svc.FindByProtocol(r.Context(), protocol, offset, limit)
	} else {
		page, err = svc.FindAll(r.Context(), offset, limit)
	}
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) messageStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.courier.Messages().Statistics(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) clearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.courier.Messages().Clear(r.Context()); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.courier.Health(r.Context())
	status := http.StatusOK
	if report.Status != "UP" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
