package api

import (
	"net/http"

	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/socket"
	"github.com/xraph/courier/validate"
)

// Failed transmissions still answer 200: the body is the FAILED record.

func (h *Handler) sendHTTP(w http.ResponseWriter, r *http.Request) {
	var req httprelay.Request
	if err := h.readValidated(r, validate.HTTPSend, &req); err != nil {
		fail(w, err)
		return
	}

	rec, err := h.courier.SendHTTP(r.Context(), &req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) publishQueue(w http.ResponseWriter, r *http.Request) {
	var req queue.Request
	if err := h.readValidated(r, validate.QueuePublish, &req); err != nil {
		fail(w, err)
		return
	}

	rec, err := h.courier.SendQueue(r.Context(), &req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) publishSocket(w http.ResponseWriter, r *http.Request) {
	var req socket.Request
	if err := h.readValidated(r, validate.SocketPublish, &req); err != nil {
		fail(w, err)
		return
	}

	rec, err := h.courier.SendSocket(r.Context(), &req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listProtocol(p message.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := h.courier.Messages().FindByProtocol(r.Context(), string(p),
			queryInt(r, "offset", 0), queryInt(r, "limit", 0))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
