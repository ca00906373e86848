package api

import (
	"encoding/json"
	"net/http"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/engine"
)

type EventHandler struct {
	dispatcher *engine.Dispatcher
}

func NewEventHandler(d *engine.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: d}
}

type triggerEventRequest struct {
	Event domain.EventKind `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type triggerEventResponse struct {
	Status string           `json:"status"`
	Event  domain.EventKind `json:"event"`
}

// Trigger accepts a domain event and starts deliveries in the background.
// The response never reflects delivery outcomes.
func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}
	if !req.Event.Valid() {
		respondError(w, http.StatusBadRequest, "unknown event "+string(req.Event))
		return
	}

	h.dispatcher.Trigger(r.Context(), organizationID(r), req.Event, req.Data)

	respondJSON(w, http.StatusAccepted, triggerEventResponse{
		Status: "accepted",
		Event:  req.Event,
	})
}

type verifySignatureRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Secret    string `json:"secret"`
}

type verifySignatureResponse struct {
	Valid bool `json:"valid"`
}

// VerifySignature checks a signature against the raw payload string exactly
// as it was received.
func (h *EventHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Secret == "" {
		respondError(w, http.StatusBadRequest, "secret is required")
		return
	}

	respondJSON(w, http.StatusOK, verifySignatureResponse{
		Valid: h.dispatcher.VerifyIncomingSignature([]byte(req.Payload), req.Signature, req.Secret),
	})
}
