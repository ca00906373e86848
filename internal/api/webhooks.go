package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/engine"
	"github.com/Priya8975/webhook-relay/internal/store"
	"github.com/go-chi/chi/v5"
)

type WebhookHandler struct {
	store      store.Store
	dispatcher *engine.Dispatcher
}

func NewWebhookHandler(s store.Store, d *engine.Dispatcher) *WebhookHandler {
	return &WebhookHandler{store: s, dispatcher: d}
}

func (h *WebhookHandler) AvailableEvents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, domain.AvailableEvents())
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Secret == nil || *req.Secret == "" {
		secret, err := store.GenerateSecret()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to generate secret")
			return
		}
		req.Secret = &secret
	}

	sub, err := h.store.CreateSubscription(r.Context(), req.Apply(organizationID(r)))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context(), organizationID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetSubscription(r.Context(), organizationID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), organizationID(r), chi.URLParam(r, "id"), req)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteSubscription(r.Context(), organizationID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Logs lists the delivery attempts of one webhook, newest first. Attempts
// outlive their webhook, so a deleted id still returns its history.
func (h *WebhookHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := h.store.ListDeliveryAttempts(r.Context(), organizationID(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}

func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Test(r.Context(), chi.URLParam(r, "id"), organizationID(r))
	if errors.Is(err, engine.ErrClosed) {
		respondError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to send test webhook")
		return
	}

	status := http.StatusAccepted
	if !res.Success {
		status = http.StatusNotFound
	}
	respondJSON(w, status, res)
}
