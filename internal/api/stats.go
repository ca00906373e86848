package api

import (
	"net/http"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/store"
	ws "github.com/Priya8975/webhook-relay/internal/websocket"
)

type StatsHandler struct {
	store      store.Store
	hub        *ws.Hub
	retryQueue QueueDepther
}

func NewStatsHandler(s store.Store, hub *ws.Hub, retryQueue QueueDepther) *StatsHandler {
	return &StatsHandler{store: s, hub: hub, retryQueue: retryQueue}
}

type statsResponse struct {
	domain.DeliveryStats
	RetryQueueDepth  *int64 `json:"retry_queue_depth,omitempty"`
	WebSocketClients int    `json:"websocket_clients"`
}

// Get returns the organization's delivery statistics.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetDeliveryStats(r.Context(), organizationID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := statsResponse{DeliveryStats: *stats}
	if h.retryQueue != nil {
		// queue depth is best effort
		if depth, err := h.retryQueue.Depth(r.Context()); err == nil {
			resp.RetryQueueDepth = &depth
		}
	}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.ClientCount()
	}

	respondJSON(w, http.StatusOK, resp)
}
