package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/webhook-relay/internal/engine"
	"github.com/Priya8975/webhook-relay/internal/observability"
	"github.com/Priya8975/webhook-relay/internal/store"
	ws "github.com/Priya8975/webhook-relay/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// QueueDepther reports how many retries are parked outside the process.
type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

// Deps bundles what the router needs. Metrics, MetricsHandler, RetryQueue
// and HealthChecks are optional.
type Deps struct {
	Store          store.Store
	Dispatcher     *engine.Dispatcher
	Hub            *ws.Hub
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	RetryQueue     QueueDepther
	HealthChecks   map[string]Pinger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware(deps.Metrics))

	webhooks := NewWebhookHandler(deps.Store, deps.Dispatcher)
	events := NewEventHandler(deps.Dispatcher)
	stats := NewStatsHandler(deps.Store, deps.Hub, deps.RetryQueue)

	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.HandleWebSocket)
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(deps.HealthChecks))
		r.Get("/webhooks/events", webhooks.AvailableEvents)
		r.Post("/signatures/verify", events.VerifySignature)

		r.Group(func(r chi.Router) {
			r.Use(requireOrganization)

			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", webhooks.Create)
				r.Get("/", webhooks.List)
				r.Get("/{id}", webhooks.Get)
				r.Put("/{id}", webhooks.Update)
				r.Delete("/{id}", webhooks.Delete)
				r.Get("/{id}/logs", webhooks.Logs)
				r.Post("/{id}/test", webhooks.Test)
			})

			r.Post("/events", events.Trigger)
			r.Get("/stats", stats.Get)
		})
	})

	return r
}
