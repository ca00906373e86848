package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Priya8975/webhook-relay/internal/signer"
	"github.com/go-chi/chi/v5"
)

var requestCount atomic.Int64

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	secret := os.Getenv("WEBHOOK_SECRET")

	r := chi.NewRouter()

	// Successful endpoint: always returns 200
	r.Post("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(logger, r, count, http.StatusOK)

		respond(w, http.StatusOK, map[string]string{"status": "received"})
	})

	// Slow endpoint: delays before responding, 3s unless ?delay= says otherwise
	r.Post("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		delay := 3 * time.Second
		if d, err := time.ParseDuration(r.URL.Query().Get("delay")); err == nil {
			delay = d
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			logger.Info("caller gave up", "request", count, "after", delay)
			return
		}
		logRequest(logger, r, count, http.StatusOK)

		respond(w, http.StatusOK, map[string]string{"status": "received (slow)"})
	})

	// Failing endpoint: always returns 500
	r.Post("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(logger, r, count, http.StatusInternalServerError)

		respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	})

	// Verifying endpoint: 401 unless the signature matches WEBHOOK_SECRET
	r.Post("/webhook/verify", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		if !signer.Verify(body, r.Header.Get("X-Webhook-Signature"), secret) {
			logRequest(logger, r, count, http.StatusUnauthorized)
			respond(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
		logRequest(logger, r, count, http.StatusOK)

		respond(w, http.StatusOK, map[string]string{"status": "verified"})
	})

	// Stats endpoint: shows request count
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	logger.Info("mock endpoint server starting",
		"port", port,
		"routes", []string{
			"POST /webhook/success -> 200",
			"POST /webhook/slow -> 200 after ?delay (default 3s)",
			"POST /webhook/fail -> 500",
			"POST /webhook/verify -> 200 if signed with WEBHOOK_SECRET, else 401",
			"GET /stats -> request count",
		},
	)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func logRequest(logger *slog.Logger, r *http.Request, count int64, status int) {
	logger.Info("webhook received",
		"request", count,
		"path", r.URL.Path,
		"status", status,
		"signature", truncate(r.Header.Get("X-Webhook-Signature"), 16),
		"event", r.Header.Get("X-Webhook-Event"),
		"webhook_id", truncate(r.Header.Get("X-Webhook-Id"), 8),
		"timestamp", r.Header.Get("X-Webhook-Timestamp"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
