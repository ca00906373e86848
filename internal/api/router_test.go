package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/engine"
	"github.com/Priya8975/webhook-relay/internal/observability"
	"github.com/Priya8975/webhook-relay/internal/signer"
	"github.com/Priya8975/webhook-relay/internal/store"
	"github.com/Priya8975/webhook-relay/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler    http.Handler
	store      *store.MemoryStore
	dispatcher *engine.Dispatcher
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	metrics, metricsHandler, err := observability.NewMetrics(context.Background())
	require.NoError(t, err)

	st := store.NewMemory()
	deliverer := worker.NewDeliverer(st, logger, worker.DelivererConfig{Metrics: metrics})
	d := engine.NewDispatcher(st, deliverer, engine.NewTimerScheduler(), logger, engine.Config{Metrics: metrics})
	d.Start()
	t.Cleanup(d.Close)

	return &testServer{
		handler: NewRouter(Deps{
			Store:          st,
			Dispatcher:     d,
			Metrics:        metrics,
			MetricsHandler: metricsHandler,
		}),
		store:      st,
		dispatcher: d,
	}
}

func (s *testServer) do(t *testing.T, method, path, orgID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if orgID != "" {
		req.Header.Set(OrganizationHeader, orgID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createWebhook(t *testing.T, orgID, url string, events ...domain.EventKind) domain.Subscription {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/webhooks", orgID, map[string]any{
		"name":   "orders",
		"url":    url,
		"events": events,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Subscription](t, rec)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Status)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecks(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all reachable",
			checks:     map[string]Pinger{"postgres": pingerFunc(func(context.Context) error { return nil })},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "redis down",
			checks: map[string]Pinger{
				"postgres": pingerFunc(func(context.Context) error { return nil }),
				"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			resp := decode[HealthResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "ok", resp.Checks["postgres"])
			if tt.wantStatus == "degraded" {
				assert.Equal(t, "connection refused", resp.Checks["redis"])
			}
		})
	}
}

func TestOrganizationHeaderRequired(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/webhooks", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), OrganizationHeader)
}

func TestAvailableEvents(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/webhooks/events", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]domain.EventInfo](t, rec)
	assert.Len(t, events, 14)
	assert.Equal(t, domain.EventOrderCreated, events[0].Event)
}

func TestCreateWebhook_GeneratesSecretAndDefaults(t *testing.T) {
	s := setupServer(t)
	sub := s.createWebhook(t, "org-1", "https://example.com/hook", domain.EventOrderCreated)

	require.NotNil(t, sub.Secret)
	assert.Len(t, *sub.Secret, 64)
	assert.True(t, sub.IsActive)
	assert.Equal(t, domain.DefaultRetryCount, sub.RetryCount)
	assert.Equal(t, domain.DefaultTimeoutMs, sub.TimeoutMs)
	assert.Equal(t, "org-1", sub.OrganizationID)
}

func TestCreateWebhook_Validation(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"unknown event", map[string]any{"name": "a", "url": "https://example.com", "events": []string{"order.shipped"}}},
		{"missing url", map[string]any{"name": "a", "events": []string{"order.created"}}},
		{"no events", map[string]any{"name": "a", "url": "https://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/webhooks", "org-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", strings.NewReader("{"))
	req.Header.Set(OrganizationHeader, "org-1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookCRUD(t *testing.T) {
	s := setupServer(t)
	sub := s.createWebhook(t, "org-1", "https://example.com/hook", domain.EventOrderCreated)
	path := "/api/v1/webhooks/" + sub.ID

	rec := s.do(t, http.MethodGet, path, "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sub.ID, decode[domain.Subscription](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, "org-2", nil).Code)

	rec = s.do(t, http.MethodPut, path, "org-1", map[string]any{"name": "renamed", "retry_count": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[domain.Subscription](t, rec)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 5, updated.RetryCount)
	assert.Equal(t, sub.URL, updated.URL)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, path, "org-1", map[string]any{"retry_count": 0}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, path, "org-2", map[string]any{"name": "x"}).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Subscription](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, "org-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, "org-1", nil).Code)
}

func TestTriggerEvent_DeliversAndLogs(t *testing.T) {
	s := setupServer(t)

	var (
		mu        sync.Mutex
		received  []byte
		signature string
	)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		mu.Lock()
		received = buf.Bytes()
		signature = r.Header.Get("X-Webhook-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	sub := s.createWebhook(t, "org-1", endpoint.URL, domain.EventPaymentSuccess)

	rec := s.do(t, http.MethodPost, "/api/v1/events", "org-1", map[string]any{
		"event": "payment.success",
		"data":  map[string]any{"amount": 42},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.dispatcher.Wait()

	mu.Lock()
	assert.True(t, signer.Verify(received, signature, *sub.Secret))
	mu.Unlock()

	rec = s.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID+"/logs?limit=10", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]domain.DeliveryAttempt](t, rec)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, domain.EventPaymentSuccess, logs[0].Event)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID+"/logs?limit=abc", "org-1", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stats", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.DeliveryStats](t, rec)
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.ActiveSubscriptions)
}

func TestTriggerEvent_RejectsUnknownEvent(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/events", "org-1", map[string]any{"event": "order.shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/events", "org-1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestWebhook(t *testing.T) {
	s := setupServer(t)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()
	sub := s.createWebhook(t, "org-1", endpoint.URL, domain.EventOrderCreated)

	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/"+sub.ID+"/test", "org-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, engine.TestResult{Success: true, Message: "Test webhook sent"}, decode[engine.TestResult](t, rec))
	s.dispatcher.Wait()
	assert.Len(t, s.store.Attempts(), 1)

	rec = s.do(t, http.MethodPost, "/api/v1/webhooks/missing/test", "org-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Webhook not found", decode[engine.TestResult](t, rec).Message)
}

func TestVerifySignature(t *testing.T) {
	s := setupServer(t)
	payload := `{"event":"order.created","timestamp":"2024-01-01T00:00:00.000Z","data":{}}`
	sig := signer.SignBytes([]byte(payload), "whsec")

	rec := s.do(t, http.MethodPost, "/api/v1/signatures/verify", "", map[string]string{
		"payload": payload, "signature": sig, "secret": "whsec",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[verifySignatureResponse](t, rec).Valid)

	rec = s.do(t, http.MethodPost, "/api/v1/signatures/verify", "", map[string]string{
		"payload": payload + " ", "signature": sig, "secret": "whsec",
	})
	assert.False(t, decode[verifySignatureResponse](t, rec).Valid)

	rec = s.do(t, http.MethodPost, "/api/v1/signatures/verify", "", map[string]string{"payload": payload})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	s.do(t, http.MethodGet, "/api/v1/health", "", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
