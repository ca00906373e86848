package observability

import (
	"context"
	"net/http"

	"github.com/Priya8975/webhook-relay/internal/domain"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the delivery engine's instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	meter metric.Meter

	// Delivery attempts
	AttemptsTotal   metric.Int64Counter
	AttemptDuration metric.Float64Histogram

	// Delivery chains
	ChainsActive          metric.Int64UpDownCounter
	ChainsSucceeded       metric.Int64Counter
	ChainsFailed          metric.Int64Counter
	RetriesScheduled      metric.Int64Counter
	SubscriptionsDisabled metric.Int64Counter

	// HTTP API
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
}

// NewMetrics creates all instruments on a dedicated Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("webhook-relay")
	m := &Metrics{meter: meter}

	m.AttemptsTotal, err = meter.Int64Counter(
		"webhook_attempts_total",
		metric.WithDescription("Total number of webhook delivery attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AttemptDuration, err = meter.Float64Histogram(
		"webhook_attempt_duration_seconds",
		metric.WithDescription("Webhook delivery attempt latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ChainsActive, err = meter.Int64UpDownCounter(
		"webhook_chains_active",
		metric.WithDescription("Number of delivery chains currently in flight"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ChainsSucceeded, err = meter.Int64Counter(
		"webhook_chains_succeeded_total",
		metric.WithDescription("Total delivery chains that ended in a successful attempt"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ChainsFailed, err = meter.Int64Counter(
		"webhook_chains_failed_total",
		metric.WithDescription("Total delivery chains that exhausted their retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RetriesScheduled, err = meter.Int64Counter(
		"webhook_retries_scheduled_total",
		metric.WithDescription("Total retries handed to the scheduler"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubscriptionsDisabled, err = meter.Int64Counter(
		"webhook_subscriptions_disabled_total",
		metric.WithDescription("Total subscriptions disabled after consecutive failed chains"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordAttempt records one finished delivery attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		eventAttr(string(attempt.Event)),
		successAttr(attempt.Success),
		statusAttr(attempt.ResponseStatus),
	)
	m.AttemptsTotal.Add(ctx, 1, attrs)
	m.AttemptDuration.Record(ctx, float64(attempt.DurationMs)/1000, attrs)
}

// RecordChainStarted marks a chain as in flight.
func (m *Metrics) RecordChainStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChainsActive.Add(ctx, 1)
}

// RecordChainFinished records the terminal state of a chain.
func (m *Metrics) RecordChainFinished(ctx context.Context, event domain.EventKind, success bool) {
	if m == nil {
		return
	}
	m.ChainsActive.Add(ctx, -1)
	attrs := metric.WithAttributes(eventAttr(string(event)))
	if success {
		m.ChainsSucceeded.Add(ctx, 1, attrs)
	} else {
		m.ChainsFailed.Add(ctx, 1, attrs)
	}
}

// RecordChainAbandoned removes a chain that ended without a terminal outcome,
// e.g. its subscription was deleted or the process is shutting down.
func (m *Metrics) RecordChainAbandoned(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChainsActive.Add(ctx, -1)
}

func (m *Metrics) RecordRetryScheduled(ctx context.Context, event domain.EventKind) {
	if m == nil {
		return
	}
	m.RetriesScheduled.Add(ctx, 1, metric.WithAttributes(eventAttr(string(event))))
}

func (m *Metrics) RecordSubscriptionDisabled(ctx context.Context) {
	if m == nil {
		return
	}
	m.SubscriptionsDisabled.Add(ctx, 1)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), routeAttr(route), statusAttr(&statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}
