package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/observability"
	"github.com/Priya8975/webhook-relay/internal/signer"
	ws "github.com/Priya8975/webhook-relay/internal/websocket"
)

const (
	DefaultUserAgent = "SaaS-POS-Webhook/1.0"

	// maxErrorExcerpt bounds the response body quoted in error messages.
	maxErrorExcerpt = 500
	// maxStoredBody bounds the response body kept on the attempt record.
	maxStoredBody = 10000
	// maxReadBody caps how much of a response is read off the wire.
	maxReadBody = 4 * maxStoredBody

	recordTimeout = 5 * time.Second
)

const timeoutMessage = "Request timed out"

// AttemptRecorder persists delivery attempts.
type AttemptRecorder interface {
	RecordDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// AttemptResult is the outcome of a single delivery attempt.
type AttemptResult struct {
	Success      bool
	StatusCode   *int
	ErrorMessage string
	Duration     time.Duration
	Record       domain.DeliveryAttempt
}

// DelivererConfig carries the optional collaborators of a Deliverer.
type DelivererConfig struct {
	HTTPClient *http.Client
	UserAgent  string
	Hub        *ws.Hub
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// Deliverer handles the HTTP delivery of webhook payloads to subscriber endpoints.
type Deliverer struct {
	httpClient *http.Client
	recorder   AttemptRecorder
	hub        *ws.Hub
	metrics    *observability.Metrics
	userAgent  string
	now        func() time.Time
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer. The HTTP client should not carry its own
// Timeout; every attempt is bounded by the subscription's timeout instead.
func NewDeliverer(recorder AttemptRecorder, logger *slog.Logger, cfg DelivererConfig) *Deliverer {
	d := &Deliverer{
		httpClient: cfg.HTTPClient,
		recorder:   recorder,
		hub:        cfg.Hub,
		metrics:    cfg.Metrics,
		userAgent:  cfg.UserAgent,
		now:        cfg.Now,
		logger:     logger,
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{}
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Attempt performs one signed POST of event/data to the subscription's URL
// and records the outcome. It never returns an error: timeouts, transport
// failures and non-2xx responses all come back as an unsuccessful result.
func (d *Deliverer) Attempt(ctx context.Context, sub domain.Subscription, event domain.EventKind, data json.RawMessage, attemptNumber int) AttemptResult {
	envelope := domain.NewEnvelope(event, data, d.now())
	body, err := json.Marshal(envelope)
	if err != nil {
		// data is a RawMessage that failed to validate
		return d.finish(ctx, sub, event, nil, nil, attemptNumber, time.Now(), outcome{
			errMsg: fmt.Sprintf("encoding payload: %v", err),
		})
	}

	headers := d.requestHeaders(sub, event, envelope.Timestamp, body)

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return d.finish(ctx, sub, event, body, headers, attemptNumber, start, outcome{
			errMsg: fmt.Sprintf("creating request: %v", err),
		})
	}
	req.Header = headers

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.finish(ctx, sub, event, body, headers, attemptNumber, start, outcome{
			errMsg: transportError(attemptCtx, err),
		})
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	res := outcome{
		status:      &status,
		respHeaders: flattenHeaders(resp.Header),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBody))
	respBody := string(raw)
	res.respBody = &respBody
	switch {
	case err != nil:
		res.errMsg = transportError(attemptCtx, err)
	case status >= 200 && status < 300:
		res.success = true
	default:
		res.errMsg = fmt.Sprintf("HTTP %d: %s", status, truncateRunes(respBody, maxErrorExcerpt))
	}

	return d.finish(ctx, sub, event, body, headers, attemptNumber, start, res)
}

type outcome struct {
	success     bool
	status      *int
	respBody    *string
	respHeaders map[string]string
	errMsg      string
}

func (d *Deliverer) requestHeaders(sub domain.Subscription, event domain.EventKind, timestamp string, body []byte) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Webhook-Event", string(event))
	h.Set("X-Webhook-Signature", signer.SignBytes(body, sub.SigningSecret()))
	h.Set("X-Webhook-Timestamp", timestamp)
	h.Set("X-Webhook-Id", sub.ID)
	h.Set("User-Agent", d.userAgent)
	for k, v := range sub.Headers {
		h.Set(k, v)
	}
	return h
}

// finish builds the attempt record, persists it and notifies observers.
func (d *Deliverer) finish(ctx context.Context, sub domain.Subscription, event domain.EventKind, body []byte, headers http.Header, attemptNumber int, start time.Time, o outcome) AttemptResult {
	elapsed := time.Since(start)

	record := domain.DeliveryAttempt{
		OrganizationID:  sub.OrganizationID,
		SubscriptionID:  sub.ID,
		Event:           event,
		URL:             sub.URL,
		Payload:         json.RawMessage(body),
		RequestHeaders:  flattenHeaders(headers),
		ResponseStatus:  o.status,
		ResponseHeaders: o.respHeaders,
		DurationMs:      int(elapsed.Milliseconds()),
		Success:         o.success,
		AttemptNumber:   attemptNumber,
		CreatedAt:       d.now().UTC(),
	}
	if o.respBody != nil {
		stored := truncateRunes(*o.respBody, maxStoredBody)
		record.ResponseBody = &stored
	}
	if o.errMsg != "" {
		msg := o.errMsg
		record.ErrorMessage = &msg
	}

	d.record(ctx, record)
	d.metrics.RecordAttempt(ctx, record)
	d.broadcast(record)

	if record.Success {
		d.logger.Info("delivery successful",
			"subscription_id", sub.ID,
			"event", event,
			"attempt", attemptNumber,
			"status_code", o.status,
			"duration_ms", record.DurationMs,
		)
	} else {
		d.logger.Warn("delivery failed",
			"subscription_id", sub.ID,
			"event", event,
			"attempt", attemptNumber,
			"error", o.errMsg,
			"status_code", o.status,
			"duration_ms", record.DurationMs,
		)
	}

	return AttemptResult{
		Success:      record.Success,
		StatusCode:   o.status,
		ErrorMessage: o.errMsg,
		Duration:     elapsed,
		Record:       record,
	}
}

// record persists the attempt on a context detached from the attempt's
// deadline. Failures are logged and dropped.
func (d *Deliverer) record(ctx context.Context, record domain.DeliveryAttempt) {
	if d.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := d.recorder.RecordDeliveryAttempt(recordCtx, record); err != nil {
		d.logger.Error("failed to record delivery attempt",
			"error", err,
			"subscription_id", record.SubscriptionID,
			"attempt", record.AttemptNumber,
		)
	}
}

func (d *Deliverer) broadcast(record domain.DeliveryAttempt) {
	if d.hub == nil {
		return
	}
	eventType := ws.TypeDeliverySuccess
	if !record.Success {
		eventType = ws.TypeDeliveryFailed
	}
	d.hub.Broadcast(ws.DeliveryEvent{
		Type:           eventType,
		OrganizationID: record.OrganizationID,
		SubscriptionID: record.SubscriptionID,
		URL:            record.URL,
		Event:          string(record.Event),
		Attempt:        record.AttemptNumber,
		StatusCode:     record.ResponseStatus,
		DurationMs:     record.DurationMs,
		Error:          deref(record.ErrorMessage),
		Timestamp:      record.CreatedAt,
	})
}

// transportError classifies a failed request. Hitting the attempt deadline
// reads as a timeout; anything else keeps the transport's own message.
func transportError(attemptCtx context.Context, err error) string {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return timeoutMessage
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutMessage
	}
	return err.Error()
}

func flattenHeaders(h http.Header) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
