// Package engine turns triggered events into delivery chains: it matches
// subscriptions, runs attempts, schedules retries and applies the failure
// policy.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/Priya8975/webhook-relay/internal/observability"
	"github.com/Priya8975/webhook-relay/internal/signer"
	"github.com/Priya8975/webhook-relay/internal/store"
	ws "github.com/Priya8975/webhook-relay/internal/websocket"
	"github.com/Priya8975/webhook-relay/internal/worker"
	"github.com/google/uuid"
)

const statsTimeout = 5 * time.Second

// ErrClosed is returned by Test once the dispatcher has begun shutting down.
var ErrClosed = errors.New("dispatcher closed")

// SubscriptionStore is the slice of the store the engine needs.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, orgID, id string) (*domain.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, orgID string) ([]domain.Subscription, error)
	RecordAttemptSuccess(ctx context.Context, id string, at time.Time) error
	RecordAttemptFailure(ctx context.Context, id string, at time.Time) error
	RecordChainFailure(ctx context.Context, id string, disableThreshold int) (store.ChainFailure, error)
}

// Attempter performs one delivery attempt.
type Attempter interface {
	Attempt(ctx context.Context, sub domain.Subscription, event domain.EventKind, data json.RawMessage, attemptNumber int) worker.AttemptResult
}

// Config carries the optional collaborators of a Dispatcher.
type Config struct {
	DisableThreshold int
	Hub              *ws.Hub
	Metrics          *observability.Metrics
	Now              func() time.Time
	// Backoff overrides the delay before a retry. Defaults to Backoff.
	Backoff func(attempt int) time.Duration
}

// TestResult is returned by Test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Dispatcher starts one delivery chain per matching subscription and owns
// the goroutines running them.
type Dispatcher struct {
	store     SubscriptionStore
	attempter Attempter
	scheduler Scheduler
	hub       *ws.Hub
	metrics   *observability.Metrics
	threshold int
	backoff   func(attempt int) time.Duration
	now       func() time.Time
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(st SubscriptionStore, attempter Attempter, scheduler Scheduler, logger *slog.Logger, cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:     st,
		attempter: attempter,
		scheduler: scheduler,
		hub:       cfg.Hub,
		metrics:   cfg.Metrics,
		threshold: cfg.DisableThreshold,
		backoff:   cfg.Backoff,
		now:       cfg.Now,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if d.threshold <= 0 {
		d.threshold = DefaultDisableThreshold
	}
	if d.backoff == nil {
		d.backoff = Backoff
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// Start connects the dispatcher to its scheduler so deferred retries flow
// back into chains.
func (d *Dispatcher) Start() {
	d.scheduler.Start(d.ctx, d.handleRetry)
	d.logger.Info("dispatcher started", "disable_threshold", d.threshold)
}

// Close cancels in-flight attempts, stops the scheduler and waits for every
// chain and retry handler to return.
func (d *Dispatcher) Close() {
	d.stopAccepting()
	d.cancel()
	d.drain()
	d.logger.Info("dispatcher stopped")
}

// Shutdown stops new chains and pending retries, then gives attempts already
// on the wire, first attempts and retries alike, until ctx ends to finish.
// Whatever is still running at the deadline is cancelled and abandoned
// without counting as a failed chain.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.stopAccepting()

	done := make(chan struct{})
	go func() {
		d.drain()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, cancelling in-flight deliveries")
		d.cancel()
		<-done
	}
	d.cancel()
	d.logger.Info("dispatcher stopped")
}

// stopAccepting makes startChain a no-op. No wg.Add happens after it returns.
func (d *Dispatcher) stopAccepting() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// drain waits for running retry handlers, which the scheduler owns, and for
// first attempts, which the dispatcher owns.
func (d *Dispatcher) drain() {
	d.scheduler.Stop()
	d.wg.Wait()
}

// track registers a chain goroutine, or reports false after shutdown began.
func (d *Dispatcher) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

// Wait blocks until every chain started so far has finished its current
// attempt. Retries deferred to the scheduler are not waited for. It must not
// run concurrently with Trigger or Test.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Trigger delivers event to every active subscription of orgID that wants
// it. It returns once the chains are started; their outcomes only show up in
// the delivery log. Errors are logged, never returned.
func (d *Dispatcher) Trigger(ctx context.Context, orgID string, event domain.EventKind, data any) {
	raw, err := marshalData(data)
	if err != nil {
		d.logger.Error("failed to encode event data", "error", err, "organization_id", orgID, "event", event)
		return
	}

	subs, err := d.store.ListActiveSubscriptions(ctx, orgID)
	if err != nil {
		d.logger.Error("failed to load subscriptions", "error", err, "organization_id", orgID, "event", event)
		return
	}

	started := 0
	for _, sub := range subs {
		if !sub.Wants(event) {
			continue
		}
		if !d.startChain(sub, event, raw) {
			d.logger.Warn("dispatcher closed, event not delivered", "organization_id", orgID, "event", event)
			return
		}
		started++
	}

	if started > 0 {
		d.logger.Info("triggering webhooks", "organization_id", orgID, "event", event, "count", started)
	}
}

// Test sends a synthetic order.created delivery to one subscription without
// waiting for it, regardless of its event filter.
func (d *Dispatcher) Test(ctx context.Context, subscriptionID, orgID string) (TestResult, error) {
	sub, err := d.store.GetSubscription(ctx, orgID, subscriptionID)
	if err != nil {
		return TestResult{}, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return TestResult{Success: false, Message: "Webhook not found"}, nil
	}

	data, err := json.Marshal(map[string]string{
		"type":      "test",
		"message":   "This is a test webhook delivery",
		"timestamp": domain.FormatTimestamp(d.now()),
	})
	if err != nil {
		return TestResult{}, fmt.Errorf("encoding test payload: %w", err)
	}

	if !d.startChain(*sub, domain.EventOrderCreated, data) {
		return TestResult{}, ErrClosed
	}
	return TestResult{Success: true, Message: "Test webhook sent"}, nil
}

// VerifyIncomingSignature checks a signature header against a raw body.
func (d *Dispatcher) VerifyIncomingSignature(body []byte, signatureHeader, secret string) bool {
	return signer.Verify(body, signatureHeader, secret)
}

func (d *Dispatcher) startChain(sub domain.Subscription, event domain.EventKind, data json.RawMessage) bool {
	if !d.track() {
		return false
	}

	job := RetryJob{
		ID:             uuid.NewString(),
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
		Event:          event,
		Data:           data,
		Attempt:        1,
	}

	d.metrics.RecordChainStarted(d.ctx)
	go func() {
		defer d.wg.Done()
		d.runAttempt(d.ctx, sub, job)
	}()
	return true
}

// handleRetry runs a due retry. The subscription is re-read so deletions and
// deactivations since the previous attempt end the chain.
func (d *Dispatcher) handleRetry(ctx context.Context, job RetryJob) {
	sub, err := d.store.GetSubscription(ctx, job.OrganizationID, job.SubscriptionID)
	if err != nil {
		d.logger.Error("failed to reload subscription for retry",
			"error", err,
			"subscription_id", job.SubscriptionID,
			"attempt", job.Attempt,
		)
		d.metrics.RecordChainAbandoned(ctx)
		return
	}
	if sub == nil || !sub.IsActive {
		d.logger.Info("dropping retry for removed or inactive subscription",
			"subscription_id", job.SubscriptionID,
			"attempt", job.Attempt,
		)
		d.metrics.RecordChainAbandoned(ctx)
		return
	}

	d.runAttempt(ctx, *sub, job)
}

// runAttempt performs attempt job.Attempt and moves the chain to its next state.
func (d *Dispatcher) runAttempt(ctx context.Context, sub domain.Subscription, job RetryJob) {
	res := d.attempter.Attempt(ctx, sub, job.Event, job.Data, job.Attempt)

	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
	defer cancel()

	at := d.now()
	var err error
	if res.Success {
		err = d.store.RecordAttemptSuccess(statsCtx, sub.ID, at)
	} else {
		err = d.store.RecordAttemptFailure(statsCtx, sub.ID, at)
	}
	if err != nil {
		d.logger.Error("failed to update subscription stats", "error", err, "subscription_id", sub.ID)
	}

	step := decide(res.Success, job.Attempt, sub.MaxAttempts())
	if step != stepSucceeded && ctx.Err() != nil {
		// cancelled by shutdown
		d.abandon(ctx, sub, job)
		return
	}

	switch step {
	case stepSucceeded:
		d.metrics.RecordChainFinished(ctx, job.Event, true)

	case stepRetry:
		d.scheduleRetry(ctx, statsCtx, sub, job)

	case stepFailed:
		d.failChain(statsCtx, sub, job)
	}
}

func (d *Dispatcher) scheduleRetry(ctx, statsCtx context.Context, sub domain.Subscription, job RetryJob) {
	delay := d.backoff(job.Attempt)
	next := job
	next.ID = uuid.NewString()
	next.Attempt = job.Attempt + 1

	if err := d.scheduler.Schedule(ctx, next, delay); err != nil {
		if errors.Is(err, ErrSchedulerStopped) {
			d.abandon(ctx, sub, job)
			return
		}
		d.logger.Error("failed to schedule retry", "error", err, "subscription_id", sub.ID, "attempt", next.Attempt)
		d.failChain(statsCtx, sub, job)
		return
	}

	d.logger.Info("retrying webhook",
		"subscription_id", sub.ID,
		"attempt", next.Attempt,
		"delay_ms", delay.Milliseconds(),
	)
	d.metrics.RecordRetryScheduled(ctx, job.Event)
	d.broadcast(ws.DeliveryEvent{
		Type:           ws.TypeDeliveryRetrying,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Event:          string(job.Event),
		Attempt:        next.Attempt,
		RetryInMs:      delay.Milliseconds(),
	})
}

func (d *Dispatcher) abandon(ctx context.Context, sub domain.Subscription, job RetryJob) {
	d.logger.Info("abandoning delivery chain at shutdown",
		"subscription_id", sub.ID,
		"event", job.Event,
		"attempt", job.Attempt,
	)
	d.metrics.RecordChainAbandoned(ctx)
}

// failChain records an exhausted chain and applies the disable threshold.
// The store returns the post-increment count, so concurrent chains never
// compare against a stale value.
func (d *Dispatcher) failChain(ctx context.Context, sub domain.Subscription, job RetryJob) {
	d.metrics.RecordChainFinished(ctx, job.Event, false)
	d.logger.Warn("webhook failed after all attempts",
		"subscription_id", sub.ID,
		"event", job.Event,
		"attempts", job.Attempt,
	)

	res, err := d.store.RecordChainFailure(ctx, sub.ID, d.threshold)
	if err != nil {
		d.logger.Error("failed to record chain failure", "error", err, "subscription_id", sub.ID)
		return
	}

	d.broadcast(ws.DeliveryEvent{
		Type:           ws.TypeChainFailed,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Event:          string(job.Event),
		Attempt:        job.Attempt,
		FailureCount:   res.FailureCount,
	})

	if res.Disabled {
		d.logger.Warn("webhook disabled due to repeated failures",
			"subscription_id", sub.ID,
			"failure_count", res.FailureCount,
		)
		d.metrics.RecordSubscriptionDisabled(ctx)
		d.broadcast(ws.DeliveryEvent{
			Type:           ws.TypeSubscriptionDisabled,
			OrganizationID: sub.OrganizationID,
			SubscriptionID: sub.ID,
			URL:            sub.URL,
			FailureCount:   res.FailureCount,
		})
	}
}

func (d *Dispatcher) broadcast(event ws.DeliveryEvent) {
	if d.hub == nil {
		return
	}
	event.Timestamp = d.now()
	d.hub.Broadcast(event)
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("event data is not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
