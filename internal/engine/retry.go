package engine

import (
	"encoding/json"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
)

// DefaultDisableThreshold is the number of consecutive failed chains after
// which a subscription is switched off.
const DefaultDisableThreshold = 10

// RetryJob is a deferred attempt of a delivery chain. It carries identifiers
// only; the subscription is re-read when the job comes due.
type RetryJob struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	SubscriptionID string           `json:"subscription_id"`
	Event          domain.EventKind `json:"event"`
	Data           json.RawMessage  `json:"data"`
	Attempt        int              `json:"attempt"`
}

// Backoff is the delay before the attempt that follows a failed attempt n:
// 2^n seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<attempt) * time.Second
}

// nextStep is the transition a chain takes after an attempt.
type nextStep int

const (
	stepSucceeded nextStep = iota
	stepRetry
	stepFailed
)

// decide implements the chain state machine: success ends the chain,
// a failure before the cap retries, a failure at the cap fails the chain.
func decide(success bool, attempt, maxAttempts int) nextStep {
	switch {
	case success:
		return stepSucceeded
	case attempt < maxAttempts:
		return stepRetry
	default:
		return stepFailed
	}
}
