// Package store persists webhook subscriptions and their delivery attempts.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
)

// ErrNotFound is returned by mutations that target a missing subscription.
var ErrNotFound = errors.New("subscription not found")

// DefaultLogLimit caps attempt listings when the caller passes no limit.
const DefaultLogLimit = 50

// ChainFailure is the authoritative subscription state after a delivery chain
// was recorded as failed.
type ChainFailure struct {
	FailureCount int
	Disabled     bool
}

// Store is the full persistence surface used by the server.
type Store interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, orgID, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string) ([]domain.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, orgID string) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, orgID, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, orgID, id string) error

	RecordAttemptSuccess(ctx context.Context, id string, at time.Time) error
	RecordAttemptFailure(ctx context.Context, id string, at time.Time) error
	RecordChainFailure(ctx context.Context, id string, disableThreshold int) (ChainFailure, error)

	RecordDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	ListDeliveryAttempts(ctx context.Context, orgID, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)
	GetDeliveryStats(ctx context.Context, orgID string) (*domain.DeliveryStats, error)
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	return limit
}
