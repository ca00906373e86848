package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSubscription(t *testing.T, s *MemoryStore, orgID string, events ...domain.EventKind) *domain.Subscription {
	t.Helper()
	sub, err := s.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		Name:   "orders",
		URL:    "http://example.com/hook",
		Events: events,
	}.Apply(orgID))
	require.NoError(t, err)
	return sub
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)
	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.IsActive)
	assert.Equal(t, domain.DefaultRetryCount, sub.RetryCount)
	assert.Equal(t, domain.DefaultTimeoutMs, sub.TimeoutMs)

	got, err := s.GetSubscription(ctx, "org-1", sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sub.URL, got.URL)

	other, err := s.GetSubscription(ctx, "org-2", sub.ID)
	require.NoError(t, err)
	assert.Nil(t, other, "subscriptions are scoped to their organization")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)

	sub.Headers["X-Mutated"] = "yes"
	sub.Events[0] = domain.EventUserLogin

	got, err := s.GetSubscription(ctx, "org-1", sub.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Headers, "X-Mutated")
	assert.Equal(t, domain.EventOrderCreated, got.Events[0])
}

func TestMemoryStore_ListActiveSubscriptions(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	active := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)
	inactive := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)
	createTestSubscription(t, s, "org-2", domain.EventOrderCreated)

	off := false
	_, err := s.UpdateSubscription(ctx, "org-1", inactive.ID, domain.UpdateSubscriptionRequest{IsActive: &off})
	require.NoError(t, err)

	subs, err := s.ListActiveSubscriptions(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, active.ID, subs[0].ID)

	all, err := s.ListSubscriptions(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_UpdateAndDelete_NotFound(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)

	name := "renamed"
	_, err := s.UpdateSubscription(ctx, "org-2", sub.ID, domain.UpdateSubscriptionRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteSubscription(ctx, "org-2", sub.ID), ErrNotFound)
	require.NoError(t, s.DeleteSubscription(ctx, "org-1", sub.ID))
	assert.ErrorIs(t, s.DeleteSubscription(ctx, "org-1", sub.ID), ErrNotFound)
}

func TestMemoryStore_AttemptStats(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordAttemptFailure(ctx, sub.ID, at))
	got, _ := s.GetSubscription(ctx, "org-1", sub.ID)
	assert.Equal(t, 0, got.FailureCount, "attempt failures do not move the chain counter")
	assert.Equal(t, at, *got.LastFailureAt)
	assert.Equal(t, at, *got.LastTriggeredAt)

	res, err := s.RecordChainFailure(ctx, sub.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailureCount)
	assert.False(t, res.Disabled)

	later := at.Add(time.Minute)
	require.NoError(t, s.RecordAttemptSuccess(ctx, sub.ID, later))
	got, _ = s.GetSubscription(ctx, "org-1", sub.ID)
	assert.Equal(t, 0, got.FailureCount)
	assert.Equal(t, later, *got.LastSuccessAt)

	assert.ErrorIs(t, s.RecordAttemptSuccess(ctx, "missing", later), ErrNotFound)
}

func TestMemoryStore_ChainFailureDisablesAtThreshold(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)

	for i := 1; i < 3; i++ {
		res, err := s.RecordChainFailure(ctx, sub.ID, 3)
		require.NoError(t, err)
		assert.False(t, res.Disabled, "failure %d", i)
	}

	res, err := s.RecordChainFailure(ctx, sub.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.FailureCount)
	assert.True(t, res.Disabled)

	res, err = s.RecordChainFailure(ctx, sub.ID, 3)
	require.NoError(t, err)
	assert.False(t, res.Disabled, "already inactive subscriptions are not disabled twice")

	got, _ := s.GetSubscription(ctx, "org-1", sub.ID)
	assert.False(t, got.IsActive)
}

func TestMemoryStore_ConcurrentChainFailures(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	sub := createTestSubscription(t, s, "org-1", domain.EventOrderCreated)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordChainFailure(ctx, sub.ID, 1000)
		}()
	}
	wg.Wait()

	got, _ := s.GetSubscription(ctx, "org-1", sub.ID)
	assert.Equal(t, 50, got.FailureCount)
}

func TestMemoryStore_ListDeliveryAttempts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.RecordDeliveryAttempt(ctx, domain.DeliveryAttempt{
			OrganizationID: "org-1",
			SubscriptionID: "sub-1",
			AttemptNumber:  i,
			Success:        i == 5,
			DurationMs:     10 * i,
		}))
	}
	require.NoError(t, s.RecordDeliveryAttempt(ctx, domain.DeliveryAttempt{OrganizationID: "org-1", SubscriptionID: "sub-2"}))

	attempts, err := s.ListDeliveryAttempts(ctx, "org-1", "sub-1", 2)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 5, attempts[0].AttemptNumber, "newest first")
	assert.Equal(t, 4, attempts[1].AttemptNumber)
	assert.NotEmpty(t, attempts[0].ID)

	stats, err := s.GetDeliveryStats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalAttempts)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 5, stats.FailedCount)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestMigrations_Embedded(t *testing.T) {
	files, err := pendingMigrationFiles(Migrations())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create_webhooks.up.sql", "002_create_webhook_logs.up.sql"}, files)
}
