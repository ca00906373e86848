package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/webhook-relay/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps subscriptions and attempts in process memory. Every
// method holds the lock for the whole operation, so stat updates are atomic
// with respect to each other just like the SQL statements they mirror.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*domain.Subscription
	attempts      []domain.DeliveryAttempt
	now           func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*domain.Subscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := cloneSubscription(&sub)
	created.ID = uuid.NewString()
	created.FailureCount = 0
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Headers == nil {
		created.Headers = map[string]string{}
	}
	s.subscriptions[created.ID] = created

	return cloneSubscription(created), nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, orgID, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.OrganizationID != orgID {
		return nil, nil
	}
	return cloneSubscription(sub), nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, orgID string) ([]domain.Subscription, error) {
	subs := s.filter(func(sub *domain.Subscription) bool { return sub.OrganizationID == orgID })
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) ListActiveSubscriptions(_ context.Context, orgID string) ([]domain.Subscription, error) {
	subs := s.filter(func(sub *domain.Subscription) bool {
		return sub.OrganizationID == orgID && sub.IsActive
	})
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) filter(keep func(*domain.Subscription) bool) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Subscription{}
	for _, sub := range s.subscriptions {
		if keep(sub) {
			out = append(out, *cloneSubscription(sub))
		}
	}
	return out
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, orgID, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.OrganizationID != orgID {
		return nil, ErrNotFound
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.URL != nil {
		sub.URL = *req.URL
	}
	if req.Events != nil {
		sub.Events = slices.Clone(*req.Events)
	}
	if req.Secret != nil {
		secret := *req.Secret
		sub.Secret = &secret
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if req.Headers != nil {
		sub.Headers = maps.Clone(*req.Headers)
	}
	if req.RetryCount != nil {
		sub.RetryCount = *req.RetryCount
	}
	if req.TimeoutMs != nil {
		sub.TimeoutMs = *req.TimeoutMs
	}
	sub.UpdatedAt = s.now()

	return cloneSubscription(sub), nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || sub.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStore) RecordAttemptSuccess(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(sub *domain.Subscription) {
		sub.LastTriggeredAt = &at
		sub.LastSuccessAt = &at
		sub.FailureCount = 0
	})
}

func (s *MemoryStore) RecordAttemptFailure(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(sub *domain.Subscription) {
		sub.LastTriggeredAt = &at
		sub.LastFailureAt = &at
	})
}

func (s *MemoryStore) RecordChainFailure(_ context.Context, id string, disableThreshold int) (ChainFailure, error) {
	var result ChainFailure
	err := s.mutate(id, func(sub *domain.Subscription) {
		sub.FailureCount++
		result.FailureCount = sub.FailureCount
		if sub.FailureCount >= disableThreshold && sub.IsActive {
			sub.IsActive = false
			result.Disabled = true
		}
	})
	return result, err
}

func (s *MemoryStore) mutate(id string, fn func(*domain.Subscription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return ErrNotFound
	}
	fn(sub)
	return nil
}

func (s *MemoryStore) RecordDeliveryAttempt(_ context.Context, a domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *MemoryStore) ListDeliveryAttempts(_ context.Context, orgID, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = normalizeLimit(limit)
	out := []domain.DeliveryAttempt{}
	for i := len(s.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.attempts[i]
		if a.OrganizationID == orgID && a.SubscriptionID == subscriptionID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Attempts returns every recorded attempt in insertion order.
func (s *MemoryStore) Attempts() []domain.DeliveryAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attempts)
}

func (s *MemoryStore) GetDeliveryStats(_ context.Context, orgID string) (*domain.DeliveryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		m          domain.DeliveryStats
		durationMs int
	)
	for _, a := range s.attempts {
		if a.OrganizationID != orgID {
			continue
		}
		m.TotalAttempts++
		durationMs += a.DurationMs
		if a.Success {
			m.SuccessCount++
		} else {
			m.FailedCount++
		}
	}
	if m.TotalAttempts > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalAttempts) * 100
		m.AvgDurationMs = float64(durationMs) / float64(m.TotalAttempts)
	}
	for _, sub := range s.subscriptions {
		if sub.OrganizationID != orgID {
			continue
		}
		m.TotalSubscriptions++
		if sub.IsActive {
			m.ActiveSubscriptions++
		}
	}
	return &m, nil
}

func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	c.Events = slices.Clone(sub.Events)
	c.Headers = maps.Clone(sub.Headers)
	if sub.Secret != nil {
		secret := *sub.Secret
		c.Secret = &secret
	}
	c.LastTriggeredAt = cloneTime(sub.LastTriggeredAt)
	c.LastSuccessAt = cloneTime(sub.LastSuccessAt)
	c.LastFailureAt = cloneTime(sub.LastFailureAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
