package domain

import "time"

const (
	DefaultRetryCount = 3
	DefaultTimeoutMs  = 30000
)

// Subscription is a tenant's registered webhook endpoint together with its
// event filter and delivery policy.
type Subscription struct {
	ID              string            `json:"id"`
	OrganizationID  string            `json:"organization_id"`
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Events          []EventKind       `json:"events"`
	Secret          *string           `json:"secret,omitempty"`
	IsActive        bool              `json:"is_active"`
	Headers         map[string]string `json:"headers,omitempty"`
	RetryCount      int               `json:"retry_count"`
	TimeoutMs       int               `json:"timeout_ms"`
	FailureCount    int               `json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	LastSuccessAt   *time.Time        `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time        `json:"last_failure_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Wants reports whether the subscription's event set contains event.
func (s *Subscription) Wants(event EventKind) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// SigningSecret returns the secret or "" when the subscription is unsigned.
func (s *Subscription) SigningSecret() string {
	if s.Secret == nil {
		return ""
	}
	return *s.Secret
}

// Timeout is the per-attempt deadline, falling back to the default for
// non-positive values.
func (s *Subscription) Timeout() time.Duration {
	ms := s.TimeoutMs
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// MaxAttempts is the chain length, never less than one attempt.
func (s *Subscription) MaxAttempts() int {
	if s.RetryCount < 1 {
		return 1
	}
	return s.RetryCount
}

type CreateSubscriptionRequest struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Events     []EventKind       `json:"events"`
	Secret     *string           `json:"secret,omitempty"`
	IsActive   *bool             `json:"is_active,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	RetryCount *int              `json:"retry_count,omitempty"`
	TimeoutMs  *int              `json:"timeout_ms,omitempty"`
}

type UpdateSubscriptionRequest struct {
	Name       *string            `json:"name,omitempty"`
	URL        *string            `json:"url,omitempty"`
	Events     *[]EventKind       `json:"events,omitempty"`
	Secret     *string            `json:"secret,omitempty"`
	IsActive   *bool              `json:"is_active,omitempty"`
	Headers    *map[string]string `json:"headers,omitempty"`
	RetryCount *int               `json:"retry_count,omitempty"`
	TimeoutMs  *int               `json:"timeout_ms,omitempty"`
}

// Apply copies the request onto a subscription value, filling defaults.
func (r CreateSubscriptionRequest) Apply(orgID string) Subscription {
	sub := Subscription{
		OrganizationID: orgID,
		Name:           r.Name,
		URL:            r.URL,
		Events:         r.Events,
		Secret:         r.Secret,
		IsActive:       true,
		Headers:        r.Headers,
		RetryCount:     DefaultRetryCount,
		TimeoutMs:      DefaultTimeoutMs,
	}
	if r.IsActive != nil {
		sub.IsActive = *r.IsActive
	}
	if r.RetryCount != nil {
		sub.RetryCount = *r.RetryCount
	}
	if r.TimeoutMs != nil {
		sub.TimeoutMs = *r.TimeoutMs
	}
	if sub.Headers == nil {
		sub.Headers = map[string]string{}
	}
	return sub
}
