package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKind_Valid(t *testing.T) {
	assert.True(t, EventOrderCreated.Valid())
	assert.True(t, EventUserLogin.Valid())
	assert.False(t, EventKind("order.shipped").Valid())
	assert.False(t, EventKind("").Valid())
	assert.Len(t, AvailableEvents(), 14)
}

func TestAvailableEvents_ReturnsCopy(t *testing.T) {
	events := AvailableEvents()
	events[0].Event = "mutated"
	assert.Equal(t, EventOrderCreated, AvailableEvents()[0].Event)
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("CET", 3600))

	env := NewEnvelope(EventOrderCreated, json.RawMessage(`{"id":1}`), at)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"order.created","timestamp":"2024-05-06T06:08:09.123Z","data":{"id":1}}`, string(body))

	env = NewEnvelope(EventOrderCreated, nil, at)
	assert.Equal(t, "null", string(env.Data))
}

func TestSubscription_Wants(t *testing.T) {
	sub := Subscription{Events: []EventKind{EventOrderCreated, EventPaymentFailed}}
	assert.True(t, sub.Wants(EventPaymentFailed))
	assert.False(t, sub.Wants(EventOrderUpdated))
}

func TestSubscription_Policy(t *testing.T) {
	sub := Subscription{}
	assert.Equal(t, 30*time.Second, sub.Timeout())
	assert.Equal(t, 1, sub.MaxAttempts())
	assert.Equal(t, "", sub.SigningSecret())

	secret := "s"
	sub = Subscription{TimeoutMs: 100, RetryCount: 5, Secret: &secret}
	assert.Equal(t, 100*time.Millisecond, sub.Timeout())
	assert.Equal(t, 5, sub.MaxAttempts())
	assert.Equal(t, "s", sub.SigningSecret())
}

func TestCreateSubscriptionRequest_Apply(t *testing.T) {
	sub := CreateSubscriptionRequest{
		Name:   "orders",
		URL:    "https://example.com/hook",
		Events: []EventKind{EventOrderCreated},
	}.Apply("org-1")

	assert.Equal(t, "org-1", sub.OrganizationID)
	assert.True(t, sub.IsActive)
	assert.Equal(t, DefaultRetryCount, sub.RetryCount)
	assert.Equal(t, DefaultTimeoutMs, sub.TimeoutMs)
	assert.NotNil(t, sub.Headers)

	off, retries := false, 7
	sub = CreateSubscriptionRequest{IsActive: &off, RetryCount: &retries}.Apply("org-1")
	assert.False(t, sub.IsActive)
	assert.Equal(t, 7, sub.RetryCount)
}

func TestCreateSubscriptionRequest_Validate(t *testing.T) {
	valid := func() CreateSubscriptionRequest {
		return CreateSubscriptionRequest{
			Name:   "orders",
			URL:    "https://example.com/hook",
			Events: []EventKind{EventOrderCreated},
		}
	}
	zero := 0

	tests := []struct {
		name   string
		mutate func(*CreateSubscriptionRequest)
		field  string
	}{
		{"valid", func(*CreateSubscriptionRequest) {}, ""},
		{"missing name", func(r *CreateSubscriptionRequest) { r.Name = "" }, "name"},
		{"missing url", func(r *CreateSubscriptionRequest) { r.URL = "" }, "url"},
		{"relative url", func(r *CreateSubscriptionRequest) { r.URL = "/hook" }, "url"},
		{"ftp url", func(r *CreateSubscriptionRequest) { r.URL = "ftp://example.com" }, "url"},
		{"no events", func(r *CreateSubscriptionRequest) { r.Events = nil }, "events"},
		{"unknown event", func(r *CreateSubscriptionRequest) { r.Events = []EventKind{"order.shipped"} }, "events"},
		{"zero retries", func(r *CreateSubscriptionRequest) { r.RetryCount = &zero }, "retry_count"},
		{"zero timeout", func(r *CreateSubscriptionRequest) { r.TimeoutMs = &zero }, "timeout_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestUpdateSubscriptionRequest_Validate(t *testing.T) {
	empty := ""
	badURL := "not a url"
	events := []EventKind{"nope"}

	assert.NoError(t, UpdateSubscriptionRequest{}.Validate())
	assert.Error(t, UpdateSubscriptionRequest{Name: &empty}.Validate())
	assert.Error(t, UpdateSubscriptionRequest{URL: &badURL}.Validate())
	assert.Error(t, UpdateSubscriptionRequest{Events: &events}.Validate())
}
