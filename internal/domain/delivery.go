package domain

import (
	"encoding/json"
	"time"
)

// DeliveryAttempt is one HTTP attempt against a subscription. Rows are
// written once by the delivery executor and never updated.
type DeliveryAttempt struct {
	ID              string            `json:"id"`
	OrganizationID  string            `json:"organization_id"`
	SubscriptionID  string            `json:"subscription_id"`
	Event           EventKind         `json:"event"`
	URL             string            `json:"url"`
	Payload         json.RawMessage   `json:"payload"`
	RequestHeaders  map[string]string `json:"request_headers"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseBody    *string           `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	DurationMs      int               `json:"duration_ms"`
	Success         bool              `json:"success"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	AttemptNumber   int               `json:"attempt_number"`
	CreatedAt       time.Time         `json:"created_at"`
}

// DeliveryStats aggregates attempt outcomes for one organization.
type DeliveryStats struct {
	TotalAttempts       int     `json:"total_attempts"`
	SuccessCount        int     `json:"success_count"`
	FailedCount         int     `json:"failed_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgDurationMs       float64 `json:"avg_duration_ms"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
	TotalSubscriptions  int     `json:"total_subscriptions"`
}
