package domain

import (
	"encoding/json"
	"time"
)

// EventKind is one value from the closed set of domain events a subscription
// can ask to be notified about.
type EventKind string

const (
	EventOrderCreated    EventKind = "order.created"
	EventOrderUpdated    EventKind = "order.updated"
	EventOrderCompleted  EventKind = "order.completed"
	EventOrderCancelled  EventKind = "order.cancelled"
	EventProductCreated  EventKind = "product.created"
	EventProductUpdated  EventKind = "product.updated"
	EventProductDeleted  EventKind = "product.deleted"
	EventProductLowStock EventKind = "product.low_stock"
	EventCustomerCreated EventKind = "customer.created"
	EventCustomerUpdated EventKind = "customer.updated"
	EventPaymentSuccess  EventKind = "payment.success"
	EventPaymentFailed   EventKind = "payment.failed"
	EventUserCreated     EventKind = "user.created"
	EventUserLogin       EventKind = "user.login"
)

// EventInfo pairs an event kind with a human readable description.
type EventInfo struct {
	Event       EventKind `json:"event"`
	Description string    `json:"description"`
}

var eventCatalog = []EventInfo{
	{EventOrderCreated, "When a new order is created"},
	{EventOrderUpdated, "When an order is updated"},
	{EventOrderCompleted, "When an order is completed"},
	{EventOrderCancelled, "When an order is cancelled"},
	{EventProductCreated, "When a new product is created"},
	{EventProductUpdated, "When a product is updated"},
	{EventProductDeleted, "When a product is deleted"},
	{EventProductLowStock, "When a product reaches low stock threshold"},
	{EventCustomerCreated, "When a new customer is created"},
	{EventCustomerUpdated, "When a customer is updated"},
	{EventPaymentSuccess, "When a payment is successful"},
	{EventPaymentFailed, "When a payment fails"},
	{EventUserCreated, "When a new user is created"},
	{EventUserLogin, "When a user logs in"},
}

// AvailableEvents returns the full event taxonomy in display order.
func AvailableEvents() []EventInfo {
	out := make([]EventInfo, len(eventCatalog))
	copy(out, eventCatalog)
	return out
}

// Valid reports whether k belongs to the taxonomy.
func (k EventKind) Valid() bool {
	for _, e := range eventCatalog {
		if e.Event == k {
			return true
		}
	}
	return false
}

// Envelope is the JSON body posted to subscriber endpoints.
type Envelope struct {
	Event     EventKind       `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope stamps data with the event kind and an ISO-8601 UTC timestamp
// in millisecond precision.
func NewEnvelope(event EventKind, data json.RawMessage, at time.Time) Envelope {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Envelope{
		Event:     event,
		Timestamp: FormatTimestamp(at),
		Data:      data,
	}
}

// FormatTimestamp renders t the way envelopes and X-Webhook-Timestamp carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
