package models

import "time"

// WebhookSubscription is a consumer-registered endpoint that receives
// signed domain event deliveries for the kinds it subscribes to.
type WebhookSubscription struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	EndpointURL string   `json:"endpoint_url" db:"endpoint_url"`
	Secret     string    `json:"-" db:"secret"`
	EventKinds []string  `json:"event_kinds" db:"event_kinds"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// SubscribesTo reports whether the subscription wants events of the
// given kind.
func (s *WebhookSubscription) SubscribesTo(kind string) bool {
	for _, k := range s.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// AttemptStatus is the delivery state machine for one
// (event, subscription) pair:
//
//	pending -> success   (terminal)
//	pending -> failed    (awaiting retry)
//	failed  -> success   (terminal)
//	failed  -> exhausted (terminal, surfaced to the owner)
//
// A chain cancelled because its subscription was disabled closes as
// exhausted with last_error "subscription disabled".
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSuccess   AttemptStatus = "success"
	AttemptFailed    AttemptStatus = "failed"
	AttemptExhausted AttemptStatus = "exhausted"
)

// IsTerminal reports whether no further delivery work happens for the
// attempt record.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSuccess || s == AttemptExhausted
}

// WebhookDeliveryAttempt tracks the independent retry state of one event
// fanned out to one subscription.
type WebhookDeliveryAttempt struct {
	ID             string        `json:"id" db:"id"`
	EventID        string        `json:"event_id" db:"event_id"`
	SubscriptionID string        `json:"subscription_id" db:"subscription_id"`
	AttemptNumber  int           `json:"attempt_number" db:"attempt_number"`
	Status         AttemptStatus `json:"status" db:"status"`
	ResponseStatus int           `json:"response_status,omitempty" db:"response_status"`
	LastError      string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}
