package notification

import (
	"context"
	"time"
)

// RoutingKeyExpiredNotified is used when publishing ExpiredNotified events.
const RoutingKeyExpiredNotified = "customer.subscription.expired_notified"

// ExpiredNotified is emitted after a customer was texted and flagged.
type ExpiredNotified struct {
	RunID               string    `json:"run_id"`
	CustomerID          string    `json:"customer_id"`
	FirstName           string    `json:"first_name"`
	PhoneNumber         string    `json:"phone_number"`
	SubscriptionEndDate time.Time `json:"subscription_end_date"`
	MessageSID          string    `json:"message_sid"`
	NotifiedAt          time.Time `json:"notified_at"`
}

// Publisher ships notification events to interested consumers.
type Publisher interface {
	PublishExpiredNotified(ctx context.Context, evt ExpiredNotified) error
}
