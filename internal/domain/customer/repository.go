package customer

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionChanged is returned by notifier writes when the subscription end date
// no longer matches the one that was selected, i.e. a payment landed mid-tick.
var ErrSubscriptionChanged = errors.New("subscription changed since it was selected")

// Repository defines the operations for persisting and retrieving Customer records.
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, id string) (*Customer, error)
	Update(ctx context.Context, c *Customer) error // Notifier columns reset only when the end date changes
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*Customer, error)

	// RecordPayment sets both subscription dates and clears the notified flag and attempt counter.
	RecordPayment(ctx context.Context, id string, paidAt, endDate time.Time) error

	// ListDueForNotification returns customers with subscription_end_date <= now and notified = false.
	// maxAttempts > 0 additionally excludes customers whose failed attempts reached the cap.
	ListDueForNotification(ctx context.Context, now time.Time, maxAttempts int) ([]*Customer, error)
	// CountDeadLettered counts due customers excluded by the attempt cap.
	CountDeadLettered(ctx context.Context, now time.Time, maxAttempts int) (int, error)
	// MarkNotified touches only the notified flag (and updated_at), and only while the
	// subscription still ends at expiredAt.
	MarkNotified(ctx context.Context, id string, expiredAt time.Time) error
	// RecordNotifyFailure increments the attempt counter under the same condition.
	RecordNotifyFailure(ctx context.Context, id string, expiredAt time.Time, reason string) error
}
