package customer

import (
	"database/sql"
	"strings"
	"time"
)

// SubscriptionPeriod is how long a single recorded payment keeps a subscription active.
const SubscriptionPeriod = 30 * 24 * time.Hour

// Customer is a gym member record in the customer directory.
type Customer struct {
	ID             string       `db:"id"`
	FirstName      string       `db:"first_name"`
	LastName       string       `db:"last_name"`
	Sex            string       `db:"sex"`
	PhoneNumber    string       `db:"phone_number"`
	Email          string       `db:"email"`
	Birthdate      sql.NullTime `db:"birthdate"`
	Occupation     string       `db:"occupation"`
	FitnessLevel   string       `db:"fitness_level"`
	HealthProblems string       `db:"health_problems"`
	Injuries       string       `db:"injuries"`
	Medication     string       `db:"medication"`
	FitnessGoal    string       `db:"fitness_goal"`
	Other          string       `db:"other"`

	LastPaymentDate     sql.NullTime `db:"last_payment_date"`
	SubscriptionEndDate sql.NullTime `db:"subscription_end_date"`

	// Notified is set only by the subscription notifier and cleared by a payment.
	Notified        bool           `db:"notified"`
	NotifyAttempts  int            `db:"notify_attempts"`
	LastNotifyError sql.NullString `db:"last_notify_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// FullName joins first and last name, skipping an empty last name.
func (c *Customer) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// SubscriptionStatus is the derived state of a customer's subscription.
type SubscriptionStatus string

const (
	StatusNoData  SubscriptionStatus = "no_data"
	StatusActive  SubscriptionStatus = "active"
	StatusExpired SubscriptionStatus = "expired"
)

// StatusAt reports whether the subscription is active at the given moment.
func (c *Customer) StatusAt(now time.Time) SubscriptionStatus {
	if !c.SubscriptionEndDate.Valid {
		return StatusNoData
	}
	if c.SubscriptionEndDate.Time.After(now) {
		return StatusActive
	}
	return StatusExpired
}

// DueForNotification mirrors the directory's selection query: expired and not yet notified.
func (c *Customer) DueForNotification(now time.Time) bool {
	return c.SubscriptionEndDate.Valid && !c.SubscriptionEndDate.Time.After(now) && !c.Notified
}

// ApplyPayment moves the subscription window forward and re-arms the notifier.
func (c *Customer) ApplyPayment(paidAt time.Time) {
	c.LastPaymentDate = sql.NullTime{Time: paidAt, Valid: true}
	c.SubscriptionEndDate = sql.NullTime{Time: paidAt.Add(SubscriptionPeriod), Valid: true}
	c.Notified = false
	c.NotifyAttempts = 0
	c.LastNotifyError = sql.NullString{}
}

// MatchesName reports whether query is a case-insensitive subsequence of "first last".
func (c *Customer) MatchesName(query string) bool {
	q := []rune(strings.ToLower(strings.TrimSpace(query)))
	if len(q) == 0 {
		return true
	}
	name := strings.ToLower(c.FirstName + " " + c.LastName)
	i := 0
	for _, r := range name {
		if r == q[i] {
			i++
			if i == len(q) {
				return true
			}
		}
	}
	return false
}
