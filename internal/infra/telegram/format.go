package telegram

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"
)

const dateLayout = "02 Jan 2006"

func formatDate(t sql.NullTime) string {
	if !t.Valid {
		return "-"
	}
	return t.Time.Format(dateLayout)
}

func statusLabel(c *customer.Customer, now time.Time) string {
	switch c.StatusAt(now) {
	case customer.StatusActive:
		return "active"
	case customer.StatusExpired:
		if c.DueForNotification(now) {
			return "expired, SMS pending"
		}
		return "expired, notified"
	default:
		return "no data"
	}
}

func formatCustomerList(title string, list []*customer.Customer, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (%d) ---\n", title, len(list))
	for i, c := range list {
		if i == listLimit {
			fmt.Fprintf(&b, "... and %d more. Narrow the search with /customers <name>.", len(list)-listLimit)
			break
		}
		fmt.Fprintf(&b, "%s | %s | until %s | %s\n", c.ID, c.FullName(), formatDate(c.SubscriptionEndDate), statusLabel(c, now))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCustomerDetails(c *customer.Customer, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", c.FullName())
	fmt.Fprintf(&b, "ID: %s\n", c.ID)
	fmt.Fprintf(&b, "Phone: %s\n", orDash(c.PhoneNumber))
	if c.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", c.Email)
	}
	fmt.Fprintf(&b, "Last payment: %s\n", formatDate(c.LastPaymentDate))
	fmt.Fprintf(&b, "Subscription ends: %s\n", formatDate(c.SubscriptionEndDate))
	fmt.Fprintf(&b, "Status: %s", statusLabel(c, now))
	if c.NotifyAttempts > 0 {
		fmt.Fprintf(&b, "\nFailed SMS attempts: %d (%s)", c.NotifyAttempts, c.LastNotifyError.String)
	}
	return b.String()
}

func formatRun(r *notification.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s at %s\n", r.ID, r.StartedAt.Format("02 Jan 2006 15:04"))
	if r.Error.Valid {
		fmt.Fprintf(&b, "Aborted: %s", r.Error.String)
		return b.String()
	}
	fmt.Fprintf(&b, "Candidates: %d, sent: %d, failed: %d, no phone: %d", r.Candidates, r.Sent, r.Failed, r.Skipped)
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
