// internal/domain/notification/run.go
package notification

import (
	"database/sql"
	"time"
)

// Run summarises a single notifier tick.
// Corresponds to the 'notification_runs' table.
type Run struct {
	ID         string         `db:"id"` // UUID
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt time.Time      `db:"finished_at"`
	Candidates int            `db:"candidates"`
	Sent       int            `db:"sent"`
	Failed     int            `db:"failed"`  // Send failures and update failures after a send
	Skipped    int            `db:"skipped"` // Candidates without a phone number
	Error      sql.NullString `db:"error"`   // Set when the directory query aborted the tick
}

// Outcome is the per-candidate result inside a run.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeSendFailed  Outcome = "send_failed"
	OutcomeFlagFailed  Outcome = "flag_failed" // SMS accepted but the notified flag was not stored
	OutcomeNoPhone     Outcome = "no_phone"
	OutcomeInterrupted Outcome = "interrupted" // Tick ended or the provider was never reached; no attempt recorded
)

// Record folds a candidate outcome into the run counters.
func (r *Run) Record(o Outcome) {
	switch o {
	case OutcomeSent:
		r.Sent++
	case OutcomeNoPhone:
		r.Skipped++
	default:
		r.Failed++
	}
}
