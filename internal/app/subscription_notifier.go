// internal/app/subscription_notifier.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/messaging"
	"gym_subscription_notifier/internal/domain/notification"
	"gym_subscription_notifier/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultMessageTemplate is the expiry text used when no template is configured.
const DefaultMessageTemplate = "Hi {{.FirstName}}, your subscription has expired or is due to expire."

// Writes that follow an accepted SMS get their own deadline so a tick timeout
// does not turn a delivered message into a duplicate on the next tick.
const postSendWriteTimeout = 10 * time.Second

// Notifier is the entry point the scheduler and staff surfaces trigger.
type Notifier interface {
	// RunOnce performs a single tick and returns once every candidate has been processed.
	RunOnce(ctx context.Context) (*notification.Run, error)
}

// NotifierOptions tunes a SubscriptionNotifier.
type NotifierOptions struct {
	SenderID    string // "From" identity handed to the provider
	Template    string // text/template with the customer as data
	Concurrency int    // Max candidates in flight; 1 means sequential
	MaxAttempts int    // Failed sends before a customer stops being selected; 0 disables the cap
}

// SubscriptionNotifier texts customers whose subscription lapsed and flags them as notified.
type SubscriptionNotifier struct {
	customers customer.Repository
	runs      notification.Repository
	sender    messaging.Sender
	publisher notification.Publisher
	logger    *logrus.Entry
	body      *template.Template
	opts      NotifierOptions
	now       func() time.Time
}

func NewSubscriptionNotifier(
	cr customer.Repository,
	rr notification.Repository,
	sender messaging.Sender,
	publisher notification.Publisher,
	logger *logrus.Entry,
	opts NotifierOptions,
) (*SubscriptionNotifier, error) {
	if opts.Template == "" {
		opts.Template = DefaultMessageTemplate
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	body, err := template.New("expiry_sms").Option("missingkey=error").Parse(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("invalid SMS template: %w", err)
	}
	return &SubscriptionNotifier{
		customers: cr,
		runs:      rr,
		sender:    sender,
		publisher: publisher,
		logger:    logger,
		body:      body,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// RunOnce selects expired, unnotified customers and texts each of them once.
// A directory query failure aborts the tick; per-customer failures are logged and
// left unflagged so the next tick retries them.
func (s *SubscriptionNotifier) RunOnce(ctx context.Context) (*notification.Run, error) {
	now := s.now()
	run := &notification.Run{ID: uuid.NewString(), StartedAt: now}
	log := s.logger.WithField("run_id", run.ID)
	log.Info("Starting subscription expiry tick")

	timer := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(timer).Seconds()) }()

	candidates, err := s.customers.ListDueForNotification(ctx, now, s.opts.MaxAttempts)
	if err != nil {
		log.WithError(err).Error("Failed to query customers due for notification. Nothing was sent.")
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		s.finishRun(ctx, log, run)
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return run, fmt.Errorf("failed to list customers due for notification: %w", err)
	}
	run.Candidates = len(candidates)
	metrics.LastTickCandidates.Set(float64(len(candidates)))
	s.reportDeadLettered(ctx, log, now)

	if len(candidates) == 0 {
		log.Info("No expired, unnotified customers found.")
	} else {
		log.WithField("candidates", len(candidates)).Info("Found customers with expired subscriptions.")
	}

	outcomes := make([]notification.Outcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			outcomes[i] = s.notifyCustomer(ctx, log, run.ID, c)
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors; outcomes carry the result.

	for _, o := range outcomes {
		run.Record(o)
		metrics.NotificationsTotal.WithLabelValues(string(o)).Inc()
	}
	s.finishRun(ctx, log, run)
	metrics.TicksTotal.WithLabelValues("ok").Inc()

	log.WithFields(logrus.Fields{
		"candidates": run.Candidates,
		"sent":       run.Sent,
		"failed":     run.Failed,
		"skipped":    run.Skipped,
	}).Info("Subscription expiry tick finished")
	return run, nil
}

func (s *SubscriptionNotifier) notifyCustomer(ctx context.Context, log *logrus.Entry, runID string, c *customer.Customer) (outcome notification.Outcome) {
	log = log.WithField("customer_id", c.ID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic while notifying customer")
			outcome = notification.OutcomeSendFailed
		}
	}()

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Tick ended before customer was processed; will retry next tick")
		return notification.OutcomeInterrupted
	}

	if strings.TrimSpace(c.PhoneNumber) == "" {
		log.Error("Customer is missing a phone number")
		return notification.OutcomeNoPhone
	}

	body, err := s.renderBody(c)
	if err != nil {
		log.WithError(err).Error("Failed to render expiry SMS")
		s.recordFailure(ctx, log, c, err)
		return notification.OutcomeSendFailed
	}

	receipt, err := s.sender.Send(ctx, messaging.Message{To: c.PhoneNumber, From: s.opts.SenderID, Body: body})
	if err != nil {
		if notAttempted(ctx, err) {
			log.WithError(err).Warn("Expiry SMS was not handed to the provider; will retry next tick")
			return notification.OutcomeInterrupted
		}
		log.WithError(err).Error("Failed to send expiry SMS")
		s.recordFailure(ctx, log, c, err)
		return notification.OutcomeSendFailed
	}
	log.WithFields(logrus.Fields{
		"first_name":  c.FirstName,
		"message_sid": receipt.SID,
	}).Info("Sent expiry SMS")

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postSendWriteTimeout)
	defer cancel()

	err = s.customers.MarkNotified(writeCtx, c.ID, c.SubscriptionEndDate.Time)
	switch {
	case errors.Is(err, customer.ErrSubscriptionChanged):
		log.Info("Subscription was renewed while the SMS was in flight; leaving notified flag cleared")
		return notification.OutcomeSent
	case err != nil:
		log.WithError(err).Error("SMS sent but marking customer as notified failed; customer will be texted again next tick")
		return notification.OutcomeFlagFailed
	}

	evt := notification.ExpiredNotified{
		RunID:               runID,
		CustomerID:          c.ID,
		FirstName:           c.FirstName,
		PhoneNumber:         c.PhoneNumber,
		SubscriptionEndDate: c.SubscriptionEndDate.Time,
		MessageSID:          receipt.SID,
		NotifiedAt:          s.now(),
	}
	if err := s.publisher.PublishExpiredNotified(writeCtx, evt); err != nil {
		log.WithError(err).Warn("Failed to publish notification event")
	}
	return notification.OutcomeSent
}

// notAttempted reports whether a send failed without the provider judging the
// message. Such failures do not count toward the attempt cap.
func notAttempted(ctx context.Context, err error) bool {
	return errors.Is(err, messaging.ErrNotSent) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}

func (s *SubscriptionNotifier) renderBody(c *customer.Customer) (string, error) {
	var b strings.Builder
	if err := s.body.Execute(&b, c); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *SubscriptionNotifier) recordFailure(ctx context.Context, log *logrus.Entry, c *customer.Customer, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postSendWriteTimeout)
	defer cancel()
	err := s.customers.RecordNotifyFailure(writeCtx, c.ID, c.SubscriptionEndDate.Time, cause.Error())
	if err != nil && !errors.Is(err, customer.ErrSubscriptionChanged) {
		log.WithError(err).Error("Failed to record notification failure")
	}
}

func (s *SubscriptionNotifier) reportDeadLettered(ctx context.Context, log *logrus.Entry, now time.Time) {
	if s.opts.MaxAttempts <= 0 {
		return
	}
	n, err := s.customers.CountDeadLettered(ctx, now, s.opts.MaxAttempts)
	if err != nil {
		log.WithError(err).Warn("Failed to count dead-lettered customers")
		return
	}
	metrics.DeadLettered.Set(float64(n))
	if n > 0 {
		log.WithFields(logrus.Fields{
			"dead_lettered": n,
			"max_attempts":  s.opts.MaxAttempts,
		}).Warn("Customers reached the notification attempt cap and are no longer retried")
	}
}

func (s *SubscriptionNotifier) finishRun(ctx context.Context, log *logrus.Entry, run *notification.Run) {
	run.FinishedAt = s.now()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postSendWriteTimeout)
	defer cancel()
	if err := s.runs.CreateRun(writeCtx, run); err != nil {
		log.WithError(err).Warn("Failed to store notification run summary")
	}
}
