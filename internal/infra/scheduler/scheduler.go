package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/infra/lock"
	"gym_subscription_notifier/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TickLocker guards a tick across replicas. Acquire returns lock.ErrNotAcquired
// when another process holds it.
type TickLocker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

type NotificationScheduler struct {
	cronEngine  *cron.Cron
	notifier    app.Notifier
	locker      TickLocker // nil runs every tick unguarded
	logger      *logrus.Entry
	cronSpec    string
	tickTimeout time.Duration
}

func NewNotificationScheduler(
	notifier app.Notifier,
	locker TickLocker,
	logger *logrus.Entry,
	cronSpec string, // e.g., "0 10 * * *" (10:00 AM daily) or "@every 1m"
	location *time.Location,
	tickTimeout time.Duration,
) *NotificationScheduler {
	if location == nil {
		location = time.Local
	}
	cronLogger := cron.PrintfLogger(logger)
	return &NotificationScheduler{
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		notifier:    notifier,
		locker:      locker,
		logger:      logger,
		cronSpec:    cronSpec,
		tickTimeout: tickTimeout,
	}
}

func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Cron job triggered for subscription expiry check.")
		s.runTick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("could not add subscription expiry cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Notification scheduler started.")
	return nil
}

func (s *NotificationScheduler) runTick(parent context.Context) {
	ctx := parent
	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.tickTimeout)
		defer cancel()
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if err != nil {
			metrics.TicksTotal.WithLabelValues("locked").Inc()
			if errors.Is(err, lock.ErrNotAcquired) {
				s.logger.Info("Another replica is running this tick. Skipping.")
			} else {
				s.logger.WithError(err).Error("Failed to acquire tick lock. Skipping tick.")
			}
			return
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				s.logger.WithError(err).Warn("Failed to release tick lock; it will expire on its own")
			}
		}()
	}

	if _, err := s.notifier.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Error during subscription expiry tick")
		return
	}
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
