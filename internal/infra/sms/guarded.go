package sms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym_subscription_notifier/internal/domain/messaging"
	"gym_subscription_notifier/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// ErrProviderUnavailable is returned while the circuit breaker is open.
// It matches messaging.ErrNotSent.
var ErrProviderUnavailable = fmt.Errorf("sms provider unavailable: %w", messaging.ErrNotSent)

type GuardOptions struct {
	RatePerSecond   float64       // 0 disables rate limiting
	Burst           int           // Defaults to 1
	BreakerFailures uint32        // Consecutive failures that open the breaker; 0 disables it
	BreakerOpenFor  time.Duration // How long the breaker stays open before probing
}

// GuardedSender rate-limits outgoing messages and stops calling a failing provider.
type GuardedSender struct {
	next    messaging.Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[messaging.Receipt]
}

func NewGuardedSender(next messaging.Sender, opts GuardOptions, logger *logrus.Entry) *GuardedSender {
	g := &GuardedSender{next: next}

	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	if opts.BreakerFailures > 0 {
		g.breaker = gobreaker.NewCircuitBreaker[messaging.Receipt](gobreaker.Settings{
			Name:        "sms",
			MaxRequests: 1,
			Timeout:     opts.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				// Bad input and cancelled ticks say nothing about provider health.
				return err == nil ||
					errors.Is(err, ErrMissingDestination) ||
					errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("SMS circuit breaker state changed")
				if to == gobreaker.StateOpen {
					metrics.SMSBreakerOpen.Set(1)
				} else {
					metrics.SMSBreakerOpen.Set(0)
				}
			},
		})
	}
	return g
}

var _ messaging.Sender = (*GuardedSender)(nil)

func (g *GuardedSender) Send(ctx context.Context, msg messaging.Message) (messaging.Receipt, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return messaging.Receipt{}, fmt.Errorf("sms rate limiter: %w: %w", messaging.ErrNotSent, err)
		}
	}
	if g.breaker == nil {
		return g.next.Send(ctx, msg)
	}

	receipt, err := g.breaker.Execute(func() (messaging.Receipt, error) {
		return g.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return messaging.Receipt{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return receipt, err
}
