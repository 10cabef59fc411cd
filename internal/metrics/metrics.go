package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymnotifier_notifications_total",
			Help: "Per-candidate notifier outcomes",
		},
		[]string{"outcome"}, // sent|send_failed|flag_failed|no_phone|interrupted
	)

	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymnotifier_ticks_total",
			Help: "Notifier ticks by result",
		},
		[]string{"result"}, // ok|failed|locked
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gymnotifier_tick_duration_seconds",
			Help:    "Wall-clock duration of a notifier tick",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	LastTickCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gymnotifier_last_tick_candidates",
			Help: "Candidates selected by the most recent tick",
		},
	)

	DeadLettered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gymnotifier_dead_lettered_customers",
			Help: "Expired customers excluded after reaching the attempt cap",
		},
	)

	SMSBreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gymnotifier_sms_breaker_open",
			Help: "1 while the SMS provider circuit breaker is open",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		NotificationsTotal,
		TicksTotal,
		TickDuration,
		LastTickCandidates,
		DeadLettered,
		SMSBreakerOpen,
	)
}
