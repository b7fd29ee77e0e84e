package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transitionsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "lifecycle",
			Name:      "transitions_applied_total",
			Help:      "Accepted job status transitions by target status.",
		},
		[]string{"target"},
	)
	transitionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "lifecycle",
			Name:      "transitions_rejected_total",
			Help:      "Rejected job status transitions by error kind.",
		},
		[]string{"kind"},
	)
	conflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "sync",
			Name:      "version_conflicts_total",
			Help:      "Reconciliations rejected because the base version was stale.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "notify",
			Name:      "dispatches_total",
			Help:      "Notification dispatch attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)
	pinAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "identity",
			Name:      "pin_attempts_total",
			Help:      "PIN verification attempts by outcome.",
		},
		[]string{"outcome"},
	)
	arrivalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Subsystem: "tracking",
			Name:      "arrivals_total",
			Help:      "Tracking sessions that crossed into the arrival radius.",
		},
	)
)

// Register installs the collectors exactly once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			transitionsAppliedTotal,
			transitionsRejectedTotal,
			conflictsTotal,
			notificationsTotal,
			pinAttemptsTotal,
			arrivalsTotal,
		)
	})
}

func TransitionApplied(target string) { transitionsAppliedTotal.WithLabelValues(target).Inc() }

func TransitionRejected(kind string) { transitionsRejectedTotal.WithLabelValues(kind).Inc() }

func Conflict() { conflictsTotal.Inc() }

func Notification(channel, result string) {
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

func PinAttempt(outcome string) { pinAttemptsTotal.WithLabelValues(outcome).Inc() }

func Arrival() { arrivalsTotal.Inc() }
