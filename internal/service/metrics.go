package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type reconcilerMetrics struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	betsResolved prometheus.Counter
	resolveFails prometheus.Counter
	participants *prometheus.CounterVec
	notifyFails  prometheus.Counter
	mintSequence prometheus.Gauge
}

// newReconcilerMetrics registers the reconciler collectors on reg. A nil reg
// leaves them unregistered, which tests rely on.
func newReconcilerMetrics(reg prometheus.Registerer) *reconcilerMetrics {
	m := &reconcilerMetrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "ticks_total",
			Help:      "Reconciler tick firings by result (ok, failed, skipped).",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of completed ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		betsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "bets_resolved_total",
			Help:      "Bets resolved on-chain by this service.",
		}),
		resolveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "resolve_failures_total",
			Help:      "resolveBet submissions that errored or reverted.",
		}),
		participants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "participants_total",
			Help:      "Participant settlements by outcome (claimed, claim_failed, mint_failed, lost, foreign).",
		}, []string{"outcome"}),
		notifyFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "notify_failures_total",
			Help:      "User notifications that could not be delivered.",
		}),
		mintSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricebet",
			Subsystem: "reconciler",
			Name:      "mint_sequence_next",
			Help:      "Next participation token number.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.tickDuration, m.betsResolved, m.resolveFails,
			m.participants, m.notifyFails, m.mintSequence)
	}
	return m
}

func (m *reconcilerMetrics) observeTick(result string, d time.Duration) {
	m.ticks.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.tickDuration.Observe(d.Seconds())
	}
}
