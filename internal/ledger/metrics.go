package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the ledger's Prometheus collectors.
type Metrics struct {
	Applied    *prometheus.CounterVec
	Duplicates prometheus.Counter
	Rejected   *prometheus.CounterVec
	Latency    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "entries_applied_total",
			Help:      "Ledger entries committed, by transaction type.",
		}, []string{"type"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "duplicate_entries_total",
			Help:      "Entries suppressed because their idempotency key was already used.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "entries_rejected_total",
			Help:      "Entries rejected before commit, by reason.",
		}, []string{"reason"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying one entry.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Applied, m.Duplicates, m.Rejected, m.Latency)
	}
	return m
}
