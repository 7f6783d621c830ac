package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	dead      *prometheus.CounterVec
	requeued  prometheus.Counter
	inflight  prometheus.Gauge
	snapshots *prometheus.CounterVec
}

// NewMetrics registers the dispatch collectors on reg. A nil reg keeps
// the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracker",
			Subsystem: "dispatch",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		dead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "dispatch",
			Name:      "dead_total",
			Help:      "Deliveries that exhausted their attempts.",
		}, []string{"channel"}),
		requeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "dispatch",
			Name:      "requeued_total",
			Help:      "Inflight deliveries returned to the queue on start or shutdown.",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracker",
			Subsystem: "dispatch",
			Name:      "inflight",
			Help:      "Deliveries currently being attempted.",
		}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "history",
			Name:      "entries_total",
			Help:      "History entries appended by type and visibility.",
		}, []string{"type", "hidden"}),
	}
}

// ObserveEntry counts one appended history entry.
func (m *Metrics) ObserveEntry(entryType string, hidden bool) {
	if m == nil {
		return
	}
	label := "false"
	if hidden {
		label = "true"
	}
	m.snapshots.WithLabelValues(entryType, label).Inc()
}
