package loreline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics exports sync engine instrumentation. A nil *SyncMetrics is
// valid and records nothing, so hosts that do not scrape can skip it.
type SyncMetrics struct {
	queueDepth      prometheus.Gauge
	degraded        prometheus.Gauge
	outcomes        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
}

// NewSyncMetrics registers sync collectors with the given registerer.
// Pass prometheus.DefaultRegisterer to use the process-global registry.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)
	return &SyncMetrics{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loreline",
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Number of operations awaiting remote confirmation.",
		}),
		degraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loreline",
			Subsystem: "sync",
			Name:      "degraded",
			Help:      "1 while the sync engine has halted draining after storage failures.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loreline",
			Subsystem: "sync",
			Name:      "operations_total",
			Help:      "Operation submission outcomes.",
		}, []string{"outcome"}),
		attemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loreline",
			Subsystem: "sync",
			Name:      "attempt_duration_seconds",
			Help:      "Remote submission attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *SyncMetrics) setQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *SyncMetrics) setDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func (m *SyncMetrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *SyncMetrics) observeAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.Observe(d.Seconds())
}
