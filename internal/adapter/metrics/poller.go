package metrics

import "github.com/prometheus/client_golang/prometheus"

// PollerMetrics holds Prometheus metrics for the feed polling loop.
type PollerMetrics struct {
	CyclesTotal   *prometheus.CounterVec
	ItemsAdded    prometheus.Counter
	CycleDuration prometheus.Histogram
	LastSuccess   prometheus.Gauge
	Running       prometheus.Gauge
}

// NewPollerMetrics creates and registers poller metrics on the given registry.
func NewPollerMetrics(reg prometheus.Registerer) *PollerMetrics {
	m := &PollerMetrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Total number of poll cycles, by outcome.",
		}, []string{"outcome"}),
		ItemsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "items_added_total",
			Help:      "Total number of feed items newly persisted.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of poll cycles in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll cycle.",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "running",
			Help:      "1 while the poll loop is running, 0 once stopped.",
		}),
	}

	reg.MustRegister(m.CyclesTotal, m.ItemsAdded, m.CycleDuration, m.LastSuccess, m.Running)
	return m
}
