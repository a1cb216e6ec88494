package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics holds Prometheus metrics for the message bus link.
type BusMetrics struct {
	Published     *prometheus.CounterVec
	Received      prometheus.Counter
	InvalidEvents prometheus.Counter
	Connected     prometheus.Gauge
	BreakerState  prometheus.Gauge
}

// NewBusMetrics creates and registers bus metrics on the given registry.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total number of publish attempts, by outcome.",
		}, []string{"outcome"}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "received_total",
			Help:      "Total number of valid events relayed from the bus.",
		}),
		InvalidEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "invalid_events_total",
			Help:      "Total number of inbound bus payloads dropped as invalid.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "connected",
			Help:      "1 while the bus connection is up.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "circuit_breaker_state",
			Help:      "Publish circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}),
	}

	reg.MustRegister(m.Published, m.Received, m.InvalidEvents, m.Connected, m.BreakerState)
	return m
}
