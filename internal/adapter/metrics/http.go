package metrics

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers request/response routes. Probes, the scrape endpoint
// and long-lived routes such as websocket upgrades are left out; live
// connections are tracked by WebSocketMetrics instead.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge

	longLived map[string]struct{}
}

// NewHTTPMetrics registers the HTTP group. longLivedRoutes are echo route
// paths (e.g. "/ws/posts") that the middleware must not time.
func NewHTTPMetrics(reg prometheus.Registerer, longLivedRoutes ...string) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of request/response HTTP routes.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served, by route and status.",
		}, []string{"method", "route", "status_code"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Request/response HTTP calls currently being served.",
		}),
		longLived: make(map[string]struct{}, len(longLivedRoutes)),
	}
	for _, route := range longLivedRoutes {
		m.longLived[route] = struct{}{}
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight)
	return m
}

func (m *HTTPMetrics) skip(route string) bool {
	if route == "/metrics" || strings.HasPrefix(route, "/health/") {
		return true
	}
	_, ok := m.longLived[route]
	return ok
}

// Middleware records duration and status per matched route.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if m.skip(route) {
				return next(c)
			}

			m.InFlight.Inc()
			defer m.InFlight.Dec()

			method := c.Request().Method
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := strconv.Itoa(c.Response().Status)
				m.RequestDuration.WithLabelValues(method, route, status).Observe(v)
				m.RequestsTotal.WithLabelValues(method, route, status).Inc()
			}))
			defer timer.ObserveDuration()

			return next(c)
		}
	}
}
