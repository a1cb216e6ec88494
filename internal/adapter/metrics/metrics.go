// Package metrics holds the Prometheus metric groups of the service. Every
// group registers on a private registry created by NewRegistry.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rsspulse"

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return reg
}

// Handler serves reg. A collector that fails is logged and skipped so one bad
// metric does not blank the whole scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
		ErrorLog:      scrapeErrorLog{},
	})
}

type scrapeErrorLog struct{}

func (scrapeErrorLog) Println(v ...any) {
	slog.Warn("Metrics scrape error", "error", v)
}
