// Package metrics holds the Prometheus collectors of the check-in client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for ResultsComputed.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeMalformed = "malformed"
)

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry        *prometheus.Registry
	upstreamLatency *prometheus.HistogramVec
	resultsComputed *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkin",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of calls to the check-in API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		resultsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkin",
			Name:      "results_computed_total",
			Help:      "Results pipeline runs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.upstreamLatency,
		m.resultsComputed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveUpstream records one API call. status 0 means a transport error.
func (m *Metrics) ObserveUpstream(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamLatency.WithLabelValues(endpoint, label).Observe(d.Seconds())
}

// ResultsComputed counts one pipeline run.
func (m *Metrics) ResultsComputed(outcome string) {
	if m == nil {
		return
	}
	m.resultsComputed.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
