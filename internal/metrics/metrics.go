// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric the service exports. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	PredictionsTotal  *prometheus.CounterVec
	InferenceDuration prometheus.Histogram

	AuthResultsTotal  *prometheus.CounterVec
	AuthFallbackTotal prometheus.Counter
	KeySetFetchTotal  *prometheus.CounterVec

	RateLimitedTotal prometheus.Counter

	AuditEntriesTotal  prometheus.Counter
	AuditBufferDropped prometheus.Counter
}

// NewCollector registers all collectors on a fresh registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "predictions_total",
			Help:      "Predictions by outcome and predicted label.",
		}, []string{"outcome", "label"}),

		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Transform plus classifier latency.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		AuthResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Token verifications by result and rejection kind.",
		}, []string{"result", "kind"}),

		AuthFallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "symmetric_fallback_total",
			Help:      "Asymmetric tokens retried with the shared secret after key resolution failed.",
		}),

		KeySetFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "key_set_fetch_total",
			Help:      "Key set fetches by source and result.",
		}, []string{"source", "result"}),

		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),

		AuditEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		AuditBufferDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped due to full buffer. Alert if non-zero.",
		}),
	}
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObservePrediction records one prediction outcome.
func (c *Collector) ObservePrediction(outcome, label string, seconds float64) {
	if c == nil {
		return
	}
	c.PredictionsTotal.WithLabelValues(outcome, label).Inc()
	if outcome == "success" {
		c.InferenceDuration.Observe(seconds)
	}
}

// ObserveAuth records one verification result.
func (c *Collector) ObserveAuth(result, kind string) {
	if c == nil {
		return
	}
	c.AuthResultsTotal.WithLabelValues(result, kind).Inc()
}

// ObserveFallback records one symmetric fallback attempt.
func (c *Collector) ObserveFallback() {
	if c == nil {
		return
	}
	c.AuthFallbackTotal.Inc()
}

// ObserveKeySetFetch records a key set fetch from source ("http", "redis").
func (c *Collector) ObserveKeySetFetch(source, result string) {
	if c == nil {
		return
	}
	c.KeySetFetchTotal.WithLabelValues(source, result).Inc()
}

// ObserveRateLimited records one rejected request.
func (c *Collector) ObserveRateLimited() {
	if c == nil {
		return
	}
	c.RateLimitedTotal.Inc()
}

// ObserveAudit records a written or dropped audit entry.
func (c *Collector) ObserveAudit(written bool) {
	if c == nil {
		return
	}
	if written {
		c.AuditEntriesTotal.Inc()
		return
	}
	c.AuditBufferDropped.Inc()
}
