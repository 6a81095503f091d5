// Package metrics provides Prometheus metrics instrumentation for riverd.
//
// It exposes operational metrics about the inference pipeline, including
// model forward-pass and full-run durations, run cache effectiveness, and
// error tracking. All metrics are exposed via the /metrics HTTP endpoint
// for Prometheus scraping.
//
// Metrics exposed:
//   - riverd_model_forward_seconds: Histogram of single forward-pass duration
//   - riverd_forecast_run_seconds: Histogram of full autoregressive run duration
//   - riverd_forecast_run_steps: Gauge of the last completed run's step count
//   - riverd_cache_hits_total: Counter of run cache hits
//   - riverd_cache_misses_total: Counter of run cache misses
//   - riverd_errors_total: Counter of errors by operation
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for riverd. It implements the
// inference pipeline's observer interface.
type Metrics struct {
	ModelForwardSeconds prometheus.Histogram
	ForecastRunSeconds  prometheus.Histogram
	ForecastRunSteps    prometheus.Gauge
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ModelForwardSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "riverd_model_forward_seconds",
			Help:    "Time spent in a single model forward pass",
			Buckets: prometheus.DefBuckets, // Default buckets: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		}),

		ForecastRunSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "riverd_forecast_run_seconds",
			Help:    "Time spent completing a full autoregressive forecast run",
			Buckets: prometheus.DefBuckets,
		}),

		ForecastRunSteps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "riverd_forecast_run_steps",
			Help: "Step count of the most recently completed forecast run",
		}),

		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "riverd_cache_hits_total",
			Help: "Total forecast requests served from the run cache",
		}),

		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "riverd_cache_misses_total",
			Help: "Total forecast requests that required a new run",
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "riverd_errors_total",
			Help: "Total number of errors by operation",
		}, []string{"op"}),
	}
}

// ObserveForward records the duration of one model forward pass.
func (m *Metrics) ObserveForward(seconds float64) {
	m.ModelForwardSeconds.Observe(seconds)
}

// ObserveRun records a completed run's step count and duration.
func (m *Metrics) ObserveRun(steps int, seconds float64) {
	m.ForecastRunSeconds.Observe(seconds)
	m.ForecastRunSteps.Set(float64(steps))
}

// CacheHit increments the cache hit counter.
func (m *Metrics) CacheHit() {
	m.CacheHitsTotal.Inc()
}

// CacheMiss increments the cache miss counter.
func (m *Metrics) CacheMiss() {
	m.CacheMissesTotal.Inc()
}

// RecordError increments the error counter for the given operation.
func (m *Metrics) RecordError(op string) {
	m.ErrorsTotal.WithLabelValues(op).Inc()
}
