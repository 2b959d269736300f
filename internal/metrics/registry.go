// Package metrics holds the Prometheus instrumentation for gridrun.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// regimeCodes maps regime names to gauge values.
var regimeCodes = map[string]float64{
	"favorable":   0,
	"caution":     1,
	"pause":       2,
	"widen_grids": 3,
}

// Registry holds all gridrun metrics. Each Registry owns its own Prometheus
// registry so tests can create them freely.
type Registry struct {
	registry *prometheus.Registry

	ScanDuration prometheus.Histogram
	TotalScans   prometheus.Counter
	Signals      *prometheus.CounterVec
	ActiveRegime prometheus.Gauge

	ExchangeRequests *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// NewRegistry creates the metrics registry with all gridrun metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridrun_scan_duration_seconds",
				Help:    "Duration of full decision scans in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		TotalScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gridrun_scans_total",
				Help: "Total number of scans completed",
			},
		),

		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridrun_signals_total",
				Help: "Total signals emitted by type",
			},
			[]string{"type"},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridrun_active_regime",
				Help: "Current regime (0=favorable, 1=caution, 2=pause, 3=widen_grids)",
			},
		),

		ExchangeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridrun_exchange_requests_total",
				Help: "Total exchange API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gridrun_ticker_cache_hits_total",
				Help: "Total ticker cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gridrun_ticker_cache_misses_total",
				Help: "Total ticker cache misses",
			},
		),
	}

	r.registry.MustRegister(
		r.ScanDuration,
		r.TotalScans,
		r.Signals,
		r.ActiveRegime,
		r.ExchangeRequests,
		r.CacheHits,
		r.CacheMisses,
	)

	return r
}

// ObserveScan records one completed scan and the regime it observed.
func (r *Registry) ObserveScan(duration time.Duration, regime string) {
	r.TotalScans.Inc()
	r.ScanDuration.Observe(duration.Seconds())
	if code, ok := regimeCodes[regime]; ok {
		r.ActiveRegime.Set(code)
	}
}

// IncSignal counts one emitted signal by type.
func (r *Registry) IncSignal(signalType string) {
	r.Signals.WithLabelValues(signalType).Inc()
}

// IncExchangeRequest counts one exchange API request.
func (r *Registry) IncExchangeRequest(endpoint, status string) {
	r.ExchangeRequests.WithLabelValues(endpoint, status).Inc()
}

// IncCacheHit counts one ticker served from cache.
func (r *Registry) IncCacheHit() {
	r.CacheHits.Inc()
}

// IncCacheMiss counts one ticker that had to be fetched.
func (r *Registry) IncCacheMiss() {
	r.CacheMisses.Inc()
}

// Handler serves this registry over HTTP in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer for tests.
func (r *Registry) Gather() prometheus.Gatherer {
	return r.registry
}
