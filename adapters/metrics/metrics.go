// Package metrics provides Prometheus metrics collection for TradeGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for TradeGate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec
	TokensIssued prometheus.Counter

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec

	// Analysis metrics
	AnalysesTotal    *prometheus.CounterVec
	UpstreamAttempts prometheus.Histogram
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Request metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tradegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tradegate",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		// Auth metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		TokensIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "tokens_issued_total",
				Help:      "Total number of access tokens issued",
			},
		),

		// Rate limit metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"identity"},
		),

		// Analysis metrics
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "analyses_total",
				Help:      "Total number of analysis requests by result",
			},
			[]string{"result"},
		),
		UpstreamAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tradegate",
				Name:      "upstream_attempts",
				Help:      "Provider attempts consumed per analysis call",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),
		// An exhausted retry budget runs over five minutes, so the upper
		// buckets reach well past typical request histograms.
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tradegate",
				Name:      "upstream_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 330},
			},
			[]string{"result"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradegate",
				Name:      "upstream_errors_total",
				Help:      "Total number of provider errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// NormalizePath reduces label cardinality. The API surface is flat, so this
// only bounds oversized junk paths.
func NormalizePath(path string) string {
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}
