// Package monitoring exposes Prometheus metrics and a websocket feed of
// prediction events.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the prediction service.
type Metrics struct {
	PredictionsTotal   *prometheus.CounterVec // labels: target, risk_level
	PredictionErrors   prometheus.Counter
	PredictionDuration prometheus.Histogram
	CacheLookups       *prometheus.CounterVec // labels: result={hit,miss}
	ModelsLoaded       prometheus.Gauge
	BundleReloads      prometheus.Counter
}

// NewMetrics creates and registers all collectors with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PredictionsTotal,
		m.PredictionErrors,
		m.PredictionDuration,
		m.CacheLookups,
		m.ModelsLoaded,
		m.BundleReloads,
	)
	return m
}

// NewMetricsForTesting creates collectors without registering them, avoiding
// duplicate-registration panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakerisk",
			Name:      "predictions_total",
			Help:      "Predictions served by target and resulting risk level.",
		}, []string{"target", "risk_level"}),
		PredictionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakerisk",
			Name:      "prediction_errors_total",
			Help:      "Prediction requests that failed.",
		}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quakerisk",
			Name:      "prediction_duration_seconds",
			Help:      "End-to-end latency of one prediction request.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakerisk",
			Name:      "prediction_cache_lookups_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		ModelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quakerisk",
			Name:      "models_loaded",
			Help:      "Number of targets with a usable model in the active bundle.",
		}),
		BundleReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quakerisk",
			Name:      "bundle_reloads_total",
			Help:      "Model bundle reloads triggered by artifact changes.",
		}),
	}
}
