// Package metrics records detector fits as Prometheus metrics.
//
// Metrics:
//   - goguard_fit_duration_seconds: fit latency (histogram), labels: algorithm
//   - goguard_rows_scored_total: rows in fitted batches (counter), labels: algorithm
//   - goguard_rows_failed_total: rows whose score was dropped (counter), labels: algorithm
//   - goguard_anomalies_total: rows labeled anomalous (counter), labels: algorithm
//   - goguard_partial_fits_total: fits with at least one dropped task (counter), labels: algorithm
//   - goguard_threshold: threshold of the last fit (gauge), labels: algorithm
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hed1ad/goguardlof/pkg/detectors"
)

var _ detectors.Observer = (*Recorder)(nil)

// Recorder owns a registry and implements detectors.Observer.
type Recorder struct {
	registry *prometheus.Registry

	fitDuration   *prometheus.HistogramVec
	rowsScored    *prometheus.CounterVec
	rowsFailed    *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	partialFits   *prometheus.CounterVec
	lastThreshold *prometheus.GaugeVec
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goguard_fit_duration_seconds",
				Help:    "Duration of FitTransform calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
			},
			[]string{"algorithm"},
		),
		rowsScored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_rows_scored_total",
				Help: "Total number of rows in fitted batches",
			},
			[]string{"algorithm"},
		),
		rowsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_rows_failed_total",
				Help: "Total number of rows whose fit-time score was dropped",
			},
			[]string{"algorithm"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_anomalies_total",
				Help: "Total number of rows labeled anomalous",
			},
			[]string{"algorithm"},
		),
		partialFits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goguard_partial_fits_total",
				Help: "Total number of fits that dropped at least one task",
			},
			[]string{"algorithm"},
		),
		lastThreshold: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "goguard_threshold",
				Help: "Anomaly threshold of the most recent fit",
			},
			[]string{"algorithm"},
		),
	}
}

// ObserveFit records one completed fit.
func (r *Recorder) ObserveFit(algorithm string, res *detectors.Result, elapsed time.Duration) {
	r.fitDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
	r.rowsScored.WithLabelValues(algorithm).Add(float64(res.Frame.Len()))
	r.rowsFailed.WithLabelValues(algorithm).Add(float64(res.Failed))
	r.anomalies.WithLabelValues(algorithm).Add(float64(res.Anomalies()))
	if !res.Complete() {
		r.partialFits.WithLabelValues(algorithm).Inc()
	}
	r.lastThreshold.WithLabelValues(algorithm).Set(res.Threshold)
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registry in Prometheus text format, suitable for
// the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
