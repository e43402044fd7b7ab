package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	importRows     *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	rebuildBuckets *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		importRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esstats_import_rows_total",
				Help: "Rows handled per import, by outcome (inserted, updated, skipped, rejected)",
			},
			[]string{"symbol", "outcome"},
		),
		importDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esstats_import_duration_seconds",
				Help:    "Wall time of one import run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		rebuildBuckets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esstats_rebuild_buckets_total",
				Help: "30-minute buckets deleted and reinserted by rebuilds",
			},
			[]string{"symbol", "action"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esstats_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordImportRows counts rows by outcome for one import run.
func (r *Recorder) RecordImportRows(symbol, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.importRows.WithLabelValues(symbol, outcome).Add(float64(n))
}

// RecordImportDuration records the wall time of one import run.
func (r *Recorder) RecordImportDuration(symbol string, seconds float64) {
	r.importDuration.WithLabelValues(symbol).Observe(seconds)
}

// RecordRebuildBuckets counts derived buckets touched by a rebuild.
func (r *Recorder) RecordRebuildBuckets(symbol string, deleted, inserted int) {
	r.rebuildBuckets.WithLabelValues(symbol, "deleted").Add(float64(deleted))
	r.rebuildBuckets.WithLabelValues(symbol, "inserted").Add(float64(inserted))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
