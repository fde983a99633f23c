// Package metrics provides Prometheus metrics for the fern sync and loader.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal tracks per-kind syncs by status
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of per-kind syncs by status",
		},
		[]string{"kind", "status"},
	)

	// SyncDuration tracks per-kind sync duration in seconds
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of per-kind syncs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// SyncStageFailures tracks aborted syncs by the stage that failed
	SyncStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "stage_failures_total",
			Help:      "Total number of syncs aborted by stage",
		},
		[]string{"kind", "stage"},
	)

	// WatermarkTimestamp exposes the committed watermark per kind
	WatermarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the last committed watermark",
		},
		[]string{"kind"},
	)

	// DocumentsPublished tracks documents written to the search index
	DocumentsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "search",
			Name:      "documents_total",
			Help:      "Total number of documents sent to the search index by status",
		},
		[]string{"status"},
	)

	// ScalarConflicts tracks joined rows that disagreed on film work fields
	ScalarConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "enrich",
			Name:      "scalar_conflicts_total",
			Help:      "Total number of scalar fields overwritten with a different value",
		},
		[]string{"kind"},
	)

	// LoaderRows tracks bulk loader rows by table and status
	LoaderRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "loader",
			Name:      "rows_total",
			Help:      "Total number of rows handled by the bulk loader",
		},
		[]string{"table", "status"},
	)
)

// RecordSync records one finished per-kind sync.
func RecordSync(kind, status string, duration time.Duration) {
	SyncsTotal.WithLabelValues(kind, status).Inc()
	SyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordStageFailure(kind, stage string) {
	SyncStageFailures.WithLabelValues(kind, stage).Inc()
}

func RecordWatermark(kind string, ts time.Time) {
	WatermarkTimestamp.WithLabelValues(kind).Set(float64(ts.UnixNano()) / 1e9)
}

func RecordPublished(succeeded, failed int) {
	DocumentsPublished.WithLabelValues("success").Add(float64(succeeded))
	DocumentsPublished.WithLabelValues("failed").Add(float64(failed))
}

func RecordScalarConflicts(kind string, n int) {
	if n > 0 {
		ScalarConflicts.WithLabelValues(kind).Add(float64(n))
	}
}

func RecordLoaderRows(table, status string, n int) {
	if n > 0 {
		LoaderRows.WithLabelValues(table, status).Add(float64(n))
	}
}
