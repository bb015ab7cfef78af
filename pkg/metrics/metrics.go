package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_runs_total",
		Help: "Merge runs by outcome",
	}, []string{"result"}) // "cache_hit", "merged", "error"

	SourcesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accesslog_sources_ingested_total",
		Help: "Source files folded into the baseline table",
	})
	RowsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accesslog_rows_ingested_total",
		Help: "Rows added to the baseline table",
	})
	Duplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_duplicates_total",
		Help: "Duplicate observations of a natural key by stage",
	}, []string{"stage"}) // "batch", "merge"

	TableRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accesslog_table_rows",
		Help: "Rows in the current baseline table",
	})
	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accesslog_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run",
	})

	// Blob store metrics
	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accesslog_store_duration_seconds",
		Help:    "Blob store operation duration",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"operation"})
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_store_errors_total",
		Help: "Blob store errors by operation",
	}, []string{"operation"})

	// Snapshot metrics
	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_snapshot_total",
		Help: "Percentage snapshot requests by mode",
	}, []string{"mode"}) // "computed", "cached"
)

func init() {
	// Pre-initialize Vec metrics so they appear in output before first use.
	Runs.WithLabelValues("cache_hit")
	Runs.WithLabelValues("merged")
	Runs.WithLabelValues("error")
	Duplicates.WithLabelValues("batch")
	Duplicates.WithLabelValues("merge")
	StoreDuration.WithLabelValues("get")
	StoreDuration.WithLabelValues("put")
	StoreErrors.WithLabelValues("get")
	StoreErrors.WithLabelValues("put")
	Snapshots.WithLabelValues("computed")
	Snapshots.WithLabelValues("cached")
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for the node_exporter textfile collector. The file is written
// atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
