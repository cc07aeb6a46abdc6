// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed ingestion metrics
	FeedRecordsIngested *prometheus.CounterVec
	FeedIngestErrors    *prometheus.CounterVec
	FeedWatermark       *prometheus.GaugeVec
	FeedPollLatency     *prometheus.HistogramVec

	// Dispatch metrics
	PredictionsDispatched *prometheus.CounterVec
	DispatchRuns          *prometheus.CounterVec
	DispatchDuration      prometheus.Histogram
	ModelCallLatency      *prometheus.HistogramVec
	ModelsRegistered      prometheus.Gauge

	// Scoring metrics
	InputsResolved    prometheus.Counter
	PredictionsScored *prometheus.CounterVec
	RoundsScored      prometheus.Counter
	ScoringCycles     *prometheus.CounterVec
	ScoringDuration   prometheus.Histogram

	// Leaderboard and checkpoint metrics
	LeaderboardsBuilt  prometheus.Counter
	CheckpointsCreated prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulCycle     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crunch_coordinator"
	}

	return &Metrics{
		// Feed ingestion metrics
		FeedRecordsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "records_ingested_total",
			Help:      "Total number of feed records durably written, by source and subject",
		}, []string{"source", "subject"}),
		FeedIngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ingest_errors_total",
			Help:      "Total number of feed ingestion errors by source",
		}, []string{"source"}),
		FeedWatermark: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "watermark_event_timestamp",
			Help:      "Highest durably ingested event timestamp per stream",
		}, []string{"source", "subject", "kind", "granularity"}),
		FeedPollLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poll_latency_seconds",
			Help:      "Feed provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		// Dispatch metrics
		PredictionsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "predictions_total",
			Help:      "Total number of prediction records written at dispatch, by status",
		}, []string{"status"}),
		DispatchRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Total number of dispatch rounds by outcome",
		}, []string{"status"}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatch round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ModelCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "model_call_latency_seconds",
			Help:      "Model runner broadcast latency in seconds by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ModelsRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "models_registered",
			Help:      "Number of models seen and registered this process lifetime",
		}),

		// Scoring metrics
		InputsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "inputs_resolved_total",
			Help:      "Total number of inputs resolved against ground truth",
		}),
		PredictionsScored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "predictions_total",
			Help:      "Total number of predictions settled, by terminal status",
		}, []string{"status"}),
		RoundsScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "rounds_total",
			Help:      "Total number of prediction rounds normalized and settled",
		}),
		ScoringCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "cycles_total",
			Help:      "Total number of scoring cycles by outcome",
		}, []string{"status"}),
		ScoringDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "cycle_duration_seconds",
			Help:      "Scoring cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		// Leaderboard and checkpoint metrics
		LeaderboardsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "builds_total",
			Help:      "Total number of leaderboard snapshots built",
		}),
		CheckpointsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "checkpoints_total",
			Help:      "Total number of reward checkpoints created",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful feed ingestion",
		}),
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful scoring cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeedBatch records a durably written feed batch.
func RecordFeedBatch(source, subject string, count int) {
	DefaultMetrics.FeedRecordsIngested.WithLabelValues(source, subject).Add(float64(count))
}

// RecordFeedError records a feed ingestion error.
func RecordFeedError(source string) {
	DefaultMetrics.FeedIngestErrors.WithLabelValues(source).Inc()
}

// UpdateWatermark updates the per-stream watermark gauge.
func UpdateWatermark(source, subject, kind, granularity string, eventTs int64) {
	DefaultMetrics.FeedWatermark.WithLabelValues(source, subject, kind, granularity).Set(float64(eventTs))
}

// RecordDispatchedPrediction counts one prediction written at dispatch time.
func RecordDispatchedPrediction(status string) {
	DefaultMetrics.PredictionsDispatched.WithLabelValues(status).Inc()
}

// RecordDispatchRun records a dispatch round.
func RecordDispatchRun(status string, durationSeconds float64) {
	DefaultMetrics.DispatchRuns.WithLabelValues(status).Inc()
	DefaultMetrics.DispatchDuration.Observe(durationSeconds)
}

// RecordModelCall records a model runner broadcast latency.
func RecordModelCall(method string, seconds float64) {
	DefaultMetrics.ModelCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordSettledPrediction counts one prediction reaching a terminal status.
func RecordSettledPrediction(status string) {
	DefaultMetrics.PredictionsScored.WithLabelValues(status).Inc()
}

// RecordScoringCycle records one scoring cycle.
func RecordScoringCycle(status string, durationSeconds float64) {
	DefaultMetrics.ScoringCycles.WithLabelValues(status).Inc()
	DefaultMetrics.ScoringDuration.Observe(durationSeconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
