package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	compileAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataomen_compile_attempts_total",
			Help: "Total number of SQL compile attempts by outcome.",
		},
		[]string{"outcome"},
	)
	questionsExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataomen_questions_exhausted_total",
			Help: "Total number of questions that hit the compile attempt ceiling.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataomen_query_duration_seconds",
			Help:    "Read-only query execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	embeddingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataomen_embedding_duration_seconds",
			Help:    "Embedding provider call latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
	anomaliesFlaggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataomen_anomalies_flagged_total",
			Help: "Total number of anomaly records that breached their threshold.",
		},
		[]string{"strategy"},
	)
	watchdogMetricsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataomen_watchdog_metrics_skipped_total",
			Help: "Total number of monitored metrics skipped for insufficient history.",
		},
	)
	datasetsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataomen_datasets_ingested_total",
			Help: "Total number of dataset ingestion runs by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		compileAttemptsTotal,
		questionsExhaustedTotal,
		queryDurationSeconds,
		embeddingDurationSeconds,
		anomaliesFlaggedTotal,
		watchdogMetricsSkippedTotal,
		datasetsIngestedTotal,
	)
}

func ObserveCompileAttempt(outcome string) {
	compileAttemptsTotal.WithLabelValues(outcome).Inc()
}

func IncrementQuestionExhausted() {
	questionsExhaustedTotal.Inc()
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveEmbeddingDuration(elapsed time.Duration) {
	embeddingDurationSeconds.Observe(elapsed.Seconds())
}

func AddAnomaliesFlagged(strategy string, count int) {
	if count <= 0 {
		return
	}
	anomaliesFlaggedTotal.WithLabelValues(strategy).Add(float64(count))
}

func IncrementWatchdogMetricSkipped() {
	watchdogMetricsSkippedTotal.Inc()
}

func ObserveDatasetIngested(outcome string) {
	datasetsIngestedTotal.WithLabelValues(outcome).Inc()
}
