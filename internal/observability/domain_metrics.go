package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of natural-language questions processed.",
		},
	)
	questionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_question_duration_seconds",
			Help:    "End-to-end question pipeline latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	workflowOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_workflow_outcomes_total",
			Help: "Workflow terminations by terminal step.",
		},
		[]string{"step"},
	)
	safetyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_safety_rejections_total",
			Help: "Queries rejected by the safety gate, by reason.",
		},
		[]string{"reason"},
	)
	correctionAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_correction_attempts_total",
			Help: "Total number of SQL correction attempts.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_duration_seconds",
			Help:    "Database query execution latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	queryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_errors_total",
			Help: "Failed query executions by error kind.",
		},
		[]string{"kind"},
	)
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_cache_hits_total",
			Help: "Cache hits by keyspace.",
		},
		[]string{"keyspace"},
	)
	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_cache_misses_total",
			Help: "Cache misses by keyspace, including cache backend failures.",
		},
		[]string{"keyspace"},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_exports_total",
			Help: "Result exports by format.",
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionDurationSeconds,
		workflowOutcomesTotal,
		safetyRejectionsTotal,
		correctionAttemptsTotal,
		queryDurationSeconds,
		queryErrorsTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		exportsTotal,
	)
}

func ObserveQuestion(terminalStep string, elapsed time.Duration) {
	questionsTotal.Inc()
	questionDurationSeconds.Observe(elapsed.Seconds())
	workflowOutcomesTotal.WithLabelValues(terminalStep).Inc()
}

func IncrementSafetyRejection(reason string) {
	safetyRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncrementCorrectionAttempt() {
	correctionAttemptsTotal.Inc()
}

func ObserveQueryExecution(elapsed time.Duration, errorKind string) {
	queryDurationSeconds.Observe(elapsed.Seconds())
	if errorKind != "" {
		queryErrorsTotal.WithLabelValues(errorKind).Inc()
	}
}

func IncrementCacheHit(keyspace string) {
	cacheHitsTotal.WithLabelValues(keyspace).Inc()
}

func IncrementCacheMiss(keyspace string) {
	cacheMissesTotal.WithLabelValues(keyspace).Inc()
}

func IncrementExport(format string) {
	exportsTotal.WithLabelValues(format).Inc()
}
