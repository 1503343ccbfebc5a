package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "review_pulse"

var (
	once sync.Once

	ReviewsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_reviews_dropped_total",
			Help:      "Reviews dropped by the guardrail filter before classification",
		},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications produced, labeled by provenance",
		},
		[]string{"provenance"},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_batches_total",
			Help:      "Classification batches processed, labeled by outcome",
		},
		[]string{"result"},
	)

	BatchAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_batch_attempts",
			Help:      "Remote calls made per batch including retries",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_classify_duration_seconds",
			Help:      "Duration of a single remote classification call",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total LLM tokens used",
		},
		[]string{"provider", "type"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_cache_hits_total",
			Help:      "Reviews served from the classification cache",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_cache_misses_total",
			Help:      "Reviews not found in the classification cache",
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs, labeled by status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "End-to-end pipeline run duration",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			ReviewsDropped,
			ClassificationsTotal,
			BatchesTotal,
			BatchAttempts,
			RemoteCallDuration,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			RunsTotal,
			RunDuration,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
