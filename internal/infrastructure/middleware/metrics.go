// metrics.go: Prometheus metrics and OpenTelemetry instruments for the pipeline
package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Prometheus metrics for pipeline monitoring
var (
	// Pipeline metrics
	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "pipeline_runs_total",
			Help:      "Total pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each inspection stage",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
		[]string{"stage"},
	)

	// Rejection metrics
	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "rejections_total",
			Help:      "Total requests rejected by an inspection stage",
		},
		[]string{"stage", "code"},
	)

	sanitizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "sanitized_total",
			Help:      "Total request parts rewritten by the sanitizer",
		},
		[]string{"part"},
	)

	// Rate limit metrics
	rateLimitStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "rate_limit_store_errors_total",
			Help:      "Rate limit store failures that let the request through",
		},
		[]string{"limiter", "op"},
	)

	// Request metrics
	requestBodyBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "talentboard",
			Subsystem: "security",
			Name:      "request_body_bytes",
			Help:      "Size of buffered request bodies",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"kind"},
	)
)

// OpenTelemetry instruments; they stay no-ops until a provider is installed.
var (
	tracer = otel.Tracer("talentboard-security")
	meter  = otel.Meter("talentboard-security")

	verdicts, _ = meter.Int64Counter("security.pipeline.verdicts",
		metric.WithDescription("Pipeline verdicts by outcome and deciding stage"))
)
