package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "kind", "status"}, // kind: text | image
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model", "kind"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_generator_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model"},
	)
	aiUsageEstimated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generator_ai_usage_estimated_total",
			Help: "Responses where token usage was estimated locally with tiktoken.",
		},
		[]string{"model"},
	)
	imageRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "story_generator_image_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the image API rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)

const (
	kindText  = "text"
	kindImage = "image"
)

// observeRequest фиксирует результат одного запроса к модели.
func observeRequest(model, kind, status string, started time.Time) {
	aiRequestsTotal.WithLabelValues(model, kind, status).Inc()
	aiRequestDuration.WithLabelValues(model, kind).Observe(time.Since(started).Seconds())
}

func observeUsage(model string, usage UsageInfo) {
	if usage.TotalTokens <= 0 {
		return
	}
	aiPromptTokens.WithLabelValues(model).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.WithLabelValues(model).Observe(float64(usage.CompletionTokens))
}
