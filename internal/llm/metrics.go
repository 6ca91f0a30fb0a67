package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saimilar_llm_requests_total",
		Help: "LLM provider calls by model and outcome",
	}, []string{"model", "provider", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saimilar_llm_tokens_total",
		Help: "Tokens consumed by model and direction",
	}, []string{"model", "direction"})

	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saimilar_llm_cost_usd_total",
		Help: "Estimated provider cost in USD",
	}, []string{"model"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saimilar_llm_request_duration_seconds",
		Help:    "Provider call latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"model"})
)

const (
	outcomeSuccess    = "success"
	outcomeQuota      = "quota"
	outcomeError      = "error"
	outcomeParseError = "parse_error"
)

func observeUsage(stats UsageStats) {
	tokensTotal.WithLabelValues(stats.ModelKey, "input").Add(float64(stats.InputTokens))
	tokensTotal.WithLabelValues(stats.ModelKey, "output").Add(float64(stats.OutputTokens))
	costTotal.WithLabelValues(stats.ModelKey).Add(stats.CostEstimate)
	requestDuration.WithLabelValues(stats.ModelKey).Observe(float64(stats.WallClockMs) / 1000)
}
