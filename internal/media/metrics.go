package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saimilar_tmdb_requests_total",
		Help: "TMDB requests by outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "saimilar_tmdb_request_duration_seconds",
		Help:    "TMDB request latency",
		Buckets: prometheus.DefBuckets,
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "saimilar_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
)
