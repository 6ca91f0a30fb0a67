package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saimilar_usage_events_dropped_total",
		Help: "Usage records dropped because the ledger queue was full",
	})

	persistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saimilar_usage_events_persisted_total",
		Help: "Usage records written to Postgres by outcome",
	}, []string{"outcome"})
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)
