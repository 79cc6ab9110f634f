package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Routed questions by site and decision.",
	}, []string{"site_id", "decision"})

	routeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mirror",
		Subsystem: "routing",
		Name:      "duration_seconds",
		Help:      "End-to-end routing latency.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"site_id"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "routing",
		Name:      "store_errors_total",
		Help:      "Store lookups that failed and were scored as 0.",
	}, []string{"site_id", "store"})
)
