package curator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "curator",
		Name:      "cycles_total",
		Help:      "Curator cycles by outcome (ok, error, skipped).",
	}, []string{"outcome"})

	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "curator",
		Name:      "candidates_total",
		Help:      "Candidates by outcome: promoted or a rejection reason.",
	}, []string{"outcome"})
)
