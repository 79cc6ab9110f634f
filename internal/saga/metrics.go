package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "saga",
		Name:      "steps_total",
		Help:      "Provisioning steps by step name and status.",
	}, []string{"step", "status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "saga",
		Name:      "runs_total",
		Help:      "Provisioning runs by outcome (success, failure, aborted).",
	}, []string{"outcome"})
)
