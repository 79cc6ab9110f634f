package kpi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	overallScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mirror",
		Subsystem: "kpi",
		Name:      "overall_score",
		Help:      "Overall score of the latest KPI run per site.",
	}, []string{"site_id"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror",
		Subsystem: "kpi",
		Name:      "runs_total",
		Help:      "KPI runs by resulting status.",
	}, []string{"status"})
)
