package routing

import (
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Stats is a point-in-time copy of an engine's counters.
type Stats struct {
	Total       int64                     `json:"total"`
	ByDecision  map[mirror.Decision]int64 `json:"by_decision"`
	AvgLatency  time.Duration             `json:"avg_latency"`
	StoreErrors int64                     `json:"store_errors"`
}

// counters is lock-free. The latency mean lives behind a single pointer
// so count and mean always change together.
type counters struct {
	faq, pages, dontKnow, escalate atomic.Int64
	storeErrors                    atomic.Int64
	latency                        atomic.Pointer[latencyMean]
}

type latencyMean struct {
	n    int64
	mean float64
}

func (c *counters) record(d mirror.Decision, latency time.Duration) {
	switch d {
	case mirror.DecisionFAQ:
		c.faq.Add(1)
	case mirror.DecisionPages:
		c.pages.Add(1)
	case mirror.DecisionDontKnow:
		c.dontKnow.Add(1)
	case mirror.DecisionEscalate:
		c.escalate.Add(1)
	}
	for {
		old := c.latency.Load()
		next := &latencyMean{n: 1, mean: float64(latency)}
		if old != nil {
			next.n = old.n + 1
			next.mean = old.mean + (float64(latency)-old.mean)/float64(next.n)
		}
		if c.latency.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		ByDecision: map[mirror.Decision]int64{
			mirror.DecisionFAQ:      c.faq.Load(),
			mirror.DecisionPages:    c.pages.Load(),
			mirror.DecisionDontKnow: c.dontKnow.Load(),
			mirror.DecisionEscalate: c.escalate.Load(),
		},
		StoreErrors: c.storeErrors.Load(),
	}
	for _, n := range s.ByDecision {
		s.Total += n
	}
	if l := c.latency.Load(); l != nil {
		s.AvgLatency = time.Duration(l.mean)
	}
	return s
}
