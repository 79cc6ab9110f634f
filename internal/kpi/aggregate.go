package kpi

import (
	"math"
	"slices"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Overall score weights.
const (
	WeightGroundedness = 0.3
	WeightHelpfulness  = 0.3
	WeightAccuracy     = 0.2
	WeightAnswered     = 0.2
)

// Recommendation trigger thresholds.
const (
	MaxLatencyAvg      = 3 * time.Second
	MinGroundedness    = 0.6
	MinHelpfulness     = 0.6
	MaxFallbackRate    = 0.3
	issueLatency       = "high_latency"
	issueGroundedness  = "low_groundedness"
	issueHelpfulness   = "low_helpfulness"
	issueFallbackRate  = "high_fallback_rate"
	issueFailedQueries = "failed_questions"
)

// Quantile returns the value at sorted index floor(n*q), clamped to the
// last element. For [1,2,3,4,5,100] both p95 and p99 are 100.
func Quantile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	idx := int(math.Floor(float64(len(sorted)) * q))
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

// OverallScore is 0.3g + 0.3h + 0.2a + 0.2(1-fallback).
func OverallScore(groundedness, helpfulness, accuracy, fallbackRate float64) float64 {
	return WeightGroundedness*groundedness +
		WeightHelpfulness*helpfulness +
		WeightAccuracy*accuracy +
		WeightAnswered*(1-fallbackRate)
}

// DecisionMatch scores a routed decision against the expectation: 1 for
// an exact match, 0.5 for the neighbouring decision of the same kind
// (FAQ vs Pages, or DONT_KNOW vs ESCALATE), 0 otherwise.
func DecisionMatch(expected Expectation, got mirror.Decision) float64 {
	want := expected.Decision()
	switch {
	case got == "":
		return 0
	case want == got:
		return 1
	case want.IsFallback() == got.IsFallback():
		return 0.5
	default:
		return 0
	}
}

// aggregate folds per-question results into a snapshot. Failed questions
// count as fallbacks with zero scores and stay in every denominator.
func aggregate(siteID, version string, results []QuestionResult) *mirror.KPISnapshot {
	snap := &mirror.KPISnapshot{
		SiteID:           siteID,
		GoldenSetVersion: version,
		TotalQuestions:   len(results),
	}
	n := float64(len(results))
	if n == 0 {
		snap.Status = mirror.StatusForScore(0)
		return snap
	}

	latencies := make([]time.Duration, 0, len(results))
	var latencySum time.Duration
	var g, h, a, match, conf, confSq float64
	var faq, pages, fallback int
	for _, r := range results {
		latencies = append(latencies, r.Latency)
		latencySum += r.Latency
		g += r.Scores.Groundedness
		h += r.Scores.Helpfulness
		a += r.Scores.Accuracy
		match += r.DecisionMatch
		conf += r.Confidence
		confSq += r.Confidence * r.Confidence

		switch {
		case r.Failed:
			snap.FailedQuestions++
			fallback++
		case r.Decision == mirror.DecisionFAQ:
			faq++
		case r.Decision == mirror.DecisionPages:
			pages++
		default:
			fallback++
		}
	}

	snap.LatencyAvg = latencySum / time.Duration(len(results))
	snap.LatencyP95 = Quantile(latencies, 0.95)
	snap.LatencyP99 = Quantile(latencies, 0.99)
	snap.Groundedness = g / n
	snap.Helpfulness = h / n
	snap.Accuracy = a / n
	snap.DecisionMatch = match / n
	snap.FAQCoverage = float64(faq) / n
	snap.PagesCoverage = float64(pages) / n
	snap.FallbackRate = float64(fallback) / n
	snap.ConfidenceAvg = conf / n
	snap.ConfidenceStdDev = math.Sqrt(math.Max(0, confSq/n-snap.ConfidenceAvg*snap.ConfidenceAvg))
	snap.OverallScore = OverallScore(snap.Groundedness, snap.Helpfulness, snap.Accuracy, snap.FallbackRate)
	snap.Status = mirror.StatusForScore(snap.OverallScore)
	return snap
}

// Recommendation is a rule-based suggestion raised by a named issue.
type Recommendation struct {
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Recommend applies the issue rules to a snapshot.
func Recommend(s *mirror.KPISnapshot) []Recommendation {
	recs := []Recommendation{}
	if s.LatencyAvg > MaxLatencyAvg {
		recs = append(recs, Recommendation{
			Issue:    issueLatency,
			Severity: "high",
			Message:  "Average latency exceeds 3s. Check vector store and embedding service response times, or lower top_k.",
		})
	}
	if s.Groundedness < MinGroundedness {
		recs = append(recs, Recommendation{
			Issue:    issueGroundedness,
			Severity: "high",
			Message:  "Answers are poorly supported by sources. Re-ingest site pages and review chunking.",
		})
	}
	if s.Helpfulness < MinHelpfulness {
		recs = append(recs, Recommendation{
			Issue:    issueHelpfulness,
			Severity: "medium",
			Message:  "Answers are rated unhelpful. Seed the FAQ store with the site's most common questions.",
		})
	}
	if s.FallbackRate > MaxFallbackRate {
		recs = append(recs, Recommendation{
			Issue:    issueFallbackRate,
			Severity: "medium",
			Message:  "More than 30% of questions fell back. Ingest more content or lower the pages threshold.",
		})
	}
	if s.FailedQuestions > 0 {
		recs = append(recs, Recommendation{
			Issue:    issueFailedQueries,
			Severity: "low",
			Message:  "Some questions timed out or failed. Check service health and the per-question timeout.",
		})
	}
	return recs
}
