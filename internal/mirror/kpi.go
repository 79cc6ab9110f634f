package mirror

import "time"

// KPIStatus buckets an overall KPI score.
type KPIStatus string

const (
	KPIExcellent        KPIStatus = "excellent"
	KPIGood             KPIStatus = "good"
	KPINeedsImprovement KPIStatus = "needs_improvement"
	KPIPoor             KPIStatus = "poor"
)

// StatusForScore buckets at 0.8, 0.6 and 0.4.
func StatusForScore(score float64) KPIStatus {
	switch {
	case score >= 0.8:
		return KPIExcellent
	case score >= 0.6:
		return KPIGood
	case score >= 0.4:
		return KPINeedsImprovement
	default:
		return KPIPoor
	}
}

// KPISnapshot is the aggregate of one golden-set run.
type KPISnapshot struct {
	ID               string        `json:"id"`
	SiteID           string        `json:"site_id"`
	GoldenSetVersion string        `json:"golden_set_version"`
	TotalQuestions   int           `json:"total_questions"`
	FailedQuestions  int           `json:"failed_questions"`
	LatencyAvg       time.Duration `json:"latency_avg"`
	LatencyP95       time.Duration `json:"latency_p95"`
	LatencyP99       time.Duration `json:"latency_p99"`
	Groundedness     float64       `json:"groundedness"`
	Helpfulness      float64       `json:"helpfulness"`
	Accuracy         float64       `json:"accuracy"`
	DecisionMatch    float64       `json:"decision_match"`
	FAQCoverage      float64       `json:"faq_coverage"`
	PagesCoverage    float64       `json:"pages_coverage"`
	FallbackRate     float64       `json:"fallback_rate"`
	ConfidenceAvg    float64       `json:"confidence_avg"`
	ConfidenceStdDev float64       `json:"confidence_stddev"`
	OverallScore     float64       `json:"overall_score"`
	Status           KPIStatus     `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}
