package mirror

import "time"

// Decision is the outcome tag of a routed question.
type Decision string

const (
	DecisionFAQ      Decision = "FAQ_RESPONSE"
	DecisionPages    Decision = "PAGES_SEARCH"
	DecisionDontKnow Decision = "DONT_KNOW"
	DecisionEscalate Decision = "ESCALATE"
)

// Decisions lists every decision in routing order.
var Decisions = []Decision{DecisionFAQ, DecisionPages, DecisionDontKnow, DecisionEscalate}

// IsFallback reports whether the decision did not answer from a store.
func (d Decision) IsFallback() bool {
	return d == DecisionDontKnow || d == DecisionEscalate
}

// Source is a retrieved entry that backs an answer.
type Source struct {
	ID    string  `json:"id"`
	URL   string  `json:"url,omitempty"`
	Text  string  `json:"text,omitempty"`
	Score float64 `json:"score"`
}

// RoutingDecision is the result of routing one question.
type RoutingDecision struct {
	Decision        Decision      `json:"decision"`
	Confidence      float64       `json:"confidence"`
	SimilarityScore float64       `json:"similarity_score"`
	Reasoning       string        `json:"reasoning"`
	Answer          string        `json:"answer"`
	Sources         []Source      `json:"sources"`
	FallbackUsed    bool          `json:"fallback_used"`
	Latency         time.Duration `json:"latency"`
	PolicyVersion   string        `json:"policy_version"`
}

// Interaction is a logged question/answer pair kept for curation.
type Interaction struct {
	ID         string    `json:"id"`
	SiteID     string    `json:"site_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Decision   Decision  `json:"decision"`
	Confidence float64   `json:"confidence"`
	Similarity float64   `json:"similarity"`
	Sources    []string  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RouterThresholds are the similarity cut-offs used by the routing engine.
type RouterThresholds struct {
	FAQ        float64 `json:"faq" koanf:"faq"`
	Pages      float64 `json:"pages" koanf:"pages"`
	Escalation float64 `json:"escalation" koanf:"escalation"`
}

// DefaultRouterThresholds returns 0.83 / 0.70 / 0.30.
func DefaultRouterThresholds() RouterThresholds {
	return RouterThresholds{FAQ: 0.83, Pages: 0.70, Escalation: 0.30}
}

// Validate requires 0 <= escalation < pages < faq <= 1.
func (t RouterThresholds) Validate() error {
	if t.FAQ > 1 || t.Escalation < 0 {
		return NewValidationError("router thresholds", "must lie within [0,1]")
	}
	if !(t.FAQ > t.Pages && t.Pages > t.Escalation) {
		return NewValidationError("router thresholds", "require faq > pages > escalation")
	}
	return nil
}
