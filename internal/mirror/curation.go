package mirror

import "time"

// EvaluationScores are the five judge dimensions for a FAQ candidate.
type EvaluationScores struct {
	Groundedness float64 `json:"groundedness"`
	Helpfulness  float64 `json:"helpfulness"`
	Clarity      float64 `json:"clarity"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	// Neutral is set when the judge reply was unusable and defaults were used.
	Neutral bool `json:"neutral,omitempty"`
}

// NeutralScore is the mid-range default used when a judge reply cannot be parsed.
const NeutralScore = 0.5

// NeutralEvaluation returns mid-range scores flagged as neutral.
func NeutralEvaluation() EvaluationScores {
	return EvaluationScores{
		Groundedness: NeutralScore,
		Helpfulness:  NeutralScore,
		Clarity:      NeutralScore,
		Completeness: NeutralScore,
		Relevance:    NeutralScore,
		Neutral:      true,
	}
}

// Aggregate is the unweighted mean of the five dimensions.
func (s EvaluationScores) Aggregate() float64 {
	return (s.Groundedness + s.Helpfulness + s.Clarity + s.Completeness + s.Relevance) / 5
}

// CandidateStatus tracks a FAQ candidate through curation.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidatePromoted CandidateStatus = "promoted"
	CandidateRejected CandidateStatus = "rejected"
)

// RejectionReason explains why a candidate was not promoted.
type RejectionReason string

const (
	RejectDuplicate    RejectionReason = "duplicate"
	RejectLowScore     RejectionReason = "low_evaluation_score"
	RejectLowFrequency RejectionReason = "low_frequency"
	RejectCapacity     RejectionReason = "faq_capacity_reached"
	RejectError        RejectionReason = "error"
)

// FAQCandidate is a high-confidence interaction considered for promotion.
type FAQCandidate struct {
	ID            string           `json:"id"`
	SiteID        string           `json:"site_id"`
	InteractionID string           `json:"interaction_id"`
	Question      string           `json:"question"`
	Answer        string           `json:"answer"`
	SourceURL     string           `json:"source_url,omitempty"`
	Confidence    float64          `json:"confidence"`
	Scores        EvaluationScores `json:"scores"`
	Frequency     int              `json:"frequency"`
	Status        CandidateStatus  `json:"status"`
	Reason        RejectionReason  `json:"reason,omitempty"`
	FAQEntryID    string           `json:"faq_entry_id,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
