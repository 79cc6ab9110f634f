// Package judge scores answers for curation and KPI runs.
//
// Evaluators never fail the caller on a bad judge: an unreachable model or
// an unparseable reply yields neutral 0.5 scores together with an error
// that wraps mirror.ErrServiceUnavailable or mirror.ErrJudgeParsing, so
// callers can log the cause and carry on with the returned scores.
package judge

import (
	"context"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// CandidateRequest is a question/answer pair considered for the FAQ store.
type CandidateRequest struct {
	Question string
	Answer   string
	// Context is the source text the answer was drawn from.
	Context string
}

// ResponseRequest is one golden-set question and the routed reply.
type ResponseRequest struct {
	Question       string
	Answer         string
	Sources        []string
	ExpectedAnswer string
	Decision       mirror.Decision
}

// ResponseScores are the per-question KPI dimensions.
type ResponseScores struct {
	Groundedness float64 `json:"groundedness"`
	Helpfulness  float64 `json:"helpfulness"`
	Accuracy     float64 `json:"accuracy"`
	Neutral      bool    `json:"neutral,omitempty"`
}

// NeutralResponse returns mid-range KPI scores flagged as neutral.
func NeutralResponse() ResponseScores {
	return ResponseScores{
		Groundedness: mirror.NeutralScore,
		Helpfulness:  mirror.NeutralScore,
		Accuracy:     mirror.NeutralScore,
		Neutral:      true,
	}
}

// Evaluator scores candidates and KPI responses.
type Evaluator interface {
	EvaluateCandidate(ctx context.Context, req CandidateRequest) (mirror.EvaluationScores, error)
	EvaluateResponse(ctx context.Context, req ResponseRequest) (ResponseScores, error)
}
