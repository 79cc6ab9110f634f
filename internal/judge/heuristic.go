package judge

import (
	"context"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// HeuristicJudge scores by lexical overlap. It needs no model and is the
// default when no judge endpoint is configured.
type HeuristicJudge struct{}

// NewHeuristicJudge returns a HeuristicJudge.
func NewHeuristicJudge() *HeuristicJudge { return &HeuristicJudge{} }

// EvaluateCandidate implements Evaluator.
func (HeuristicJudge) EvaluateCandidate(_ context.Context, req CandidateRequest) (mirror.EvaluationScores, error) {
	answer := keywords(req.Answer)
	if len(answer) == 0 {
		return mirror.EvaluationScores{}, nil
	}
	relevance := overlap(keywords(req.Question), answer)
	grounded := mirror.NeutralScore
	if strings.TrimSpace(req.Context) != "" {
		grounded = overlap(answer, keywords(req.Context))
	}
	words := len(strings.Fields(req.Answer))
	return mirror.EvaluationScores{
		Groundedness: grounded,
		Helpfulness:  0.5*lengthScore(words, 30) + 0.5*relevance,
		Clarity:      clarity(req.Answer),
		Completeness: lengthScore(words, 40),
		Relevance:    relevance,
	}, nil
}

// EvaluateResponse implements Evaluator.
func (HeuristicJudge) EvaluateResponse(_ context.Context, req ResponseRequest) (ResponseScores, error) {
	answer := keywords(req.Answer)
	if len(answer) == 0 {
		return ResponseScores{}, nil
	}
	grounded := 0.0
	if len(req.Sources) > 0 {
		grounded = overlap(answer, keywords(strings.Join(req.Sources, " ")))
	}
	relevance := overlap(keywords(req.Question), answer)
	accuracy := grounded
	if req.ExpectedAnswer != "" {
		accuracy = overlap(keywords(req.ExpectedAnswer), answer)
	}
	helpful := 0.5*lengthScore(len(strings.Fields(req.Answer)), 30) + 0.5*relevance
	if req.Decision.IsFallback() {
		helpful *= 0.5
	}
	return ResponseScores{Groundedness: grounded, Helpfulness: helpful, Accuracy: accuracy}, nil
}

// keywords returns the set of lowercased tokens longer than three runes.
func keywords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(tok)) > 3 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// overlap is the fraction of want found in have.
func overlap(want, have map[string]struct{}) float64 {
	if len(want) == 0 {
		return 0
	}
	hit := 0
	for k := range want {
		if _, ok := have[k]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func lengthScore(words, target int) float64 {
	return clamp01(float64(words) / float64(target))
}

// clarity penalizes average sentence length above 25 words.
func clarity(s string) float64 {
	sentences := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	if len(sentences) == 0 {
		return 0
	}
	words := len(strings.Fields(s))
	avg := float64(words) / float64(len(sentences))
	if avg <= 25 {
		return 1
	}
	return clamp01(25 / avg)
}
