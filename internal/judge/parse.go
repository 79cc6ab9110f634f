package judge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// extractObject returns the outermost {...} span of a reply, which may be
// wrapped in prose or a markdown fence.
func extractObject(reply string) (map[string]any, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", mirror.ErrJudgeParsing)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", mirror.ErrJudgeParsing, err)
	}
	return obj, nil
}

// score reads key as a [0,1] value. Replies on a 0-10 or 0-100 scale are
// rescaled.
func score(obj map[string]any, key string) (float64, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	switch {
	case v > 10:
		v /= 100
	case v > 1:
		v /= 10
	}
	return clamp01(v), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseCandidateScores decodes the five curation dimensions. Missing
// dimensions default to neutral; a reply with none of them is a parse error.
func ParseCandidateScores(reply string) (mirror.EvaluationScores, error) {
	obj, err := extractObject(reply)
	if err != nil {
		return mirror.NeutralEvaluation(), err
	}
	out := mirror.EvaluationScores{}
	found := 0
	for key, dst := range map[string]*float64{
		"groundedness": &out.Groundedness,
		"helpfulness":  &out.Helpfulness,
		"clarity":      &out.Clarity,
		"completeness": &out.Completeness,
		"relevance":    &out.Relevance,
	} {
		if v, ok := score(obj, key); ok {
			*dst = v
			found++
		} else {
			*dst = mirror.NeutralScore
		}
	}
	if found == 0 {
		return mirror.NeutralEvaluation(), fmt.Errorf("%w: no score fields in reply", mirror.ErrJudgeParsing)
	}
	return out, nil
}

// ParseResponseScores decodes the three KPI dimensions.
func ParseResponseScores(reply string) (ResponseScores, error) {
	obj, err := extractObject(reply)
	if err != nil {
		return NeutralResponse(), err
	}
	out := ResponseScores{}
	found := 0
	for key, dst := range map[string]*float64{
		"groundedness": &out.Groundedness,
		"helpfulness":  &out.Helpfulness,
		"accuracy":     &out.Accuracy,
	} {
		if v, ok := score(obj, key); ok {
			*dst = v
			found++
		} else {
			*dst = mirror.NeutralScore
		}
	}
	if found == 0 {
		return NeutralResponse(), fmt.Errorf("%w: no score fields in reply", mirror.ErrJudgeParsing)
	}
	return out, nil
}
