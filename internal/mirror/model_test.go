package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRouterThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultRouterThresholds().Validate())

	bad := []RouterThresholds{
		{FAQ: 0.70, Pages: 0.83, Escalation: 0.3},
		{FAQ: 0.83, Pages: 0.70, Escalation: 0.70},
		{FAQ: 0.83, Pages: 0.83, Escalation: 0.3},
		{FAQ: 1.2, Pages: 0.70, Escalation: 0.3},
		{FAQ: 0.83, Pages: 0.70, Escalation: -0.1},
	}
	for _, th := range bad {
		assert.ErrorIs(t, th.Validate(), ErrValidation, "%+v", th)
	}
}

func TestStatusForScore(t *testing.T) {
	assert.Equal(t, KPIExcellent, StatusForScore(0.8))
	assert.Equal(t, KPIGood, StatusForScore(0.79))
	assert.Equal(t, KPIGood, StatusForScore(0.6))
	assert.Equal(t, KPINeedsImprovement, StatusForScore(0.4))
	assert.Equal(t, KPIPoor, StatusForScore(0.39))
}

func TestEvaluationAggregate(t *testing.T) {
	s := EvaluationScores{Groundedness: 1, Helpfulness: 0.8, Clarity: 0.6, Completeness: 0.8, Relevance: 0.8}
	assert.InDelta(t, 0.8, s.Aggregate(), 1e-9)
	assert.InDelta(t, NeutralScore, NeutralEvaluation().Aggregate(), 1e-9)
	assert.True(t, NeutralEvaluation().Neutral)
}

func TestKnowledgeEntryPayloadRoundTrip(t *testing.T) {
	promoted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &KnowledgeEntry{
		ID:              "e1",
		Text:            "Q: hours? A: 9-17",
		SourceURL:       "https://acme.ro/contact",
		Question:        "hours?",
		Answer:          "9-17",
		EvaluationScore: 0.86,
		FrequencyCount:  4,
		PromotedAt:      promoted,
		PromotedBy:      "curator",
		Metadata:        map[string]string{"lang": "ro"},
	}

	got := EntryFromPayload("e1", entry.Payload())
	assert.Equal(t, entry.Text, got.Text)
	assert.Equal(t, entry.SourceURL, got.SourceURL)
	assert.Equal(t, entry.Question, got.Question)
	assert.Equal(t, entry.Answer, got.Answer)
	assert.InDelta(t, 0.86, got.EvaluationScore, 1e-9)
	assert.Equal(t, 4, got.FrequencyCount)
	assert.True(t, promoted.Equal(got.PromotedAt))
	assert.Equal(t, "curator", got.PromotedBy)
	assert.Equal(t, "ro", got.Metadata["lang"])
}

func TestReportExitCode(t *testing.T) {
	assert.Equal(t, 0, (&ProvisioningReport{Success: true}).ExitCode())
	assert.Equal(t, 1, (&ProvisioningReport{}).ExitCode())
	assert.True(t, DecisionEscalate.IsFallback())
	assert.False(t, DecisionPages.IsFallback())
}
