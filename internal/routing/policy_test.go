package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.NoError(t, p.Validate())

	assert.InDelta(t, 0.84, p.FAQConfidence(0.7), 1e-9)
	assert.InDelta(t, 0.95, p.FAQConfidence(0.85), 1e-9)
	assert.InDelta(t, 0.77, p.PagesConfidence(0.7), 1e-9)
	assert.InDelta(t, 0.90, p.PagesConfidence(0.82), 1e-9)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name string
		p    ScoringPolicy
	}{
		{"missing version", ScoringPolicy{FAQBoost: 1, FAQCap: 1, PagesBoost: 1, PagesCap: 1}},
		{"zero boost", ScoringPolicy{Version: "v2", FAQCap: 1, PagesBoost: 1, PagesCap: 1}},
		{"cap above one", ScoringPolicy{Version: "v2", FAQBoost: 1, FAQCap: 1.5, PagesBoost: 1, PagesCap: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.p.Validate())
		})
	}
}

func TestRoundScore(t *testing.T) {
	assert.Equal(t, 0.83, roundScore(float32(0.83)))
	assert.Equal(t, 0.7, roundScore(float32(0.7)))
}
