package judge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

type fakeModel struct {
	reply   string
	err     error
	prompts []string
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tc.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func newTestJudge(m llms.Model) *LLMJudge {
	return NewLLMJudgeWithModel(m, LLMConfig{Timeout: time.Second, RateLimit: 1000}, nil)
}

func TestParseCandidateScores(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantErr     bool
		wantNeutral bool
		wantGround  float64
	}{
		{"plain json", `{"groundedness":0.9,"helpfulness":0.8,"clarity":1,"completeness":0.7,"relevance":0.95}`, false, false, 0.9},
		{"fenced with prose", "Here you go:\n```json\n{\"groundedness\": 0.6, \"helpfulness\": 0.6}\n```", false, false, 0.6},
		{"ten point scale", `{"groundedness": 8, "helpfulness": 7}`, false, false, 0.8},
		{"string numbers", `{"groundedness": "0.75"}`, false, false, 0.75},
		{"not json", "The answer looks great!", true, true, 0.5},
		{"broken json", `{"groundedness": 0.9,`, true, true, 0.5},
		{"no known keys", `{"quality": 0.9}`, true, true, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseCandidateScores(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, mirror.ErrJudgeParsing)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantNeutral, s.Neutral)
			assert.InDelta(t, tt.wantGround, s.Groundedness, 1e-9)
		})
	}
}

func TestParseCandidateScores_MissingFieldsNeutral(t *testing.T) {
	s, err := ParseCandidateScores(`{"groundedness": 1.0}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Groundedness)
	assert.Equal(t, mirror.NeutralScore, s.Clarity)
	assert.False(t, s.Neutral)
}

func TestParseResponseScores(t *testing.T) {
	s, err := ParseResponseScores(`{"groundedness":0.9,"helpfulness":0.7,"accuracy":0.8}`)
	require.NoError(t, err)
	assert.Equal(t, ResponseScores{Groundedness: 0.9, Helpfulness: 0.7, Accuracy: 0.8}, s)

	s, err = ParseResponseScores("nope")
	assert.ErrorIs(t, err, mirror.ErrJudgeParsing)
	assert.Equal(t, NeutralResponse(), s)
}

func TestLLMJudge_EvaluateCandidate(t *testing.T) {
	m := &fakeModel{reply: `{"groundedness":0.9,"helpfulness":0.9,"clarity":0.9,"completeness":0.8,"relevance":1}`}
	j := newTestJudge(m)

	s, err := j.EvaluateCandidate(context.Background(), CandidateRequest{
		Question: "How long does shipping take?",
		Answer:   "Shipping takes 3 days.",
		Context:  "All orders ship within 3 days.",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, s.Aggregate(), 1e-9)
	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], "How long does shipping take?")
	assert.Contains(t, m.prompts[0], "All orders ship within 3 days.")
}

func TestLLMJudge_UnparseableReplyIsNeutral(t *testing.T) {
	j := newTestJudge(&fakeModel{reply: "I think it is fine"})
	s, err := j.EvaluateCandidate(context.Background(), CandidateRequest{Question: "q", Answer: "a"})
	assert.ErrorIs(t, err, mirror.ErrJudgeParsing)
	assert.Equal(t, mirror.NeutralEvaluation(), s)
}

func TestLLMJudge_UnavailableIsNeutral(t *testing.T) {
	j := newTestJudge(&fakeModel{err: errors.New("connection refused")})
	s, err := j.EvaluateResponse(context.Background(), ResponseRequest{Question: "q", Answer: "a"})
	assert.ErrorIs(t, err, mirror.ErrServiceUnavailable)
	assert.Equal(t, NeutralResponse(), s)
}

func TestHeuristicJudge_Candidate(t *testing.T) {
	j := NewHeuristicJudge()
	s, err := j.EvaluateCandidate(context.Background(), CandidateRequest{
		Question: "What are your opening hours?",
		Answer:   "Our opening hours are Monday to Friday from nine to five.",
		Context:  "Opening hours: Monday to Friday, nine to five. Closed on weekends.",
	})
	require.NoError(t, err)
	assert.Greater(t, s.Groundedness, 0.8)
	assert.InDelta(t, 0.5, s.Relevance, 1e-9)
	assert.Equal(t, 1.0, s.Clarity)

	empty, err := j.EvaluateCandidate(context.Background(), CandidateRequest{Question: "q"})
	require.NoError(t, err)
	assert.Zero(t, empty.Aggregate())
}

func TestHeuristicJudge_ResponseAgainstReference(t *testing.T) {
	j := NewHeuristicJudge()
	good, err := j.EvaluateResponse(context.Background(), ResponseRequest{
		Question:       "Do you ship to Germany?",
		Answer:         "Yes, we ship to Germany within five days.",
		Sources:        []string{"We ship to Germany and Austria within five days."},
		ExpectedAnswer: "Shipping to Germany takes five days.",
		Decision:       mirror.DecisionPages,
	})
	require.NoError(t, err)

	bad, err := j.EvaluateResponse(context.Background(), ResponseRequest{
		Question:       "Do you ship to Germany?",
		Answer:         "I could not find that information.",
		ExpectedAnswer: "Shipping to Germany takes five days.",
		Decision:       mirror.DecisionDontKnow,
	})
	require.NoError(t, err)

	assert.Greater(t, good.Accuracy, bad.Accuracy)
	assert.Greater(t, good.Groundedness, bad.Groundedness)
	assert.Greater(t, good.Helpfulness, bad.Helpfulness)
}

func TestNewFromConfig(t *testing.T) {
	e, err := NewFromConfig(config.JudgeConfig{Provider: "heuristic"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HeuristicJudge{}, e)

	e, err = NewFromConfig(config.JudgeConfig{Provider: "openai", Model: "llama3.1", BaseURL: "http://localhost:11434/v1"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LLMJudge{}, e)

	_, err = NewFromConfig(config.JudgeConfig{Provider: "openai"}, nil)
	assert.ErrorIs(t, err, mirror.ErrValidation)

	_, err = NewFromConfig(config.JudgeConfig{Provider: "oracle"}, nil)
	assert.Error(t, err)
}
