package kpi

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store/memory"
)

type fixedJudge struct {
	scores judge.ResponseScores
	err    error
}

func (j fixedJudge) EvaluateCandidate(context.Context, judge.CandidateRequest) (mirror.EvaluationScores, error) {
	return mirror.NeutralEvaluation(), nil
}

func (j fixedJudge) EvaluateResponse(context.Context, judge.ResponseRequest) (judge.ResponseScores, error) {
	if j.err != nil {
		return judge.NeutralResponse(), j.err
	}
	return j.scores, nil
}

// scriptedRouter answers every question with the decision its golden
// entry expects, except for questions listed in override or hang.
type scriptedRouter struct {
	set      *GoldenSet
	override map[string]mirror.Decision
	hang     map[string]bool
	fail     map[string]bool
}

func (r *scriptedRouter) Route(ctx context.Context, question string) (*mirror.RoutingDecision, error) {
	for _, q := range r.set.Questions {
		if q.Question != question {
			continue
		}
		if r.hang[q.ID] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if r.fail[q.ID] {
			return nil, errors.New("router exploded")
		}
		d := q.Expected.Decision()
		if o, ok := r.override[q.ID]; ok {
			d = o
		}
		conf := 0.9
		if d.IsFallback() {
			conf = 0.2
		}
		return &mirror.RoutingDecision{Decision: d, Confidence: conf, SimilarityScore: conf, Answer: "answer to " + q.ID}, nil
	}
	return nil, errors.New("unknown question")
}

func newHarness(t *testing.T, j judge.Evaluator, snaps *memory.Store, timeout time.Duration) *Harness {
	t.Helper()
	h, err := New(j, snaps, Config{QuestionTimeout: timeout}, zap.NewNop())
	require.NoError(t, err)
	return h
}

func good() fixedJudge {
	return fixedJudge{scores: judge.ResponseScores{Groundedness: 0.9, Helpfulness: 0.9, Accuracy: 0.9}}
}

func TestQuantile(t *testing.T) {
	ms := func(vs ...int) []time.Duration {
		out := make([]time.Duration, len(vs))
		for i, v := range vs {
			out[i] = time.Duration(v) * time.Millisecond
		}
		return out
	}
	lat := ms(5, 1, 100, 3, 2, 4)

	assert.Equal(t, 100*time.Millisecond, Quantile(lat, 0.95))
	assert.Equal(t, 100*time.Millisecond, Quantile(lat, 0.99))
	assert.Equal(t, 4*time.Millisecond, Quantile(lat, 0.5))
	assert.Equal(t, 1*time.Millisecond, Quantile(lat, 0))
	assert.Equal(t, 100*time.Millisecond, Quantile(lat, 1))
	assert.Zero(t, Quantile(nil, 0.95))
	assert.Equal(t, ms(5, 1, 100, 3, 2, 4), lat, "input is not reordered")
}

func TestOverallScoreAndStatus(t *testing.T) {
	assert.InDelta(t, 1.0, OverallScore(1, 1, 1, 0), 1e-9)
	assert.InDelta(t, 0.3*0.8+0.3*0.7+0.2*0.6+0.2*0.75, OverallScore(0.8, 0.7, 0.6, 0.25), 1e-9)

	assert.Equal(t, mirror.KPIExcellent, mirror.StatusForScore(0.8))
	assert.Equal(t, mirror.KPIGood, mirror.StatusForScore(0.6))
	assert.Equal(t, mirror.KPINeedsImprovement, mirror.StatusForScore(0.4))
	assert.Equal(t, mirror.KPIPoor, mirror.StatusForScore(0.39))
}

func TestDecisionMatch(t *testing.T) {
	assert.Equal(t, 1.0, DecisionMatch(ExpectFAQ, mirror.DecisionFAQ))
	assert.Equal(t, 0.5, DecisionMatch(ExpectFAQ, mirror.DecisionPages))
	assert.Equal(t, 0.5, DecisionMatch(ExpectEscalate, mirror.DecisionDontKnow))
	assert.Equal(t, 0.0, DecisionMatch(ExpectPages, mirror.DecisionEscalate))
	assert.Equal(t, 0.0, DecisionMatch(ExpectFallback, ""))
}

func TestDefaultGoldenSet(t *testing.T) {
	gs := DefaultGoldenSet()
	assert.NotEmpty(t, gs.Version)
	assert.GreaterOrEqual(t, len(gs.Questions), MinQuestions)

	seen := map[Difficulty]bool{}
	kinds := map[Expectation]bool{}
	for _, q := range gs.Questions {
		seen[q.Difficulty] = true
		kinds[q.Expected] = true
	}
	assert.Len(t, seen, 3, "spans easy, medium and hard")
	assert.Len(t, kinds, 4, "covers every decision type")
}

func TestParseGoldenSet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"not toml", "version = "},
		{"too few", "version = \"x\"\n[[questions]]\nid = \"a\"\nquestion = \"q\"\ndifficulty = \"easy\"\nexpected = \"faq\"\n"},
		{"unknown key", "version = \"x\"\ncolour = \"blue\"\n"},
		{"no version", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGoldenSet([]byte(tt.toml))
			assert.ErrorIs(t, err, mirror.ErrValidation)
		})
	}

	gs := DefaultGoldenSet()
	gs.Questions[1].ID = gs.Questions[0].ID
	assert.ErrorIs(t, gs.Validate(), mirror.ErrValidation)

	gs = DefaultGoldenSet()
	gs.Questions[0].Expected = "maybe"
	assert.ErrorIs(t, gs.Validate(), mirror.ErrValidation)
}

func TestRun_AllExpectedDecisions(t *testing.T) {
	set := DefaultGoldenSet()
	snaps := memory.New()
	h := newHarness(t, good(), snaps, time.Second)

	report, err := h.Run(context.Background(), "acme_ro", &scriptedRouter{set: set}, set)
	require.NoError(t, err)

	s := report.Snapshot
	n := float64(len(set.Questions))
	assert.Equal(t, len(set.Questions), s.TotalQuestions)
	assert.Len(t, report.Results, len(set.Questions))
	assert.Zero(t, s.FailedQuestions)
	assert.InDelta(t, 1.0, s.DecisionMatch, 1e-9)
	assert.InDelta(t, 3/n, s.FAQCoverage, 1e-9)
	assert.InDelta(t, 6/n, s.PagesCoverage, 1e-9)
	assert.InDelta(t, 3/n, s.FallbackRate, 1e-9)
	assert.InDelta(t, 0.9, s.Groundedness, 1e-9)
	assert.InDelta(t, OverallScore(0.9, 0.9, 0.9, 3/n), s.OverallScore, 1e-9)
	assert.Equal(t, mirror.KPIExcellent, s.Status)
	assert.Equal(t, set.Version, s.GoldenSetVersion)
	assert.True(t, report.Passed())
	assert.Empty(t, report.Recommendations)

	stored, err := snaps.LatestKPISnapshot(context.Background(), "acme_ro")
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.ID)
}

func TestRun_TimeoutCountsAsFailedFallback(t *testing.T) {
	set := DefaultGoldenSet()
	router := &scriptedRouter{
		set:  set,
		hang: map[string]bool{"contact-email": true},
		fail: map[string]bool{"pricing": true},
	}
	h := newHarness(t, good(), nil, 20*time.Millisecond)

	report, err := h.Run(context.Background(), "acme_ro", router, set)
	require.NoError(t, err)

	s := report.Snapshot
	n := float64(len(set.Questions))
	assert.Equal(t, len(set.Questions), s.TotalQuestions)
	assert.Equal(t, 2, s.FailedQuestions)
	assert.InDelta(t, 5/n, s.FallbackRate, 1e-9)
	assert.InDelta(t, 0.9*(n-2)/n, s.Groundedness, 1e-9, "failed questions score 0 but stay in the denominator")

	var failed []string
	for _, r := range report.Results {
		if r.Failed {
			failed = append(failed, r.ID)
			assert.NotEmpty(t, r.Error)
			assert.Zero(t, r.Scores.Helpfulness)
		}
	}
	assert.ElementsMatch(t, []string{"contact-email", "pricing"}, failed)
	assert.GreaterOrEqual(t, s.LatencyP99, 20*time.Millisecond)
}

func TestRun_Recommendations(t *testing.T) {
	set := DefaultGoldenSet()
	override := map[string]mirror.Decision{}
	for _, q := range set.Questions[:6] {
		override[q.ID] = mirror.DecisionDontKnow
	}
	weak := fixedJudge{scores: judge.ResponseScores{Groundedness: 0.4, Helpfulness: 0.5, Accuracy: 0.5}}
	h := newHarness(t, weak, nil, time.Second)

	report, err := h.Run(context.Background(), "acme_ro", &scriptedRouter{set: set, override: override}, set)
	require.NoError(t, err)

	var issues []string
	for _, r := range report.Recommendations {
		issues = append(issues, r.Issue)
	}
	assert.ElementsMatch(t, []string{"low_groundedness", "low_helpfulness", "high_fallback_rate"}, issues)
	assert.False(t, report.Passed())
}

func TestRun_JudgeFailureIsNeutral(t *testing.T) {
	set := DefaultGoldenSet()
	h := newHarness(t, fixedJudge{err: mirror.ErrServiceUnavailable}, nil, time.Second)

	report, err := h.Run(context.Background(), "acme_ro", &scriptedRouter{set: set}, set)
	require.NoError(t, err)
	assert.InDelta(t, mirror.NeutralScore, report.Snapshot.Helpfulness, 1e-9)
	assert.Zero(t, report.Snapshot.FailedQuestions)
}

func TestRun_CanceledContext(t *testing.T) {
	set := DefaultGoldenSet()
	h, err := New(good(), nil, Config{QuestionTimeout: time.Second, QuestionDelay: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.Run(ctx, "acme_ro", &scriptedRouter{set: set}, set)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecommend_Latency(t *testing.T) {
	recs := Recommend(&mirror.KPISnapshot{LatencyAvg: 4 * time.Second, Groundedness: 1, Helpfulness: 1})
	require.Len(t, recs, 1)
	assert.Equal(t, "high_latency", recs[0].Issue)
}

func TestReport_Render(t *testing.T) {
	set := DefaultGoldenSet()
	h := newHarness(t, good(), nil, time.Second)
	report, err := h.Run(context.Background(), "acme_ro", &scriptedRouter{set: set}, set)
	require.NoError(t, err)

	text := report.RenderText()
	assert.Contains(t, text, "acme_ro")
	assert.Contains(t, text, "contact-email")
	assert.Equal(t, len(set.Questions), strings.Count(text, " expected "))

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"overall_score"`)
	assert.Contains(t, buf.String(), `"golden_set_version": "`+set.Version+`"`)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), zap.NewNop())
	assert.Error(t, err)
	_, err = New(good(), nil, Config{}, zap.NewNop())
	assert.ErrorIs(t, err, mirror.ErrValidation)
}
