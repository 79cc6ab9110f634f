// Package kpi runs a versioned golden question set through a site's router
// and scores latency, quality and coverage.
//
// Questions run one at a time behind a rate limiter. Each question has its
// own timeout; a question that times out or errors is recorded as a failed
// fallback with zero scores and the run carries on.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/mirroragent/internal/judge"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

var tracer = otel.Tracer("mirroragent.kpi")

// Router is the routing surface under test.
type Router interface {
	Route(ctx context.Context, question string) (*mirror.RoutingDecision, error)
}

// Config controls pacing.
type Config struct {
	QuestionTimeout time.Duration
	// QuestionDelay is the minimum gap between questions; 0 disables pacing.
	QuestionDelay time.Duration
}

// DefaultConfig returns a 10s timeout and a 500ms gap.
func DefaultConfig() Config {
	return Config{QuestionTimeout: 10 * time.Second, QuestionDelay: 500 * time.Millisecond}
}

// QuestionResult is the outcome of one golden question.
type QuestionResult struct {
	ID            string               `json:"id"`
	Question      string               `json:"question"`
	Difficulty    Difficulty           `json:"difficulty"`
	Expected      Expectation          `json:"expected"`
	Decision      mirror.Decision      `json:"decision,omitempty"`
	Answer        string               `json:"answer,omitempty"`
	Confidence    float64              `json:"confidence"`
	Similarity    float64              `json:"similarity"`
	Latency       time.Duration        `json:"latency"`
	Scores        judge.ResponseScores `json:"scores"`
	DecisionMatch float64              `json:"decision_match"`
	Failed        bool                 `json:"failed,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Harness scores a router against a golden set.
type Harness struct {
	judge   judge.Evaluator
	store   store.KPIStore
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a harness. snapshots may be nil to skip persistence.
func New(j judge.Evaluator, snapshots store.KPIStore, cfg Config, logger *zap.Logger) (*Harness, error) {
	if j == nil {
		return nil, errors.New("judge is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.QuestionTimeout <= 0 {
		return nil, mirror.NewValidationError("kpi question_timeout", "must be > 0")
	}
	if cfg.QuestionDelay < 0 {
		return nil, mirror.NewValidationError("kpi question_delay", "must be >= 0")
	}
	limit := rate.Inf
	if cfg.QuestionDelay > 0 {
		limit = rate.Every(cfg.QuestionDelay)
	}
	return &Harness{
		judge:   j,
		store:   snapshots,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run asks every golden question in order and returns the scored report.
// It only fails on an invalid set or a canceled ctx; individual question
// failures are part of the report.
func (h *Harness) Run(ctx context.Context, siteID string, router Router, set *GoldenSet) (*Report, error) {
	if err := mirror.ValidateSiteID(siteID); err != nil {
		return nil, err
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if set == nil {
		set = DefaultGoldenSet()
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Harness.Run")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", siteID), attribute.String("golden_set", set.Version))
	logger := h.logger.With(zap.String("site_id", siteID), zap.String("golden_set", set.Version))
	logger.Info("kpi run started", zap.Int("questions", len(set.Questions)))

	started := h.now()
	results := make([]QuestionResult, 0, len(set.Questions))
	for _, q := range set.Questions {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("kpi run interrupted: %w", err)
		}
		r := h.ask(ctx, router, q)
		if r.Failed {
			logger.Warn("golden question failed", zap.String("question_id", q.ID), zap.String("error", r.Error))
		}
		results = append(results, r)
	}

	snap := aggregate(siteID, set.Version, results)
	snap.ID = uuid.NewString()
	snap.CreatedAt = h.now().UTC()
	report := &Report{
		Snapshot:        snap,
		Results:         results,
		Recommendations: Recommend(snap),
		Duration:        h.now().Sub(started),
	}
	overallScore.WithLabelValues(siteID).Set(snap.OverallScore)
	runsTotal.WithLabelValues(string(snap.Status)).Inc()

	if h.store != nil {
		if err := h.store.PutKPISnapshot(ctx, snap); err != nil {
			logger.Warn("failed to persist kpi snapshot", zap.Error(err))
		}
	}
	logger.Info("kpi run completed",
		zap.Float64("overall_score", snap.OverallScore),
		zap.String("status", string(snap.Status)),
		zap.Int("failed", snap.FailedQuestions),
		zap.Duration("latency_avg", snap.LatencyAvg),
	)
	return report, nil
}

// ask routes and judges one question under its own timeout.
func (h *Harness) ask(ctx context.Context, router Router, q GoldenQuestion) QuestionResult {
	res := QuestionResult{
		ID:         q.ID,
		Question:   q.Question,
		Difficulty: q.Difficulty,
		Expected:   q.Expected,
	}
	qctx, cancel := context.WithTimeout(ctx, h.cfg.QuestionTimeout)
	defer cancel()

	start := h.now()
	d, err := routeWithDeadline(qctx, router, q.Question)
	res.Latency = h.now().Sub(start)
	if err != nil {
		res.Failed = true
		res.Error = err.Error()
		return res
	}

	res.Decision = d.Decision
	res.Answer = d.Answer
	res.Confidence = d.Confidence
	res.Similarity = d.SimilarityScore
	res.DecisionMatch = DecisionMatch(q.Expected, d.Decision)

	sources := make([]string, 0, len(d.Sources))
	for _, s := range d.Sources {
		sources = append(sources, s.Text)
	}
	scores, err := h.judge.EvaluateResponse(qctx, judge.ResponseRequest{
		Question:       q.Question,
		Answer:         d.Answer,
		Sources:        sources,
		ExpectedAnswer: q.ExpectedAnswer,
		Decision:       d.Decision,
	})
	if err != nil {
		h.logger.Debug("judge degraded to neutral scores", zap.String("question_id", q.ID), zap.Error(err))
	}
	res.Scores = scores
	return res
}

// routeWithDeadline enforces ctx's deadline even on a router that ignores it.
func routeWithDeadline(ctx context.Context, router Router, question string) (*mirror.RoutingDecision, error) {
	type result struct {
		d   *mirror.RoutingDecision
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := router.Route(ctx, question)
		ch <- result{d, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && r.d == nil {
			return nil, errors.New("router returned no decision")
		}
		return r.d, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("question timed out: %w", ctx.Err())
	}
}
