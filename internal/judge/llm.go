package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// LLMConfig configures an OpenAI-compatible judge.
type LLMConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Timeout   time.Duration // per call, default 30s
	RateLimit float64       // calls per second, default 2
}

// LLMJudge asks a chat model for JSON scores.
type LLMJudge struct {
	model   llms.Model
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMJudge builds a judge on langchaingo's OpenAI client.
func NewLLMJudge(cfg LLMConfig, logger *zap.Logger) (*LLMJudge, error) {
	if cfg.Model == "" {
		return nil, mirror.NewValidationError("judge.model", "required")
	}
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating judge client: %w", err)
	}
	return NewLLMJudgeWithModel(model, cfg, logger), nil
}

// NewLLMJudgeWithModel wraps an existing model.
func NewLLMJudgeWithModel(model llms.Model, cfg LLMConfig, logger *zap.Logger) *LLMJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	return &LLMJudge{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (j *LLMJudge) complete(ctx context.Context, prompt string) (string, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("judge rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	reply, err := llms.GenerateFromSinglePrompt(ctx, j.model, prompt,
		llms.WithTemperature(0),
		llms.WithMaxTokens(256),
	)
	if err != nil {
		return "", mirror.Unavailable("judge", err)
	}
	return reply, nil
}

// EvaluateCandidate scores a FAQ candidate on five dimensions.
func (j *LLMJudge) EvaluateCandidate(ctx context.Context, req CandidateRequest) (mirror.EvaluationScores, error) {
	reply, err := j.complete(ctx, buildCandidatePrompt(req))
	if err != nil {
		j.logger.Warn("judge unavailable, using neutral scores", zap.Error(err))
		return mirror.NeutralEvaluation(), err
	}
	scores, err := ParseCandidateScores(reply)
	if err != nil {
		j.logger.Warn("judge reply unparseable, using neutral scores",
			zap.String("reply", truncate(reply, 200)), zap.Error(err))
	}
	return scores, err
}

// EvaluateResponse scores a routed reply for the KPI harness.
func (j *LLMJudge) EvaluateResponse(ctx context.Context, req ResponseRequest) (ResponseScores, error) {
	reply, err := j.complete(ctx, buildResponsePrompt(req))
	if err != nil {
		j.logger.Warn("judge unavailable, using neutral scores", zap.Error(err))
		return NeutralResponse(), err
	}
	scores, err := ParseResponseScores(reply)
	if err != nil && errors.Is(err, mirror.ErrJudgeParsing) {
		j.logger.Warn("judge reply unparseable, using neutral scores",
			zap.String("reply", truncate(reply, 200)), zap.Error(err))
	}
	return scores, err
}
