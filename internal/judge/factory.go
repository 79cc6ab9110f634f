package judge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
)

// NewFromConfig builds the configured evaluator.
func NewFromConfig(cfg config.JudgeConfig, logger *zap.Logger) (Evaluator, error) {
	switch cfg.Provider {
	case "heuristic", "":
		return NewHeuristicJudge(), nil
	case "openai":
		return NewLLMJudge(LLMConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Timeout:   cfg.Timeout.Duration(),
			RateLimit: cfg.RateLimit,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Provider)
	}
}
