package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
	"github.com/fyrsmithlabs/mirroragent/internal/vectorstore"
)

var (
	ErrEmptyInput      = errors.New("empty or nil input texts")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an Embedder with a known output size.
type Provider interface {
	vectorstore.Embedder
	Dimension() int
	Close() error
}

// NewProvider builds the configured provider.
func NewProvider(cfg config.EmbeddingsConfig, metrics *Metrics) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir}, metrics)
	case "tei":
		return NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Dimension: cfg.Dimension}, metrics)
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		}, metrics)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func resolveDimension(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	d, _ := DimensionForModel(model)
	return d
}
