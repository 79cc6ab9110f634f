package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// OpenAIProvider embeds through langchaingo's OpenAI client.
type OpenAIProvider struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAIProvider creates the client. Local servers that ignore auth
// still need a non-empty token for the client to build.
func NewOpenAIProvider(cfg OpenAIConfig, metrics *Metrics) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(64))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIProvider{
		embedder:  emb,
		model:     cfg.Model,
		dimension: resolveDimension(cfg.Model, cfg.Dimension),
		metrics:   metrics,
	}, nil
}

// EmbedDocuments embeds texts in batches of 64.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) (out [][]float32, err error) {
	defer func(start time.Time) {
		p.metrics.RecordGeneration(ctx, p.model, "embed_documents", time.Since(start), len(texts), err)
	}(time.Now())
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out, err = p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, mirror.Unavailable("openai-embeddings", err)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) (out []float32, err error) {
	defer func(start time.Time) {
		p.metrics.RecordGeneration(ctx, p.model, "embed_query", time.Since(start), 1, err)
	}(time.Now())
	if text == "" {
		return nil, ErrEmptyInput
	}
	out, err = p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, mirror.Unavailable("openai-embeddings", err)
	}
	return out, nil
}

// Dimension returns the configured or inferred output size.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *OpenAIProvider) Close() error { return nil }
