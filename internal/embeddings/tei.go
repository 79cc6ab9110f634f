package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// TEIConfig configures a Text Embeddings Inference client.
type TEIConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// TEIProvider calls TEI's native /embed route.
type TEIProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	metrics   *Metrics
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// NewTEIProvider creates a TEI client. No request is made until first use.
func NewTEIProvider(cfg TEIConfig, metrics *Metrics) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: tei base_url is required", ErrInvalidConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TEIProvider{
		baseURL:   strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1"),
		model:     cfg.Model,
		dimension: resolveDimension(cfg.Model, cfg.Dimension),
		client:    &http.Client{Timeout: cfg.Timeout},
		metrics:   metrics,
	}, nil
}

// EmbedDocuments embeds texts in one request.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) (out [][]float32, err error) {
	defer func(start time.Time) {
		p.metrics.RecordGeneration(ctx, p.model, "embed_documents", time.Since(start), len(texts), err)
	}(time.Now())
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	return p.embed(ctx, texts, len(texts))
}

// EmbedQuery embeds a single text.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) (out []float32, err error) {
	defer func(start time.Time) {
		p.metrics.RecordGeneration(ctx, p.model, "embed_query", time.Since(start), 1, err)
	}(time.Now())
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := p.embed(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *TEIProvider) embed(ctx context.Context, inputs any, want int) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, mirror.Unavailable("tei", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, mirror.Unavailable("tei", err)
		}
		return nil, err
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) != want {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), want)
	}
	return vectors, nil
}

// Dimension returns the configured or inferred output size.
func (p *TEIProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *TEIProvider) Close() error { return nil }
