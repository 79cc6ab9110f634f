package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
)

// NewFromConfig builds the configured backend.
func NewFromConfig(ctx context.Context, cfg config.VectorStoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case BackendQdrant:
		retry := DefaultRetryConfig()
		if cfg.RetryMax > 0 {
			retry.MaxTries = uint(cfg.RetryMax)
		}
		if cfg.Timeout.Duration() > 0 {
			retry.MaxElapsed = cfg.Timeout.Duration()
		}
		return NewQdrantStore(ctx, QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey.Value(),
			UseTLS: cfg.QdrantTLS,
			Retry:  retry,
		}, embedder, logger)
	case BackendChromem, "":
		return NewChromemStore(ChromemConfig{Path: cfg.ChromemPath, Compress: true}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
