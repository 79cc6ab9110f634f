package vectorstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryConfig returns three tries starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxElapsed: 30 * time.Second}
}

// withRetry runs fn until it succeeds, fails permanently or the budget
// runs out. Exhausted transient failures are reported as unavailable.
func withRetry[T any](ctx context.Context, rc RetryConfig, backend, op string, logger *zap.Logger, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		b.InitialInterval = rc.InitialInterval
	}
	tries := rc.MaxTries
	if tries == 0 {
		tries = 1
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && !mirror.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(rc.MaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			RetriesTotal.WithLabelValues(backend, op).Inc()
			if logger != nil {
				logger.Warn("vector store call failed, retrying",
					zap.String("backend", backend),
					zap.String("op", op),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", d),
					zap.Error(err))
			}
		}),
	)
	if err != nil && mirror.IsTransient(err) {
		return res, mirror.Unavailable(backend, err)
	}
	return res, err
}
