package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}
}

func TestWithRetry_RecoversFromTransient(t *testing.T) {
	calls := 0
	v, err := withRetry(context.Background(), fastRetry(), "test", "op", nil, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, status.Error(codes.Unavailable, "down")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentFailsFast(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), fastRetry(), "test", "op", nil, func() (int, error) {
		calls++
		return 0, status.Error(codes.InvalidArgument, "bad")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, mirror.ErrServiceUnavailable))
}

func TestWithRetry_ExhaustedIsUnavailable(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), fastRetry(), "qdrant", "op", nil, func() (int, error) {
		calls++
		return 0, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, mirror.ErrServiceUnavailable)
}
