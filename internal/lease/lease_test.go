package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocal_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, err := l.Acquire(ctx, CuratorKey("acme_ro"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "mirror:curator:acme_ro", first.Key())

	_, err = l.Acquire(ctx, CuratorKey("acme_ro"), time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, CuratorKey("beta_ro"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	assert.ErrorIs(t, first.Release(ctx), ErrNotHeld)

	again, err := l.Acquire(ctx, CuratorKey("acme_ro"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocal_Expiry(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.NoError(t, fresh.Release(ctx))
}

func TestRedis_Lease(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	l, err := NewRedis(ctx, RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()

	first, err := l.Acquire(ctx, CuratorKey("acme_ro"), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(CuratorKey("acme_ro")))

	_, err = l.Acquire(ctx, CuratorKey("acme_ro"), time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(CuratorKey("acme_ro")))
	assert.ErrorIs(t, first.Release(ctx), ErrNotHeld)
}

func TestRedis_ExpiredLeaseCannotReleaseNewOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	l, err := NewRedis(ctx, RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.True(t, mr.Exists("k"))
	require.NoError(t, fresh.Release(ctx))
}

func TestNewRedis_Validation(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewRedis(context.Background(), RedisConfig{Addr: "x"}, nil)
	assert.Error(t, err)
}
