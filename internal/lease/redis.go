package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig addresses the redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLocker shares leases across processes through SET NX PX.
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisLocker, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return nil, mirror.NewValidationError("lease.redis_addr", "required for redis")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, mirror.Unavailable("redis", fmt.Errorf("failed to connect to redis: %w", err))
	}
	logger.Info("redis lease client initialized", zap.String("addr", cfg.Addr))
	return &RedisLocker{client: client, logger: logger}, nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, mirror.Unavailable("redis", fmt.Errorf("acquire %s: %w", key, err))
	}
	if !ok {
		return nil, ErrHeld
	}
	r.logger.Debug("lease acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	return &redisLease{client: r.client, key: key, token: token}, nil
}

func (r *RedisLocker) Close() error {
	return r.client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return mirror.Unavailable("redis", fmt.Errorf("release %s: %w", l.key, err))
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
