package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// REDIS LOCKER - Cross-process lock on a shared Redis
// =============================================================================

// RedisConfig configures the Redis connection and lock behaviour.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed holder blocks others.
	TTL time.Duration
	// RetryInterval and MaxRetries control waiting for a held lock.
	RetryInterval time.Duration
	MaxRetries    int
	KeyPrefix     string
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 50
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "lock:"
	}
	return c
}

type Redis struct {
	client *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewRedis builds a locker on an existing client.
func NewRedis(rdb redislock.RedisClient, cfg RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: redislock.New(rdb),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Lock obtains key, retrying at RetryInterval up to MaxRetries times.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := r.cfg.KeyPrefix + key
	lock, err := r.client.Obtain(ctx, lockKey, r.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.cfg.RetryInterval), r.cfg.MaxRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, lockKey)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", lockKey, err)
	}

	return func() {
		// The caller's ctx may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("failed to release redis lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}
