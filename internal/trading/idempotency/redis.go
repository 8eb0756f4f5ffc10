package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures RedisFilter.
type RedisConfig struct {
	Prefix    string
	TTL       time.Duration // 0 keeps keys forever
	OpTimeout time.Duration
}

// RedisFilter shares admitted keys between processes through SETNX.
//
// It fails closed: if Redis cannot answer, Admit refuses the key with
// ErrUnavailable so a key is never admitted twice.
type RedisFilter struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisFilter wraps an existing client.
func NewRedisFilter(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisFilter {
	if cfg.Prefix == "" {
		cfg.Prefix = "matchd:idem:"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	return &RedisFilter{client: client, cfg: cfg, logger: logger.Named("idempotency.redis")}
}

func (f *RedisFilter) key(k string) string { return f.cfg.Prefix + k }

// Admit implements Filter.
func (f *RedisFilter) Admit(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.OpTimeout)
	defer cancel()

	ok, err := f.client.SetNX(ctx, f.key(key), time.Now().UnixNano(), f.cfg.TTL).Result()
	if err != nil {
		f.logger.Error("failed to admit idempotency key", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Release implements Filter.
func (f *RedisFilter) Release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.OpTimeout)
	defer cancel()

	if err := f.client.Del(ctx, f.key(key)).Err(); err != nil {
		f.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// Close closes the underlying client.
func (f *RedisFilter) Close() error {
	return f.client.Close()
}
