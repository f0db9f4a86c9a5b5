// Package database provides connection management for the ancillary
// Redis store used for ingest rate limiting and the top-N query
// cache — distinct from the internal/storage package, which owns the
// telemetry fact tables themselves.
package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// Redis wraps the Redis client.
type Redis struct {
	Client *redis.Client
	logger zerolog.Logger
	cfg    RedisConfig
}

// NewRedis creates a new Redis connection.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	logger.Info().
		Str("url", maskRedisURL(cfg.URL)).
		Int("pool_size", cfg.PoolSize).
		Msg("connecting to Redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info().Msg("Redis connected successfully")

	return &Redis{Client: client, logger: logger, cfg: cfg}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.Client != nil {
		r.logger.Info().Msg("closing Redis connection")
		return r.Client.Close()
	}
	return nil
}

// Health checks if Redis is healthy.
func (r *Redis) Health() bool {
	if r.Client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Client.Ping(ctx).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Redis health check failed")
		return false
	}
	return true
}

// Get retrieves a value by key.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	return r.Client.Get(ctx, key).Result()
}

// Set sets a value with optional expiration.
func (r *Redis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client.Set(ctx, key, value, expiration).Err()
}

// Del deletes one or more keys.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

// Incr increments a key's value.
func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.Client.Incr(ctx, key).Result()
}

// Expire sets a key's expiration.
func (r *Redis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.Client.Expire(ctx, key, expiration).Err()
}

// TTL returns the remaining time to live of a key.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.Client.TTL(ctx, key).Result()
}

// maskRedisURL masks sensitive information in the Redis URL for logging.
func maskRedisURL(url string) string {
	if len(url) > 20 {
		return url[:15] + "..."
	}
	return "redis://***"
}
