// Package cache provides a short-TTL read-through cache for top-N
// dashboard queries, backed by Redis. It is never authoritative: a
// cache miss or Redis outage always falls through to the Query
// Engine.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/database"
	"github.com/telemetryhub/ingestd/internal/domain"
)

// ttl bounds how stale a top-N result may be before the next request
// recomputes it.
const ttl = 30 * time.Second

// TopNCache wraps Redis for the top-users/top-teams query shapes.
type TopNCache struct {
	redis  *database.Redis
	logger zerolog.Logger
}

// New creates a TopNCache. redis may be nil, in which case the cache
// is a permanent pass-through (every Get is a miss).
func New(redis *database.Redis, logger zerolog.Logger) *TopNCache {
	return &TopNCache{redis: redis, logger: logger}
}

// Key formats the cache key for one (kind, days, limit) query shape.
func Key(kind string, days, limit int) string {
	return fmt.Sprintf("topn:%s:%d:%d", kind, days, limit)
}

// Get returns the cached result for key, if present and unexpired.
func (c *TopNCache) Get(ctx context.Context, key string) ([]domain.EventStats, bool) {
	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var out []domain.EventStats
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt top-N cache entry")
		return nil, false
	}
	return out, true
}

// Set stores result under key with the fixed TTL. Failures are
// logged, never propagated — the cache is always best-effort.
func (c *TopNCache) Set(ctx context.Context, key string, result []domain.EventStats) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to populate top-N cache")
	}
}
