package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/handler"
)

// RateLimiter defines the interface for rate limiting.
type RateLimiter interface {
	// Allow checks if a request is allowed under the rate limit.
	// Returns (allowed, remaining, resetSeconds, error)
	Allow(ctx context.Context, key string, limit int) (bool, int, int, error)
}

// serverIDHeader carries the ingest client's server identity, used as
// the rate limit partition key.
const serverIDHeader = "X-Server-Id"

// RateLimit returns middleware that enforces a per-serverId burst
// limit on the ingest endpoint.
func RateLimit(limiter RateLimiter, limit int, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serverID := r.Header.Get(serverIDHeader)
			if serverID == "" {
				serverID = r.RemoteAddr
			}
			key := fmt.Sprintf("ingest:%s", serverID)

			allowed, remaining, resetSeconds, err := limiter.Allow(r.Context(), key, limit)
			if err != nil {
				logger.Error().Err(err).Str("rate_limit_key", key).Msg("rate limiter error")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

			if !allowed {
				logger.Warn().
					Str("rate_limit_key", key).
					Int("limit", limit).
					Msg("rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(resetSeconds))
				handler.WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					fmt.Sprintf("rate limit exceeded, try again in %d seconds", resetSeconds))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
