// Package ratelimit implements a redis-backed fixed-window rate limiter
// keyed by client IP. All gateway instances share the same counters, so
// limits hold across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 10
	// DefaultWindow is the fixed window length.
	DefaultWindow = time.Minute

	keyPrefix = "ratelimit:"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed windows backed by redis.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// NewLimiter creates a fixed-window limiter. A limit or window of zero
// falls back to the defaults.
func NewLimiter(rdb *redis.Client, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow records a request for the given key and reports whether it is
// within the current window's budget. The first request in a window
// starts the window clock.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	redisKey := keyPrefix + key

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return nil, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	ttl, err := l.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if ttl < 0 {
		// Counter lost its expiry (e.g. INCR raced a flush). Re-arm it so
		// the key cannot linger forever.
		if err := l.rdb.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			return nil, fmt.Errorf("failed to re-arm rate limit window: %w", err)
		}
		ttl = l.window
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}

// Reset clears the counter for a key. Used by tests and admin tooling.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, keyPrefix+key).Err()
}
