package token

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/milton-labs/paygate/service/metrics"
)

const tokenInfoKeyPrefix = "token_info:"

// CachedSource is a read-through Redis cache in front of another Source.
// Mint metadata and prices change slowly relative to request volume, so a
// short TTL removes most RPC and price API traffic.
type CachedSource struct {
	inner   Source
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCachedSource wraps a Source with a Redis cache using the given TTL.
func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
}

// Info returns cached metadata when present, otherwise queries the inner
// source and populates the cache. Cache errors degrade to uncached lookups
// rather than failing the request.
func (s *CachedSource) Info(ctx context.Context, id string) (*Info, error) {
	key := tokenInfoKeyPrefix + id

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var info Info
		if jsonErr := json.Unmarshal([]byte(raw), &info); jsonErr == nil {
			s.metrics.RecordTokenInfoLookup(id, "cache")
			return &info, nil
		}
		// Unreadable entry, fall through and rewrite it.
		s.logger.Warn("discarding corrupt token info cache entry", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("token info cache read failed", "key", key, "error", err)
	}

	info, err := s.inner.Info(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenInfoLookup(id, "source")

	if payload, jsonErr := json.Marshal(info); jsonErr == nil {
		if setErr := s.rdb.Set(ctx, key, payload, s.ttl).Err(); setErr != nil {
			s.logger.Warn("token info cache write failed", "key", key, "error", setErr)
		}
	}

	return info, nil
}
