package token

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milton-labs/paygate/service/metrics"
	sol "github.com/milton-labs/paygate/service/solana"
)

// newTestRedis connects to the test Redis instance, or skips the test when
// none is reachable. Uses DB 15 to stay clear of development data.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Skipping redis test: cannot connect to %s: %v", addr, err)
	}

	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rdb
}

type countingSource struct {
	inner Source
	calls int
}

func (c *countingSource) Info(ctx context.Context, id string) (*Info, error) {
	c.calls++
	return c.inner.Info(ctx, id)
}

func TestCachedSource(t *testing.T) {
	rdb := newTestRedis(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	reg := newTestRegistry(t)
	mints := &fakeMintReader{mints: map[string]*sol.MintInfo{
		testMiltonMint: {Supply: 1_000_000_000_000, Decimals: 9},
		testUSDCMint:   {Supply: 50_000_000_000_000, Decimals: 6},
	}}

	chain := NewChainSource(reg, mints, &staticPriceSource{}, testLogger())
	counting := &countingSource{inner: chain}
	cached := NewCachedSource(counting, rdb, 5*time.Minute, testLogger(), m)

	ctx := context.Background()

	t.Run("read through and hit", func(t *testing.T) {
		first, err := cached.Info(ctx, "USDC")
		require.NoError(t, err)
		assert.Equal(t, 1, counting.calls)

		second, err := cached.Info(ctx, "USDC")
		require.NoError(t, err)
		assert.Equal(t, 1, counting.calls, "second lookup should be served from cache")
		assert.Equal(t, first.Decimals, second.Decimals)
		assert.Equal(t, first.Supply, second.Supply)

		ttl, err := rdb.TTL(ctx, "token_info:USDC").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 4*time.Minute)
	})

	t.Run("corrupt entry is rewritten", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, "token_info:SOL", "{not json", time.Minute).Err())

		info, err := cached.Info(ctx, "SOL")
		require.NoError(t, err)
		assert.Equal(t, uint8(9), info.Decimals)

		raw, err := rdb.Get(ctx, "token_info:SOL").Result()
		require.NoError(t, err)
		assert.Contains(t, raw, `"decimals":9`)
	})

	t.Run("unknown token is not cached", func(t *testing.T) {
		_, err := cached.Info(ctx, "nope")
		require.Error(t, err)

		exists, err := rdb.Exists(ctx, "token_info:nope").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})
}
