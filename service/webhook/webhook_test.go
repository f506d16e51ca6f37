package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

func TestRegistry(t *testing.T) {
	rdb := newTestRedis(t)
	reg := NewRegistry(rdb)
	ctx := context.Background()
	wallet := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	t.Run("register and lookup", func(t *testing.T) {
		require.NoError(t, reg.Register(ctx, wallet, "https://example.com/hooks/pay"))

		got, err := reg.Lookup(ctx, wallet)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/hooks/pay", got)

		ttl, err := rdb.TTL(ctx, "webhook:"+wallet).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 29*24*time.Hour)
	})

	t.Run("unregistered wallet", func(t *testing.T) {
		_, err := reg.Lookup(ctx, "missing-wallet")
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("rejects bad URLs", func(t *testing.T) {
		assert.Error(t, reg.Register(ctx, wallet, "ftp://example.com/x"))
		assert.Error(t, reg.Register(ctx, wallet, "not a url at all\x00"))
		assert.Error(t, reg.Register(ctx, wallet, "https://"))
	})

	t.Run("unregister", func(t *testing.T) {
		require.NoError(t, reg.Register(ctx, wallet, "https://example.com/hooks/pay"))
		require.NoError(t, reg.Unregister(ctx, wallet))
		_, err := reg.Lookup(ctx, wallet)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})
}

func testTransaction(sig string) *db.PendingTransaction {
	now := time.Now().UTC()
	return &db.PendingTransaction{
		ID:          "tx:3b1f9b5e-5c0a-4f3e-9d2b-123456789abc",
		Sender:      "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Recipient:   "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy",
		TokenID:     "SOL",
		Amount:      1_500_000_000,
		HumanAmount: "1.5",
		Status:      db.StatusCompleted,
		Signature:   &sig,
		CompletedAt: &now,
	}
}

func TestNotifierDeliver(t *testing.T) {
	rdb := newTestRedis(t)
	reg := NewRegistry(rdb)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	secret := "test-secret"
	ctx := context.Background()

	t.Run("delivers signed payload", func(t *testing.T) {
		var gotBody []byte
		var gotSig string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotSig = r.Header.Get("X-Paygate-Signature")
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		}))
		defer srv.Close()

		txn := testTransaction("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
		require.NoError(t, reg.Register(ctx, txn.Sender, srv.URL))

		n := NewNotifier(reg, secret, testLogger(), m)
		require.NoError(t, n.deliver(ctx, txn))

		var payload Notification
		require.NoError(t, json.Unmarshal(gotBody, &payload))
		assert.Equal(t, txn.ID, payload.TransactionID)
		assert.Equal(t, db.StatusCompleted, payload.Status)
		assert.Equal(t, *txn.Signature, payload.Signature)
		assert.Equal(t, txn.Amount, payload.Amount)

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(gotBody)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
	})

	t.Run("unregistered wallet", func(t *testing.T) {
		txn := testTransaction("sig")
		txn.Sender = "unregistered-wallet"

		n := NewNotifier(reg, secret, testLogger(), m)
		err := n.deliver(ctx, txn)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("non-2xx response is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		txn := testTransaction("sig")
		require.NoError(t, reg.Register(ctx, txn.Sender, srv.URL))

		n := NewNotifier(reg, secret, testLogger(), m)
		assert.Error(t, n.deliver(ctx, txn))
	})
}
