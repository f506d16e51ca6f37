package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sol "github.com/milton-labs/paygate/service/solana"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMintReader struct {
	mints map[string]*sol.MintInfo
	err   error
}

func (f *fakeMintReader) GetMintInfo(ctx context.Context, mint solana.PublicKey) (*sol.MintInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.mints[mint.String()]
	if !ok {
		return nil, errors.New("mint not found")
	}
	return info, nil
}

func TestChainSourceInfo(t *testing.T) {
	reg := newTestRegistry(t)
	mints := &fakeMintReader{mints: map[string]*sol.MintInfo{
		testMiltonMint: {Supply: 1_000_000_000_000, Decimals: 9},
		testUSDCMint:   {Supply: 50_000_000_000_000, Decimals: 6},
	}}

	t.Run("native SOL", func(t *testing.T) {
		prices := &staticPriceSource{price: decimal.RequireFromString("142.37")}
		src := NewChainSource(reg, mints, prices, testLogger())

		info, err := src.Info(context.Background(), "SOL")
		require.NoError(t, err)
		assert.Equal(t, "SOL", info.ID)
		assert.Empty(t, info.Mint)
		assert.Equal(t, uint8(9), info.Decimals)
		assert.True(t, info.PriceUSD.Equal(decimal.RequireFromString("142.37")))
	})

	t.Run("SPL token", func(t *testing.T) {
		prices := &staticPriceSource{price: decimal.RequireFromString("1.0")}
		src := NewChainSource(reg, mints, prices, testLogger())

		info, err := src.Info(context.Background(), "USDC")
		require.NoError(t, err)
		assert.Equal(t, testUSDCMint, info.Mint)
		assert.Equal(t, uint8(6), info.Decimals)
		assert.Equal(t, uint64(50_000_000_000_000), info.Supply)
	})

	t.Run("price failure leaves zero price", func(t *testing.T) {
		prices := &staticPriceSource{err: errors.New("feed down")}
		src := NewChainSource(reg, mints, prices, testLogger())

		info, err := src.Info(context.Background(), "SOL")
		require.NoError(t, err)
		assert.True(t, info.PriceUSD.IsZero())
	})

	t.Run("unknown mint symbol skips price lookup", func(t *testing.T) {
		other := "So11111111111111111111111111111111111111112"
		mints := &fakeMintReader{mints: map[string]*sol.MintInfo{
			other: {Supply: 1, Decimals: 9},
		}}
		prices := &staticPriceSource{err: errors.New("should not be called")}
		src := NewChainSource(reg, mints, prices, testLogger())

		info, err := src.Info(context.Background(), other)
		require.NoError(t, err)
		assert.True(t, info.PriceUSD.IsZero())
	})

	t.Run("mint read failure", func(t *testing.T) {
		broken := &fakeMintReader{err: errors.New("rpc down")}
		src := NewChainSource(reg, broken, &staticPriceSource{}, testLogger())

		_, err := src.Info(context.Background(), "MILTON")
		assert.Error(t, err)
	})

	t.Run("unknown token id", func(t *testing.T) {
		src := NewChainSource(reg, mints, &staticPriceSource{}, testLogger())
		_, err := src.Info(context.Background(), "???")
		assert.ErrorIs(t, err, ErrUnknownToken)
	})
}
