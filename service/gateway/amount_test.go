package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleAmount(t *testing.T) {
	t.Run("exact conversion", func(t *testing.T) {
		got, err := ScaleAmount(decimal.RequireFromString("1.5"), 9)
		require.NoError(t, err)
		assert.Equal(t, int64(1_500_000_000), got)

		got, err = ScaleAmount(decimal.RequireFromString("0.000001"), 6)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("zero decimals", func(t *testing.T) {
		got, err := ScaleAmount(decimal.RequireFromString("42"), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)
	})

	t.Run("excess precision rejected", func(t *testing.T) {
		_, err := ScaleAmount(decimal.RequireFromString("0.0000001"), 6)
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})

	t.Run("non-positive rejected", func(t *testing.T) {
		for _, s := range []string{"0", "-1"} {
			_, err := ScaleAmount(decimal.RequireFromString(s), 9)
			require.Error(t, err, s)
		}
	})

	t.Run("overflow rejected", func(t *testing.T) {
		_, err := ScaleAmount(decimal.RequireFromString("10000000000"), 9)
		assert.NoError(t, err)

		_, err = ScaleAmount(decimal.RequireFromString("10000000000000000000"), 9)
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})
}

func TestDescaleAmount(t *testing.T) {
	assert.True(t, DescaleAmount(1_500_000_000, 9).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, DescaleAmount(25_000_000, 6).Equal(decimal.RequireFromString("25")))
}

func TestWithinSlippage(t *testing.T) {
	expected := decimal.RequireFromString("1")

	// 100 bps around 1.0 is the inclusive band [0.99, 1.01].
	assert.True(t, withinSlippage(decimal.RequireFromString("1"), expected, 100))
	assert.True(t, withinSlippage(decimal.RequireFromString("1.01"), expected, 100))
	assert.True(t, withinSlippage(decimal.RequireFromString("0.99"), expected, 100))
	assert.False(t, withinSlippage(decimal.RequireFromString("1.011"), expected, 100))
	assert.False(t, withinSlippage(decimal.RequireFromString("0.989"), expected, 100))

	// Zero tolerance requires an exact match.
	assert.True(t, withinSlippage(expected, expected, 0))
	assert.False(t, withinSlippage(decimal.RequireFromString("1.000000001"), expected, 0))
}
