package gateway

import (
	"math"

	"github.com/shopspring/decimal"
)

// ScaleAmount converts a human-readable token amount to base units
// (e.g. 1.5 SOL with 9 decimals -> 1_500_000_000 lamports).
//
// The conversion is exact: amounts with more fractional digits than the
// token supports are rejected rather than silently rounded, and results
// that overflow int64 are rejected. No float arithmetic is involved.
func ScaleAmount(amount decimal.Decimal, decimals uint8) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, Errorf(KindInvalidInput, "amount must be positive, got %s", amount)
	}

	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, Errorf(KindInvalidInput, "amount %s has more than %d decimal places", amount, decimals)
	}
	if scaled.Cmp(decimal.NewFromInt(math.MaxInt64)) > 0 {
		return 0, Errorf(KindInvalidInput, "amount %s overflows at %d decimals", amount, decimals)
	}

	return scaled.IntPart(), nil
}

// DescaleAmount converts base units back to a human-readable amount.
func DescaleAmount(baseUnits int64, decimals uint8) decimal.Decimal {
	return decimal.NewFromInt(baseUnits).Shift(-int32(decimals))
}

// ParseAmount parses a decimal string from an API request. An empty or
// malformed string is an InvalidInput error.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, NewError(KindInvalidInput, "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, WrapError(KindInvalidInput, "amount must be a decimal number", err)
	}
	return d, nil
}

// withinSlippage reports whether payment falls inside the inclusive band
// [expected - expected*tolBps/10000, expected + expected*tolBps/10000].
func withinSlippage(payment, expected decimal.Decimal, tolBps int64) bool {
	tol := expected.Mul(decimal.NewFromInt(tolBps)).Div(decimal.NewFromInt(10_000))
	diff := payment.Sub(expected).Abs()
	return diff.Cmp(tol) <= 0
}
