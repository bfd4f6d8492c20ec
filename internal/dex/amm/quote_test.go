// internal/dex/amm/quote_test.go
package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteMonotonicAndBounded(t *testing.T) {
	const (
		inReserve  = 50_000_000_000
		outReserve = 2_000_000_000_000
	)

	var prev uint64
	for _, amountIn := range []uint64{1, 1_000, 1_000_000, 1_000_000_000, 50_000_000_000, 500_000_000_000} {
		out, err := Quote(amountIn, inReserve, outReserve)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out, prev, "amountIn=%d", amountIn)
		assert.Less(t, out, uint64(outReserve), "amountIn=%d", amountIn)
		prev = out
	}
}

func TestQuoteKnownValue(t *testing.T) {
	// out = floor(1000 - 1000*1000/(1000+500)) = floor(1000 - 666.67) = 334
	out, err := Quote(500, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(334), out)
}

func TestQuoteZeroAmount(t *testing.T) {
	out, err := Quote(0, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), out)
}

func TestQuoteZeroReserves(t *testing.T) {
	_, err := Quote(100, 0, 1000)
	assert.ErrorIs(t, err, ErrZeroReserves)
	_, err = Quote(100, 1000, 0)
	assert.ErrorIs(t, err, ErrZeroReserves)
}

func TestQuoteLargeReservesNoOverflow(t *testing.T) {
	// u64-scale reserves would overflow naive u64 multiplication.
	out, err := Quote(1<<60, 1<<62, 1<<62)
	require.NoError(t, err)
	assert.Greater(t, out, uint64(0))
	assert.Less(t, out, uint64(1)<<62)
}

func TestEstimatePrice(t *testing.T) {
	// 1M tokens (6 decimals) against 100 SOL (9 decimals): 0.0001 SOL/token.
	price, err := EstimatePrice(1_000_000_000_000, 100_000_000_000, 6, 9)
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, price, 1e-9)
}

func TestEstimatePriceZeroReserves(t *testing.T) {
	_, err := EstimatePrice(0, 100, 6, 9)
	assert.ErrorIs(t, err, ErrZeroReserves)
}
