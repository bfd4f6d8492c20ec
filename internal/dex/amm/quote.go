// internal/dex/amm/quote.go
package amm

import (
	"errors"
	"math"
	"math/big"
)

// ErrZeroReserves is returned when a pool reports an empty side.
var ErrZeroReserves = errors.New("amm: pool has zero reserves")

// Quote computes the constant-product output for amountIn against the pool
// reserves, rounding down:
//
//	output = floor(outReserve - inReserve*outReserve/(inReserve+amountIn))
//
// Intermediate math is big.Int so u64-scale reserves cannot overflow.
func Quote(amountIn, inReserve, outReserve uint64) (uint64, error) {
	if inReserve == 0 || outReserve == 0 {
		return 0, ErrZeroReserves
	}
	if amountIn == 0 {
		return 0, nil
	}

	in := new(big.Int).SetUint64(inReserve)
	out := new(big.Int).SetUint64(outReserve)
	amount := new(big.Int).SetUint64(amountIn)

	// k / (inReserve + amountIn), rounded down.
	k := new(big.Int).Mul(in, out)
	denom := new(big.Int).Add(in, amount)
	newOut := new(big.Int).Quo(k, denom)

	result := new(big.Int).Sub(out, newOut)
	return result.Uint64(), nil
}

// EstimatePrice returns the decimal-adjusted spot price of the base asset in
// quote units.
func EstimatePrice(baseReserve, quoteReserve uint64, baseDecimals, quoteDecimals uint8) (float64, error) {
	if baseReserve == 0 || quoteReserve == 0 {
		return 0, ErrZeroReserves
	}
	base := float64(baseReserve) / math.Pow10(int(baseDecimals))
	quote := float64(quoteReserve) / math.Pow10(int(quoteDecimals))
	return quote / base, nil
}
