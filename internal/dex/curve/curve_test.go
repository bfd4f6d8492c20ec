// internal/dex/curve/curve_test.go
package curve

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeState(t *testing.T, s State) []byte {
	t.Helper()
	data := make([]byte, stateMinSize)
	copy(data, StateDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], s.VirtualTokenReserves)
	binary.LittleEndian.PutUint64(data[16:24], s.VirtualSolReserves)
	binary.LittleEndian.PutUint64(data[24:32], s.RealTokenReserves)
	binary.LittleEndian.PutUint64(data[32:40], s.RealSolReserves)
	binary.LittleEndian.PutUint64(data[40:48], s.TokenTotalSupply)
	if s.Complete {
		data[48] = 1
	}
	return data
}

func TestDecodeState(t *testing.T) {
	want := State{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    793_100_000_000_000,
		RealSolReserves:      0,
		TokenTotalSupply:     1_000_000_000_000_000,
		Complete:             false,
	}

	got, err := DecodeState(encodeState(t, want))
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestDecodeStateCompleteFlag(t *testing.T) {
	state, err := DecodeState(encodeState(t, State{
		VirtualTokenReserves: 1, VirtualSolReserves: 1, Complete: true,
	}))
	require.NoError(t, err)
	assert.True(t, state.Complete)
}

func TestDecodeStateBadDiscriminator(t *testing.T) {
	data := encodeState(t, State{VirtualTokenReserves: 1})
	data[0] ^= 0xff
	_, err := DecodeState(data)
	assert.Error(t, err)
}

func TestDecodeStateTooShort(t *testing.T) {
	_, err := DecodeState(make([]byte, 10))
	assert.Error(t, err)
}

func TestQuoteMatchesFormula(t *testing.T) {
	// floor(vOut * a / (vIn + a)) = floor(1000 * 500 / 1500) = 333
	out, err := Quote(500, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(333), out)
}

func TestQuoteMonotonicAndBounded(t *testing.T) {
	const (
		virtualIn  = 30_000_000_000
		virtualOut = 1_073_000_000_000_000
	)
	var prev uint64
	for _, amountIn := range []uint64{1, 1_000_000, 1_000_000_000, 10_000_000_000, 100_000_000_000} {
		out, err := Quote(amountIn, virtualIn, virtualOut)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out, prev)
		assert.Less(t, out, uint64(virtualOut))
		prev = out
	}
}

func TestQuoteZeroReserves(t *testing.T) {
	_, err := Quote(100, 0, 1000)
	assert.ErrorIs(t, err, ErrZeroReserves)
}

func TestCompletedCurveRejectsTrades(t *testing.T) {
	state := &State{
		VirtualTokenReserves: 1_000_000,
		VirtualSolReserves:   1_000_000,
		Complete:             true,
	}

	_, err := state.TokensForSol(100)
	assert.ErrorIs(t, err, ErrCurveComplete)
	_, err = state.SolForTokens(100)
	assert.ErrorIs(t, err, ErrCurveComplete)
}

func TestLiveCurveQuotes(t *testing.T) {
	state := &State{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
	}

	tokens, err := state.TokensForSol(1_000_000_000) // 1 SOL in
	require.NoError(t, err)
	assert.Greater(t, tokens, uint64(0))

	sol, err := state.SolForTokens(tokens)
	require.NoError(t, err)
	// Round-tripping through the curve loses at most the price impact.
	assert.LessOrEqual(t, sol, uint64(1_000_000_000))
	assert.Greater(t, sol, uint64(900_000_000))
}

func TestPrice(t *testing.T) {
	state := &State{
		VirtualTokenReserves: 1_000_000_000_000, // 1M tokens at 6 decimals
		VirtualSolReserves:   30_000_000_000,    // 30 SOL
	}
	price, err := state.Price()
	require.NoError(t, err)
	assert.InDelta(t, 0.00003, price, 1e-9)
}

func TestPriceZeroReserves(t *testing.T) {
	_, err := (&State{}).Price()
	assert.ErrorIs(t, err, ErrZeroReserves)
}
