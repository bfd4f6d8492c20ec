// internal/swap/errors_test.go
package swap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSlippageCodes(t *testing.T) {
	cases := []string{
		"Transaction simulation failed: custom program error: 0x1771",
		"rpc error: custom program error: 0x1772",
		"program failed: 6001",
		"InstructionError [5, Custom(6002)]",
		"Swap failed: exceeds desired slippage limit",
		"custom program error: 0x1e",
	}
	for _, msg := range cases {
		err := Normalize(errors.New(msg))
		assert.ErrorIs(t, err, ErrSlippageExceeded, "message %q", msg)
		assert.True(t, IsRetryable(err), "message %q", msg)
	}
}

func TestNormalizeInsufficientBalance(t *testing.T) {
	err := Normalize(errors.New("Transfer: insufficient lamports 100, need 5000"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, IsRetryable(err))
}

func TestNormalizeStaleBlockhash(t *testing.T) {
	err := Normalize(errors.New("Transaction simulation failed: Blockhash not found"))
	assert.ErrorIs(t, err, ErrStaleBlockhash)
}

func TestNormalizeUnknownBecomesRejected(t *testing.T) {
	err := Normalize(errors.New("custom program error: 0xbc4"))
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.False(t, IsRetryable(err))
}

func TestNormalizePreservesSentinels(t *testing.T) {
	wrapped := fmt.Errorf("resolve venue: %w", ErrVenueNotFound)
	assert.Equal(t, wrapped, Normalize(wrapped))
	assert.ErrorIs(t, Normalize(wrapped), ErrVenueNotFound)
}

func TestNormalizeNil(t *testing.T) {
	assert.NoError(t, Normalize(nil))
}
