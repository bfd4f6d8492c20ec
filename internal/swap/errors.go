// internal/swap/errors.go
package swap

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized error taxonomy. Callers never see raw program error codes;
// every failure leaving the orchestrator wraps one of these sentinels.
var (
	// ErrVenueNotFound means no venue exists for the requested pair.
	ErrVenueNotFound = errors.New("no venue found for token pair")

	// ErrInvalidVenueState covers zero reserves and malformed venue accounts.
	ErrInvalidVenueState = errors.New("venue state is invalid")

	// ErrStaleBlockhash means the transaction's blockhash expired before
	// confirmation.
	ErrStaleBlockhash = errors.New("blockhash expired")

	// ErrAllEndpointsUnhealthy is soft: the pool self-heals, a best-effort
	// endpoint was still used.
	ErrAllEndpointsUnhealthy = errors.New("all RPC endpoints unhealthy")

	// ErrSlippageExceeded is the only retryable class: the venue moved
	// between quote and execution.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")

	// ErrInsufficientBalance means the wallet cannot fund the swap.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionRejected covers all other program-level rejections.
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrSubscriptionError is non-fatal: tracking of one token degraded.
	ErrSubscriptionError = errors.New("account subscription error")
)

// Program error fragments that identify slippage-class failures: the
// constant-product program's "exceeds desired slippage limit" (code 30) and
// the curve program's output-bound errors (6001/6002).
var slippageFragments = []string{
	"0x1771",
	"0x1772",
	"6001",
	"6002",
	"slippage",
	"exceeds desired slippage limit",
	"custom program error: 0x1e",
}

var insufficientFragments = []string{
	"insufficient lamports",
	"insufficient funds",
	"insufficient balance",
}

// Normalize maps a raw submission/confirmation error onto the taxonomy.
// Errors already carrying a sentinel pass through unchanged.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrVenueNotFound, ErrInvalidVenueState, ErrStaleBlockhash,
		ErrAllEndpointsUnhealthy, ErrSlippageExceeded,
		ErrInsufficientBalance, ErrTransactionRejected, ErrSubscriptionError,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range slippageFragments {
		if strings.Contains(msg, fragment) {
			return fmt.Errorf("%w: %v", ErrSlippageExceeded, err)
		}
	}
	for _, fragment := range insufficientFragments {
		if strings.Contains(msg, fragment) {
			return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
	}
	if strings.Contains(msg, "blockhash not found") || strings.Contains(msg, "blockhashnotfound") {
		return fmt.Errorf("%w: %v", ErrStaleBlockhash, err)
	}

	return fmt.Errorf("%w: %v", ErrTransactionRejected, err)
}

// IsRetryable reports whether the orchestrator may re-enter the quote loop.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSlippageExceeded)
}
