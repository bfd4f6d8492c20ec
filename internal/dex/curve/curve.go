// internal/dex/curve/curve.go
package curve

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// Program constants
var (
	ProgramID      = solana.MPK("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	FeeRecipient   = solana.MPK("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	EventAuthority = solana.MPK("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")

	// StateDiscriminator prefixes every bonding-curve state account.
	StateDiscriminator = []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60}
)

const (
	stateMinSize = 8 + 5*8 + 1

	// SolDecimals and TokenDecimals are the fixed base-unit granularities
	// on this curve: lamports for SOL, 10^6 base units per token.
	SolDecimals   = 9
	TokenDecimals = 6
)

var (
	// ErrCurveComplete means the curve graduated; trading must go through
	// the regular constant-product venue instead.
	ErrCurveComplete = errors.New("curve: bonding curve is complete")

	// ErrZeroReserves is returned for a curve with empty virtual reserves.
	ErrZeroReserves = errors.New("curve: zero virtual reserves")
)

// State is the decoded bonding-curve account.
type State struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DecodeState parses a bonding-curve account's binary content.
func DecodeState(data []byte) (*State, error) {
	if len(data) < stateMinSize {
		return nil, fmt.Errorf("curve: state too short: %d bytes", len(data))
	}
	for i := range StateDiscriminator {
		if data[i] != StateDiscriminator[i] {
			return nil, errors.New("curve: invalid state discriminator")
		}
	}

	pos := 8
	read := func() uint64 {
		v := binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v
	}

	state := &State{
		VirtualTokenReserves: read(),
		VirtualSolReserves:   read(),
		RealTokenReserves:    read(),
		RealSolReserves:      read(),
		TokenTotalSupply:     read(),
		Complete:             data[pos] != 0,
	}
	return state, nil
}

// StateAddress derives the curve's program-derived state address for mint.
func StateAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		ProgramID,
	)
	return address, err
}

// GlobalAddress derives the program's global configuration address.
func GlobalAddress() (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress([][]byte{[]byte("global")}, ProgramID)
	return address, err
}

// VaultAddress returns the curve's own token vault (its associated token
// account for mint).
func VaultAddress(state, mint solana.PublicKey) (solana.PublicKey, error) {
	address, _, err := solana.FindAssociatedTokenAddress(state, mint)
	return address, err
}

// Quote computes the curve output for amountIn using the virtual reserves:
//
//	output = floor(virtualOut * amountIn / (virtualIn + amountIn))
func Quote(amountIn, virtualIn, virtualOut uint64) (uint64, error) {
	if virtualIn == 0 || virtualOut == 0 {
		return 0, ErrZeroReserves
	}
	if amountIn == 0 {
		return 0, nil
	}

	out := new(big.Int).SetUint64(virtualOut)
	in := new(big.Int).SetUint64(virtualIn)
	amount := new(big.Int).SetUint64(amountIn)

	num := new(big.Int).Mul(out, amount)
	denom := new(big.Int).Add(in, amount)
	return new(big.Int).Quo(num, denom).Uint64(), nil
}

// TokensForSol quotes how many token base units amountIn lamports buys. A
// completed curve is rejected; callers must have reclassified the token.
func (s *State) TokensForSol(lamports uint64) (uint64, error) {
	if s.Complete {
		return 0, ErrCurveComplete
	}
	return Quote(lamports, s.VirtualSolReserves, s.VirtualTokenReserves)
}

// SolForTokens quotes the lamports received for selling token base units.
func (s *State) SolForTokens(tokens uint64) (uint64, error) {
	if s.Complete {
		return 0, ErrCurveComplete
	}
	return Quote(tokens, s.VirtualTokenReserves, s.VirtualSolReserves)
}

// Price returns the spot price in SOL per whole token.
func (s *State) Price() (float64, error) {
	if s.VirtualTokenReserves == 0 || s.VirtualSolReserves == 0 {
		return 0, ErrZeroReserves
	}
	sol := float64(s.VirtualSolReserves) / math.Pow10(SolDecimals)
	tokens := float64(s.VirtualTokenReserves) / math.Pow10(TokenDecimals)
	return sol / tokens, nil
}
