// internal/dex/amm/instructions.go
package amm

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solana-swap-agent/internal/venue"
)

// SwapBaseInOpcode is the AMM v4 "swap base in" instruction discriminator.
const SwapBaseInOpcode = 9

// SwapParams carries everything needed to encode one swap instruction.
type SwapParams struct {
	Venue           *venue.Accounts
	UserSource      solana.PublicKey // token account debited
	UserDestination solana.PublicKey // token account credited
	UserOwner       solana.PublicKey // signer
	AmountIn        uint64
	MinimumOut      uint64
}

// BuildSwapInstruction encodes a constant-product swap. It is a pure
// function: identical inputs produce byte-identical instructions.
//
// Data layout: u8 opcode | u64 amountIn LE | u64 minimumAmountOut LE.
func BuildSwapInstruction(params *SwapParams) (solana.Instruction, error) {
	v := params.Venue
	if v == nil || !v.Valid() {
		return nil, fmt.Errorf("amm: incomplete venue account set")
	}
	if params.UserSource.IsZero() || params.UserDestination.IsZero() || params.UserOwner.IsZero() {
		return nil, fmt.Errorf("amm: missing user accounts")
	}

	data := make([]byte, 1+8+8)
	data[0] = SwapBaseInOpcode
	binary.LittleEndian.PutUint64(data[1:9], params.AmountIn)
	binary.LittleEndian.PutUint64(data[9:17], params.MinimumOut)

	// Account list must be in the exact order expected by the program.
	accounts := []*solana.AccountMeta{
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: v.AmmID, IsSigner: false, IsWritable: true},
		{PublicKey: v.AmmAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: v.AmmOpenOrders, IsSigner: false, IsWritable: true},
		{PublicKey: v.AmmTargetOrders, IsSigner: false, IsWritable: true},
		{PublicKey: v.BaseVault, IsSigner: false, IsWritable: true},
		{PublicKey: v.QuoteVault, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketProgram, IsSigner: false, IsWritable: false},
		{PublicKey: v.MarketID, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketBids, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketAsks, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketEventQueue, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketBaseVault, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketQuoteVault, IsSigner: false, IsWritable: true},
		{PublicKey: v.MarketVaultSigner, IsSigner: false, IsWritable: false},
		{PublicKey: params.UserSource, IsSigner: false, IsWritable: true},
		{PublicKey: params.UserDestination, IsSigner: false, IsWritable: true},
		{PublicKey: params.UserOwner, IsSigner: true, IsWritable: true},
	}

	return solana.NewInstruction(venue.AmmV4ProgramID, accounts, data), nil
}
