// internal/dex/curve/instructions.go
package curve

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Discriminator derives the 8-byte instruction discriminator the program
// expects: sha256("global:<name>") truncated to 8 bytes.
func Discriminator(name string) []byte {
	hash := sha256.Sum256([]byte("global:" + name))
	return hash[:8]
}

var (
	buyDiscriminator  = Discriminator("buy")
	sellDiscriminator = Discriminator("sell")
)

// InstructionAccounts collects the addresses a curve instruction references.
type InstructionAccounts struct {
	Mint       solana.PublicKey
	State      solana.PublicKey // bonding-curve state account
	StateVault solana.PublicKey // curve's token vault (ATA of State)
	Global     solana.PublicKey
	UserToken  solana.PublicKey // user's associated token account
	User       solana.PublicKey // signer
}

func (a *InstructionAccounts) validate() error {
	if a.Mint.IsZero() || a.State.IsZero() || a.StateVault.IsZero() ||
		a.Global.IsZero() || a.UserToken.IsZero() || a.User.IsZero() {
		return fmt.Errorf("curve: missing instruction accounts")
	}
	return nil
}

// ResolveAccounts derives the full account set for trading mint by user.
func ResolveAccounts(mint, user solana.PublicKey) (*InstructionAccounts, error) {
	state, err := StateAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("curve: state derivation: %w", err)
	}
	vault, err := VaultAddress(state, mint)
	if err != nil {
		return nil, fmt.Errorf("curve: vault derivation: %w", err)
	}
	global, err := GlobalAddress()
	if err != nil {
		return nil, fmt.Errorf("curve: global derivation: %w", err)
	}
	userToken, _, err := solana.FindAssociatedTokenAddress(user, mint)
	if err != nil {
		return nil, fmt.Errorf("curve: user token derivation: %w", err)
	}
	return &InstructionAccounts{
		Mint:       mint,
		State:      state,
		StateVault: vault,
		Global:     global,
		UserToken:  userToken,
		User:       user,
	}, nil
}

// BuildBuyInstruction encodes a curve buy: discriminator, token amount out,
// max SOL cost, both little-endian u64. Pure and deterministic.
func BuildBuyInstruction(accounts *InstructionAccounts, tokenAmount, maxSolCost uint64) (solana.Instruction, error) {
	if err := accounts.validate(); err != nil {
		return nil, err
	}

	data := encodeAmounts(buyDiscriminator, tokenAmount, maxSolCost)

	// Account list must be in the exact order expected by the program.
	metas := []*solana.AccountMeta{
		{PublicKey: accounts.Global, IsSigner: false, IsWritable: false},
		{PublicKey: FeeRecipient, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.State, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.StateVault, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.UserToken, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.User, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: ProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(ProgramID, metas, data), nil
}

// BuildSellInstruction encodes a curve sell: discriminator, token amount in,
// min SOL output.
func BuildSellInstruction(accounts *InstructionAccounts, tokenAmount, minSolOutput uint64) (solana.Instruction, error) {
	if err := accounts.validate(); err != nil {
		return nil, err
	}

	data := encodeAmounts(sellDiscriminator, tokenAmount, minSolOutput)

	metas := []*solana.AccountMeta{
		{PublicKey: accounts.Global, IsSigner: false, IsWritable: false},
		{PublicKey: FeeRecipient, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.State, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.StateVault, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.UserToken, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.User, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SPLAssociatedTokenAccountProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: ProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(ProgramID, metas, data), nil
}

func encodeAmounts(discriminator []byte, primary, secondary uint64) []byte {
	data := make([]byte, 8+8+8)
	copy(data[0:8], discriminator)
	binary.LittleEndian.PutUint64(data[8:16], primary)
	binary.LittleEndian.PutUint64(data[16:24], secondary)
	return data
}
