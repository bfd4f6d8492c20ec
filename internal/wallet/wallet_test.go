// internal/wallet/wallet_test.go
package wallet

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromBase58(t *testing.T) {
	keypair := solana.NewWallet()

	w, err := New(keypair.PrivateKey.String())
	require.NoError(t, err)
	assert.Equal(t, keypair.PublicKey(), w.PublicKey)
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New("not-base58!!!")
	assert.Error(t, err)

	// Valid base58 but wrong length.
	_, err = New(solana.NewWallet().PublicKey().String())
	assert.Error(t, err)
}

func TestATACachedDerivation(t *testing.T) {
	w, err := New(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	want, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	require.NoError(t, err)

	first, err := w.ATA(mint)
	require.NoError(t, err)
	second, err := w.ATA(mint)
	require.NoError(t, err)

	assert.Equal(t, want, first)
	assert.Equal(t, first, second)
}

func TestSignTransaction(t *testing.T) {
	w, err := New(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	recipient := solana.NewWallet().PublicKey()
	ix := solana.NewInstruction(
		solana.SystemProgramID,
		[]*solana.AccountMeta{
			{PublicKey: w.PublicKey, IsSigner: true, IsWritable: true},
			{PublicKey: recipient, IsWritable: true},
		},
		[]byte{2, 0, 0, 0},
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.Hash{},
		solana.TransactionPayer(w.PublicKey),
	)
	require.NoError(t, err)

	require.NoError(t, w.SignTransaction(tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
}

func TestCreateATAIdempotentInstruction(t *testing.T) {
	w, err := New(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	ix, err := w.CreateATAIdempotentInstruction(mint)
	require.NoError(t, err)

	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	metas := ix.Accounts()
	require.Len(t, metas, 6)
	assert.Equal(t, w.PublicKey, metas[0].PublicKey)
	assert.True(t, metas[0].IsSigner)

	ata, err := w.ATA(mint)
	require.NoError(t, err)
	assert.Equal(t, ata, metas[1].PublicKey)
}
