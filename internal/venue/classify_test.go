// internal/venue/classify_test.go
package venue

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-swap-agent/internal/chain"
	"solana-swap-agent/internal/dex/curve"
)

func newClassifier(t *testing.T, reader chain.Reader) *Classifier {
	t.Helper()
	cache := NewClassificationCache(filepath.Join(t.TempDir(), "classifications.json"), zap.NewNop())
	return NewClassifier(reader, cache, zap.NewNop())
}

func seedCurve(t *testing.T, reader *stubReader, mint solana.PublicKey, owner solana.PublicKey, complete bool) {
	t.Helper()
	stateAddr, err := curve.StateAddress(mint)
	require.NoError(t, err)

	data := make([]byte, 49)
	copy(data, curve.StateDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], 1_000_000_000_000)
	binary.LittleEndian.PutUint64(data[16:24], 30_000_000_000)
	if complete {
		data[48] = 1
	}

	reader.accounts[stateAddr.String()] = &chain.Account{
		Pubkey: stateAddr,
		Owner:  owner,
		Data:   data,
	}
}

func TestClassifyRegularWhenNoCurve(t *testing.T) {
	classifier := newClassifier(t, newStubReader())

	entry, err := classifier.Classify(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, KindRegular, entry.Kind)
	assert.False(t, entry.HasAlternateVenue)
}

func TestClassifyLiveCurve(t *testing.T) {
	reader := newStubReader()
	mint := solana.NewWallet().PublicKey()
	seedCurve(t, reader, mint, curve.ProgramID, false)

	entry, err := newClassifier(t, reader).Classify(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, KindBondingCurve, entry.Kind)
}

func TestClassifyCompletedCurveIsMigrated(t *testing.T) {
	reader := newStubReader()
	mint := solana.NewWallet().PublicKey()
	seedCurve(t, reader, mint, curve.ProgramID, true)

	entry, err := newClassifier(t, reader).Classify(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, KindMigratedBondingCurve, entry.Kind)
	assert.True(t, entry.HasAlternateVenue)
}

func TestClassifyForeignOwnerIsRegular(t *testing.T) {
	reader := newStubReader()
	mint := solana.NewWallet().PublicKey()
	seedCurve(t, reader, mint, solana.NewWallet().PublicKey(), false)

	entry, err := newClassifier(t, reader).Classify(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, KindRegular, entry.Kind)
}

func TestClassifyCachedSkipsProbe(t *testing.T) {
	reader := newStubReader()
	mint := solana.NewWallet().PublicKey()
	seedCurve(t, reader, mint, curve.ProgramID, false)
	classifier := newClassifier(t, reader)

	_, err := classifier.Classify(context.Background(), mint)
	require.NoError(t, err)

	// Remove the ledger account: the cached entry must still answer.
	stateAddr, err := curve.StateAddress(mint)
	require.NoError(t, err)
	delete(reader.accounts, stateAddr.String())

	entry, err := classifier.Classify(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, KindBondingCurve, entry.Kind)
}
