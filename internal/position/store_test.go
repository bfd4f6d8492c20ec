// internal/position/store_test.go
package position

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRecord(token string) Record {
	return Record{
		Position: TrackedPosition{
			TokenAddress:    token,
			InitialBuyAmount: 1_000_000,
			InitialSolSpent: 500_000_000,
			EntryPrice:      decimal.RequireFromString("0.0005"),
			CreatedAt:       time.Now().UTC().Truncate(time.Second),
			OriginatingTxID: "sig",
			Decimals:        6,
		},
		Balance: BalanceState{
			CurrentTokens:         1_000_000,
			LastObservedTokens:    1_000_000,
			CumulativeSoldValue:   decimal.Zero,
			CumulativeBoughtValue: decimal.Zero,
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	store := NewStore(path, zap.NewNop())
	store.Put(testRecord("tokenA"))
	store.Put(testRecord("tokenB"))
	store.Delete("tokenB")

	reopened := NewStore(path, zap.NewNop())
	assert.Len(t, reopened.All(), 1)

	record, ok := reopened.Get("tokenA")
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), record.Position.InitialBuyAmount)
	assert.True(t, record.Position.EntryPrice.Equal(decimal.RequireFromString("0.0005")))
}

func TestStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"), zap.NewNop())
	assert.Empty(t, store.All())
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, zap.NewNop())
	assert.Empty(t, store.All())

	// A corrupt store must still accept new writes.
	store.Put(testRecord("tokenA"))
	_, ok := NewStore(path, zap.NewNop()).Get("tokenA")
	assert.True(t, ok)
}

func TestStoreDeleteUnknownNoop(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "positions.json"), zap.NewNop())
	store.Delete("missing")
	assert.Empty(t, store.All())
}
