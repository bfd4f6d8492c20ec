// internal/venue/discovery_test.go
package venue

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-swap-agent/internal/chain"
)

type stubReader struct {
	mu       sync.Mutex
	accounts map[string]*chain.Account
	pools    []*chain.Account
	scans    int
	scanErr  error
}

func newStubReader() *stubReader {
	return &stubReader{accounts: make(map[string]*chain.Account)}
}

func (r *stubReader) AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*chain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[pubkey.String()]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return account, nil
}

// ScanProgramAccounts honors the memcmp filters on the embedded mints the
// way the real RPC endpoint would.
func (r *stubReader) ScanProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]*chain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans++
	if r.scanErr != nil {
		return nil, r.scanErr
	}

	var matched []*chain.Account
	for _, pool := range r.pools {
		ok := true
		for _, filter := range filters {
			if filter.Memcmp == nil {
				continue
			}
			offset := int(filter.Memcmp.Offset)
			if !bytes.Equal(pool.Data[offset:offset+len(filter.Memcmp.Bytes)], filter.Memcmp.Bytes) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, pool)
		}
	}
	return matched, nil
}

func (r *stubReader) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	return 0, 0, chain.ErrAccountNotFound
}

var _ chain.Reader = (*stubReader)(nil)

type poolFixture struct {
	reader    *stubReader
	ammID     solana.PublicKey
	baseMint  solana.PublicKey
	quoteMint solana.PublicKey
	baseVault solana.PublicKey
	marketID  solana.PublicKey
}

// buildPool fabricates a pool account (base, quote) plus its paired market
// account with a vault-signer nonce the derivation accepts.
func buildPool(t *testing.T, reader *stubReader, baseMint, quoteMint solana.PublicKey) *poolFixture {
	t.Helper()
	pk := func() solana.PublicKey { return solana.NewWallet().PublicKey() }

	ammID := pk()
	baseVault := pk()
	quoteVault := pk()
	openOrders := pk()
	targetOrders := pk()
	marketID := pk()

	put := func(data []byte, offset int, key solana.PublicKey) {
		copy(data[offset:offset+32], key.Bytes())
	}

	poolData := make([]byte, AmmStateSize)
	binary.LittleEndian.PutUint64(poolData[BaseDecimalOffset:], 9)
	binary.LittleEndian.PutUint64(poolData[QuoteDecimalOffset:], 6)
	put(poolData, BaseVaultOffset, baseVault)
	put(poolData, QuoteVaultOffset, quoteVault)
	put(poolData, BaseMintOffset, baseMint)
	put(poolData, QuoteMintOffset, quoteMint)
	put(poolData, OpenOrdersOffset, openOrders)
	put(poolData, MarketIDOffset, marketID)
	put(poolData, MarketProgramOffset, OpenBookProgramID)
	put(poolData, TargetOrdersOffset, targetOrders)

	// Find a nonce whose program-address derivation is valid.
	var nonce uint64
	found := false
	for n := uint64(0); n < 256; n++ {
		nonceBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(nonceBytes, n)
		if _, err := solana.CreateProgramAddress(
			[][]byte{marketID.Bytes(), nonceBytes}, OpenBookProgramID); err == nil {
			nonce = n
			found = true
			break
		}
	}
	require.True(t, found, "no valid vault signer nonce for market %s", marketID)

	marketData := make([]byte, MarketStateSize)
	binary.LittleEndian.PutUint64(marketData[MarketVaultNonceOffset:], nonce)
	put(marketData, MarketBaseVaultOffset, pk())
	put(marketData, MarketQuoteVaultOffset, pk())
	put(marketData, MarketEventQueueOffset, pk())
	put(marketData, MarketBidsOffset, pk())
	put(marketData, MarketAsksOffset, pk())

	reader.pools = append(reader.pools, &chain.Account{
		Pubkey: ammID,
		Owner:  AmmV4ProgramID,
		Data:   poolData,
	})
	reader.accounts[marketID.String()] = &chain.Account{
		Pubkey: marketID,
		Owner:  OpenBookProgramID,
		Data:   marketData,
	}

	return &poolFixture{
		reader:    reader,
		ammID:     ammID,
		baseMint:  baseMint,
		quoteMint: quoteMint,
		baseVault: baseVault,
		marketID:  marketID,
	}
}

func TestFindDirectOrdering(t *testing.T) {
	reader := newStubReader()
	tokenMint := solana.NewWallet().PublicKey()
	fixture := buildPool(t, reader, WrappedSolMint, tokenMint)

	discovery := NewDiscovery(reader, zap.NewNop())
	accounts, err := discovery.Find(context.Background(), WrappedSolMint, tokenMint)
	require.NoError(t, err)

	assert.Equal(t, fixture.ammID, accounts.AmmID)
	assert.Equal(t, WrappedSolMint, accounts.BaseMint)
	assert.Equal(t, tokenMint, accounts.QuoteMint)
	assert.Equal(t, fixture.baseVault, accounts.BaseVault)
	assert.Equal(t, uint8(9), accounts.BaseDecimals)
	assert.True(t, accounts.Valid())
}

func TestFindReversedOrdering(t *testing.T) {
	reader := newStubReader()
	tokenMint := solana.NewWallet().PublicKey()
	// The ledger stores the pool with base=token, quote=SOL.
	fixture := buildPool(t, reader, tokenMint, WrappedSolMint)

	discovery := NewDiscovery(reader, zap.NewNop())
	// Caller asks SOL-first; discovery must still find it.
	accounts, err := discovery.Find(context.Background(), WrappedSolMint, tokenMint)
	require.NoError(t, err)

	assert.Equal(t, fixture.ammID, accounts.AmmID)
	assert.Equal(t, tokenMint, accounts.BaseMint)
	assert.Equal(t, fixture.baseVault, accounts.BaseVault)
}

func TestFindNoVenue(t *testing.T) {
	discovery := NewDiscovery(newStubReader(), zap.NewNop())
	_, err := discovery.Find(context.Background(),
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrNoVenueFound)
}

func TestFindScanErrorNotMistakenForMiss(t *testing.T) {
	reader := newStubReader()
	reader.scanErr = errors.New("rpc unavailable")

	discovery := NewDiscovery(reader, zap.NewNop())
	_, err := discovery.Find(context.Background(),
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoVenueFound)
	assert.ErrorContains(t, err, "rpc unavailable")
}

func TestResolverCachesDiscovery(t *testing.T) {
	reader := newStubReader()
	tokenMint := solana.NewWallet().PublicKey()
	buildPool(t, reader, WrappedSolMint, tokenMint)

	cache := NewCache(filepath.Join(t.TempDir(), "venues.json"), zap.NewNop())
	resolver := NewResolver(cache, NewDiscovery(reader, zap.NewNop()), zap.NewNop())

	first, err := resolver.Resolve(context.Background(), WrappedSolMint, tokenMint)
	require.NoError(t, err)
	scansAfterFirst := reader.scans

	second, err := resolver.Resolve(context.Background(), tokenMint, WrappedSolMint)
	require.NoError(t, err)
	assert.Equal(t, first.AmmID, second.AmmID)
	assert.Equal(t, scansAfterFirst, reader.scans, "cache hit must not re-scan")

	resolver.Invalidate(WrappedSolMint, tokenMint)
	_, err = resolver.Resolve(context.Background(), WrappedSolMint, tokenMint)
	require.NoError(t, err)
	assert.Greater(t, reader.scans, scansAfterFirst)
}

func TestDecodeAmmStateTooShort(t *testing.T) {
	_, err := decodeAmmState(make([]byte, 100))
	assert.ErrorIs(t, err, ErrInvalidVenueState)
}

func TestDecodeAmmStateZeroMints(t *testing.T) {
	_, err := decodeAmmState(make([]byte, AmmStateSize))
	assert.ErrorIs(t, err, ErrInvalidVenueState)
}
