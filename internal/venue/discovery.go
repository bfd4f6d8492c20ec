// internal/venue/discovery.go
package venue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-swap-agent/internal/chain"
)

var (
	// ErrNoVenueFound means the ledger scan matched nothing for either
	// mint ordering.
	ErrNoVenueFound = errors.New("venue: no venue found for token pair")

	// ErrInvalidVenueState means a venue account decoded to zero reserves
	// or malformed addresses.
	ErrInvalidVenueState = errors.New("venue: invalid venue state")
)

const scanTimeout = 15 * time.Second

// Discovery locates AMM venues on the ledger when the cache misses.
type Discovery struct {
	reader  chain.Reader
	program solana.PublicKey
	logger  *zap.Logger
}

func NewDiscovery(reader chain.Reader, logger *zap.Logger) *Discovery {
	return &Discovery{
		reader:  reader,
		program: AmmV4ProgramID,
		logger:  logger.Named("venue_discovery"),
	}
}

// Find scans for a venue matching (mintA, mintB). AMMs do not guarantee the
// stored base/quote order matches the caller's, so both orderings are
// scanned in parallel and the first hit wins.
func (d *Discovery) Find(ctx context.Context, mintA, mintB solana.PublicKey) (*Accounts, error) {
	searchCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var (
		found   *chain.Account
		scanErr error
		mu      sync.Mutex
	)

	g, _ := errgroup.WithContext(searchCtx)
	for _, order := range [][2]solana.PublicKey{{mintA, mintB}, {mintB, mintA}} {
		base, quote := order[0], order[1]
		g.Go(func() error {
			account, err := d.scan(searchCtx, base, quote)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Only reported when neither ordering finds a venue; the
				// winning ordering cancelling the other lands here too but
				// is shadowed by the hit.
				scanErr = err
				return nil
			}
			if account != nil && found == nil {
				found = account
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if found == nil {
		if scanErr != nil {
			return nil, fmt.Errorf("venue: scan failed for %s / %s: %w", mintA, mintB, scanErr)
		}
		return nil, fmt.Errorf("%w: %s / %s", ErrNoVenueFound, mintA, mintB)
	}

	accounts, err := d.compose(ctx, found)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Discovered venue",
		zap.String("amm_id", accounts.AmmID.String()),
		zap.String("base_mint", accounts.BaseMint.String()),
		zap.String("quote_mint", accounts.QuoteMint.String()))
	return accounts, nil
}

// scan issues the filtered program-account query for one mint ordering.
func (d *Discovery) scan(ctx context.Context, base, quote solana.PublicKey) (*chain.Account, error) {
	filters := []rpc.RPCFilter{
		{DataSize: AmmStateSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: BaseMintOffset, Bytes: base.Bytes()}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: QuoteMintOffset, Bytes: quote.Bytes()}},
	}

	accounts, err := d.reader.ScanProgramAccounts(ctx, d.program, filters)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0], nil
}

// compose decodes the pool state and loads the paired order-book market to
// build the full account set.
func (d *Discovery) compose(ctx context.Context, poolAccount *chain.Account) (*Accounts, error) {
	state, err := decodeAmmState(poolAccount.Data)
	if err != nil {
		return nil, err
	}

	market, err := d.loadMarket(ctx, state.marketProgram, state.marketID)
	if err != nil {
		return nil, err
	}

	accounts := &Accounts{
		AmmID:           poolAccount.Pubkey,
		AmmAuthority:    AmmAuthority,
		AmmOpenOrders:   state.openOrders,
		AmmTargetOrders: state.targetOrders,

		BaseMint:      state.baseMint,
		QuoteMint:     state.quoteMint,
		BaseVault:     state.baseVault,
		QuoteVault:    state.quoteVault,
		BaseDecimals:  state.baseDecimals,
		QuoteDecimals: state.quoteDecimals,

		MarketProgram:     state.marketProgram,
		MarketID:          state.marketID,
		MarketBids:        market.bids,
		MarketAsks:        market.asks,
		MarketEventQueue:  market.eventQueue,
		MarketBaseVault:   market.baseVault,
		MarketQuoteVault:  market.quoteVault,
		MarketVaultSigner: market.vaultSigner,
	}
	if !accounts.Valid() {
		return nil, fmt.Errorf("%w: incomplete account set for %s", ErrInvalidVenueState, poolAccount.Pubkey)
	}
	return accounts, nil
}

type ammState struct {
	baseDecimals  uint8
	quoteDecimals uint8
	baseVault     solana.PublicKey
	quoteVault    solana.PublicKey
	baseMint      solana.PublicKey
	quoteMint     solana.PublicKey
	openOrders    solana.PublicKey
	marketID      solana.PublicKey
	marketProgram solana.PublicKey
	targetOrders  solana.PublicKey
}

func decodeAmmState(data []byte) (*ammState, error) {
	if len(data) < AmmStateSize {
		return nil, fmt.Errorf("%w: state too short (%d bytes)", ErrInvalidVenueState, len(data))
	}

	pk := func(offset int) solana.PublicKey {
		return solana.PublicKeyFromBytes(data[offset : offset+32])
	}

	state := &ammState{
		baseDecimals:  uint8(binary.LittleEndian.Uint64(data[BaseDecimalOffset : BaseDecimalOffset+8])),
		quoteDecimals: uint8(binary.LittleEndian.Uint64(data[QuoteDecimalOffset : QuoteDecimalOffset+8])),
		baseVault:     pk(BaseVaultOffset),
		quoteVault:    pk(QuoteVaultOffset),
		baseMint:      pk(BaseMintOffset),
		quoteMint:     pk(QuoteMintOffset),
		openOrders:    pk(OpenOrdersOffset),
		marketID:      pk(MarketIDOffset),
		marketProgram: pk(MarketProgramOffset),
		targetOrders:  pk(TargetOrdersOffset),
	}

	if state.baseMint.IsZero() || state.quoteMint.IsZero() || state.marketID.IsZero() {
		return nil, fmt.Errorf("%w: zero mint or market address", ErrInvalidVenueState)
	}
	return state, nil
}

type marketState struct {
	bids        solana.PublicKey
	asks        solana.PublicKey
	eventQueue  solana.PublicKey
	baseVault   solana.PublicKey
	quoteVault  solana.PublicKey
	vaultSigner solana.PublicKey
}

// loadMarket fetches the order-book market account and derives the vault
// signer from the stored nonce.
func (d *Discovery) loadMarket(ctx context.Context, marketProgram, marketID solana.PublicKey) (*marketState, error) {
	account, err := d.reader.AccountInfo(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("venue: failed to load market %s: %w", marketID, err)
	}
	return decodeMarketState(account.Data, marketProgram, marketID)
}

func decodeMarketState(data []byte, marketProgram, marketID solana.PublicKey) (*marketState, error) {
	if len(data) < MarketStateSize {
		return nil, fmt.Errorf("%w: market state too short (%d bytes)", ErrInvalidVenueState, len(data))
	}

	pk := func(offset int) solana.PublicKey {
		return solana.PublicKeyFromBytes(data[offset : offset+32])
	}

	nonce := binary.LittleEndian.Uint64(data[MarketVaultNonceOffset : MarketVaultNonceOffset+8])
	nonceBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonceBytes, nonce)

	vaultSigner, err := solana.CreateProgramAddress(
		[][]byte{marketID.Bytes(), nonceBytes},
		marketProgram,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: vault signer derivation failed: %v", ErrInvalidVenueState, err)
	}

	return &marketState{
		bids:        pk(MarketBidsOffset),
		asks:        pk(MarketAsksOffset),
		eventQueue:  pk(MarketEventQueueOffset),
		baseVault:   pk(MarketBaseVaultOffset),
		quoteVault:  pk(MarketQuoteVaultOffset),
		vaultSigner: vaultSigner,
	}, nil
}

// Resolver layers the cache over discovery: cache hit, else scan and persist.
type Resolver struct {
	cache     *Cache
	discovery *Discovery
	logger    *zap.Logger
}

func NewResolver(cache *Cache, discovery *Discovery, logger *zap.Logger) *Resolver {
	return &Resolver{
		cache:     cache,
		discovery: discovery,
		logger:    logger.Named("venue_resolver"),
	}
}

// Resolve returns the venue accounts for the pair, discovering and caching
// on a miss.
func (r *Resolver) Resolve(ctx context.Context, mintA, mintB solana.PublicKey) (*Accounts, error) {
	key := PairKey(mintA, mintB)
	if accounts, ok := r.cache.Get(key); ok {
		return &accounts, nil
	}

	accounts, err := r.discovery.Find(ctx, mintA, mintB)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, *accounts)
	return accounts, nil
}

// Invalidate forces re-discovery on the next Resolve, used after a swap
// fails against cached venue accounts.
func (r *Resolver) Invalidate(mintA, mintB solana.PublicKey) {
	r.cache.Invalidate(PairKey(mintA, mintB))
}
