// internal/position/tracker.go
package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-agent/internal/swap"
	"solana-swap-agent/internal/venue"
	"solana-swap-agent/internal/wallet"
)

const (
	// debounceWindow suppresses reprocessing of notification bursts from the
	// same ledger slot.
	debounceWindow = 5 * time.Second

	// deltaEpsilon is the dust threshold in token base units below which a
	// balance change is ignored.
	deltaEpsilon = 10

	resubscribeDelay = 2 * time.Second
)

// ErrPositionNotFound is returned for tokens the tracker does not hold.
var ErrPositionNotFound = errors.New("position: not tracked")

// PriceSource supplies the live price in SOL per whole token.
type PriceSource interface {
	Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
}

// AccountSubscriber delivers change signals for one account. The returned
// channel closes when the subscription drops; cancel releases it.
type AccountSubscriber interface {
	Subscribe(ctx context.Context, account solana.PublicKey) (<-chan struct{}, func(), error)
}

// balanceReader is the slice of the chain client the tracker needs.
type balanceReader interface {
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error)
	TokenAccounts(ctx context.Context, owner solana.PublicKey) (map[solana.PublicKey]uint64, error)
}

// Position is the derived read view: anchor plus live balance plus a live
// price lookup. Never persisted.
type Position struct {
	Token               string
	CurrentTokens       decimal.Decimal // whole tokens
	EntryPrice          decimal.Decimal // SOL per whole token
	CurrentPrice        decimal.Decimal
	RemainingValue      decimal.Decimal // SOL
	CumulativeSold      decimal.Decimal
	CumulativeBought    decimal.Decimal
	InitialSolSpent     decimal.Decimal
	NetProfit           decimal.Decimal
	CreatedAt           time.Time
	IsBondingCurveToken bool
}

// Option adjusts position creation.
type Option func(*TrackedPosition)

// WithEntryPrice overrides the computed entry price.
func WithEntryPrice(price decimal.Decimal) Option {
	return func(p *TrackedPosition) { p.EntryPrice = price }
}

// WithBondingCurve marks the token as curve-traded.
func WithBondingCurve(isCurve bool) Option {
	return func(p *TrackedPosition) { p.IsBondingCurveToken = isCurve }
}

// Tracker maintains per-token positions from push-based account
// notifications. One token's failure never stops monitoring of others.
type Tracker struct {
	wallet     *wallet.Wallet
	reader     balanceReader
	subscriber AccountSubscriber
	prices     PriceSource
	store      *Store
	logger     *zap.Logger

	mu        sync.Mutex
	monitored map[string]func() // mint -> subscription cancel

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

func NewTracker(w *wallet.Wallet, reader balanceReader, subscriber AccountSubscriber, prices PriceSource, store *Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		wallet:     w,
		reader:     reader,
		subscriber: subscriber,
		prices:     prices,
		store:      store,
		logger:     logger.Named("position"),
		monitored:  make(map[string]func()),
		closed:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start reconciles persisted positions against the wallet's live token
// accounts, then begins monitoring each. Reconciliation seeds the observed
// balances so the restart gap is not misread as buys or sells.
func (t *Tracker) Start(ctx context.Context) error {
	balances, err := t.reader.TokenAccounts(ctx, t.wallet.PublicKey)
	if err != nil {
		return fmt.Errorf("position: reconcile token accounts: %w", err)
	}

	byMint := make(map[string]uint64, len(balances))
	for mint, amount := range balances {
		byMint[mint.String()] = amount
	}

	for token, record := range t.store.All() {
		current := byMint[token] // zero when the account is gone
		record.Balance.CurrentTokens = current
		record.Balance.LastObservedTokens = current
		record.Balance.LastUpdated = t.now()
		t.store.Put(record)

		mint, err := solana.PublicKeyFromBase58(token)
		if err != nil {
			t.logger.Warn("Skipping malformed persisted token address",
				zap.String("token", token), zap.Error(err))
			continue
		}
		t.monitor(ctx, mint)
	}

	t.logger.Info("Position tracker started",
		zap.Int("positions", len(t.store.All())))
	return nil
}

// AddPosition records a confirmed buy. The first buy anchors the entry
// price; subsequent buys accrue to the bought total.
func (t *Tracker) AddPosition(ctx context.Context, mint solana.PublicKey, solSpent, tokensReceived uint64, txID string, opts ...Option) error {
	if tokensReceived == 0 {
		return fmt.Errorf("position: zero tokens received")
	}

	ata, err := t.wallet.ATA(mint)
	if err != nil {
		return fmt.Errorf("position: derive token account: %w", err)
	}

	balance, decimals, err := t.reader.TokenBalance(ctx, ata)
	if err != nil {
		t.logger.Warn("Balance fetch failed on add, seeding from trade",
			zap.String("mint", mint.String()), zap.Error(err))
		balance = tokensReceived
	}

	token := mint.String()
	if record, ok := t.store.Get(token); ok {
		// Repeat buy: keep the original anchor, accrue cost basis.
		record.Balance.CumulativeBoughtValue = record.Balance.CumulativeBoughtValue.Add(lamportsToSol(solSpent))
		record.Balance.CurrentTokens = balance
		record.Balance.LastObservedTokens = balance
		record.Balance.LastUpdated = t.now()
		record.Position.Decimals = decimals
		t.store.Put(record)
		t.monitor(ctx, mint)
		return nil
	}

	pos := TrackedPosition{
		TokenAddress:     token,
		InitialBuyAmount: tokensReceived,
		InitialSolSpent:  solSpent,
		EntryPrice:       lamportsToSol(solSpent).Div(baseUnitsToTokens(tokensReceived, decimals)),
		CreatedAt:        t.now(),
		OriginatingTxID:  txID,
		Decimals:         decimals,
	}
	for _, opt := range opts {
		opt(&pos)
	}

	t.store.Put(Record{
		Position: pos,
		Balance: BalanceState{
			CurrentTokens:         balance,
			LastObservedTokens:    balance,
			CumulativeSoldValue:   decimal.Zero,
			CumulativeBoughtValue: decimal.Zero,
			LastUpdated:           t.now(),
		},
	})
	t.monitor(ctx, mint)

	t.logger.Info("Position opened",
		zap.String("mint", token),
		zap.Uint64("tokens", tokensReceived),
		zap.Uint64("sol_spent", solSpent),
		zap.String("entry_price", pos.EntryPrice.String()))
	return nil
}

// OnTrade receives confirmed swaps from the orchestrator. Buys open or grow
// the position; sells force a refresh that bypasses the debounce so the
// position reflects the trade immediately.
func (t *Tracker) OnTrade(ctx context.Context, result *swap.Result) error {
	switch result.Direction {
	case swap.DirectionBuy:
		return t.AddPosition(ctx, result.Mint, result.AmountIn, result.AmountOut,
			result.Signature.String(),
			WithBondingCurve(result.Kind == venue.KindBondingCurve),
			WithEntryPrice(decimal.NewFromFloat(result.Price)))
	case swap.DirectionSell:
		return t.RefreshPosition(ctx, result.Mint)
	}
	return fmt.Errorf("position: unknown trade direction %q", result.Direction)
}

// GetPosition computes the derived view with a live price.
func (t *Tracker) GetPosition(ctx context.Context, mint solana.PublicKey) (*Position, error) {
	record, ok := t.store.Get(mint.String())
	if !ok {
		return nil, ErrPositionNotFound
	}
	return t.derive(ctx, mint, record), nil
}

// GetAllPositions returns the derived view of every tracked token.
func (t *Tracker) GetAllPositions(ctx context.Context) ([]*Position, error) {
	records := t.store.All()
	positions := make([]*Position, 0, len(records))
	for token, record := range records {
		mint, err := solana.PublicKeyFromBase58(token)
		if err != nil {
			continue
		}
		positions = append(positions, t.derive(ctx, mint, record))
	}
	return positions, nil
}

// RefreshPosition re-reads the balance immediately, bypassing the debounce
// once. Called after a confirmed programmatic sell.
func (t *Tracker) RefreshPosition(ctx context.Context, mint solana.PublicKey) error {
	return t.processChange(ctx, mint, true)
}

// Close is idempotent and safe from a signal handler.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		for _, cancel := range t.monitored {
			cancel()
		}
		t.monitored = make(map[string]func())
		t.mu.Unlock()
		t.wg.Wait()
		t.logger.Info("Position tracker stopped")
	})
}

// monitor starts the subscription loop for a mint if not already running.
func (t *Tracker) monitor(ctx context.Context, mint solana.PublicKey) {
	token := mint.String()

	t.mu.Lock()
	if _, running := t.monitored[token]; running {
		t.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.monitored[token] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.monitorLoop(subCtx, mint)
	}()
}

// monitorLoop holds the account subscription, resubscribing on drops.
// Every failure is logged and isolated to this token.
func (t *Tracker) monitorLoop(ctx context.Context, mint solana.PublicKey) {
	ata, err := t.wallet.ATA(mint)
	if err != nil {
		t.logger.Error("Cannot derive token account, not monitoring",
			zap.String("mint", mint.String()), zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		events, cancel, err := t.subscriber.Subscribe(ctx, ata)
		if err != nil {
			t.logger.Warn("Account subscription failed, retrying",
				zap.String("mint", mint.String()),
				zap.Error(fmt.Errorf("%w: %v", swap.ErrSubscriptionError, err)))
			select {
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		t.drainEvents(ctx, mint, events)
		cancel()
	}
}

func (t *Tracker) drainEvents(ctx context.Context, mint solana.PublicKey, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case _, ok := <-events:
			if !ok {
				t.logger.Warn("Account subscription dropped",
					zap.String("mint", mint.String()))
				return
			}
			if err := t.processChange(ctx, mint, false); err != nil {
				t.logger.Warn("Balance update failed",
					zap.String("mint", mint.String()), zap.Error(err))
			}
		}
	}
}

// processChange fetches the balance and classifies the delta against the
// last observation. Changes within the debounce window are suppressed
// unless forced.
func (t *Tracker) processChange(ctx context.Context, mint solana.PublicKey, force bool) error {
	token := mint.String()
	record, ok := t.store.Get(token)
	if !ok {
		return ErrPositionNotFound
	}

	if !force && t.now().Sub(record.Balance.LastUpdated) < debounceWindow {
		return nil
	}

	ata, err := t.wallet.ATA(mint)
	if err != nil {
		return err
	}
	balance, _, err := t.reader.TokenBalance(ctx, ata)
	if err != nil {
		return fmt.Errorf("%w: %v", swap.ErrSubscriptionError, err)
	}

	delta := int64(balance) - int64(record.Balance.LastObservedTokens)
	if delta > -deltaEpsilon && delta < deltaEpsilon {
		return nil
	}

	moved := uint64(delta)
	if delta < 0 {
		moved = uint64(-delta)
	}
	value := baseUnitsToTokens(moved, record.Position.Decimals).Mul(t.priceOrEntry(ctx, mint, record))

	if delta < 0 {
		record.Balance.CumulativeSoldValue = record.Balance.CumulativeSoldValue.Add(value)
		t.logger.Info("Sell detected",
			zap.String("mint", token),
			zap.Uint64("tokens", moved),
			zap.String("value_sol", value.String()))
	} else {
		record.Balance.CumulativeBoughtValue = record.Balance.CumulativeBoughtValue.Add(value)
		t.logger.Info("Buy detected",
			zap.String("mint", token),
			zap.Uint64("tokens", moved),
			zap.String("value_sol", value.String()))
	}

	record.Balance.CurrentTokens = balance
	record.Balance.LastObservedTokens = balance
	record.Balance.LastUpdated = t.now()
	t.store.Put(record)
	return nil
}

func (t *Tracker) derive(ctx context.Context, mint solana.PublicKey, record Record) *Position {
	price := t.priceOrEntry(ctx, mint, record)
	tokens := baseUnitsToTokens(record.Balance.CurrentTokens, record.Position.Decimals)
	remaining := tokens.Mul(price)
	spent := lamportsToSol(record.Position.InitialSolSpent)

	return &Position{
		Token:               record.Position.TokenAddress,
		CurrentTokens:       tokens,
		EntryPrice:          record.Position.EntryPrice,
		CurrentPrice:        price,
		RemainingValue:      remaining,
		CumulativeSold:      record.Balance.CumulativeSoldValue,
		CumulativeBought:    record.Balance.CumulativeBoughtValue,
		InitialSolSpent:     spent,
		NetProfit:           remaining.Add(record.Balance.CumulativeSoldValue).Sub(spent.Add(record.Balance.CumulativeBoughtValue)),
		CreatedAt:           record.Position.CreatedAt,
		IsBondingCurveToken: record.Position.IsBondingCurveToken,
	}
}

// priceOrEntry falls back to the entry anchor when the live price lookup
// fails, so P&L reads degrade instead of erroring.
func (t *Tracker) priceOrEntry(ctx context.Context, mint solana.PublicKey, record Record) decimal.Decimal {
	price, err := t.prices.Price(ctx, mint)
	if err != nil {
		t.logger.Debug("Live price unavailable, using entry price",
			zap.String("mint", mint.String()), zap.Error(err))
		return record.Position.EntryPrice
	}
	return price
}

func lamportsToSol(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -9)
}

func baseUnitsToTokens(v uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(decimals))
}
