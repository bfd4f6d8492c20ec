// internal/swap/orchestrator.go
package swap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-agent/internal/blockhash"
	"solana-swap-agent/internal/chain"
	"solana-swap-agent/internal/dex/amm"
	"solana-swap-agent/internal/dex/curve"
	"solana-swap-agent/internal/venue"
	"solana-swap-agent/internal/wallet"
)

const (
	maxAttempts   = 3
	retryBackoff  = 500 * time.Millisecond
	confirmPoll   = 500 * time.Millisecond
	confirmWindow = 60 * time.Second
)

// State tracks where a swap attempt is in its lifecycle.
type State string

const (
	StateQuoting    State = "quoting"
	StateBuilding   State = "building"
	StateSubmitting State = "submitting"
	StateConfirming State = "confirming"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Direction of the swap relative to SOL.
type Direction string

const (
	DirectionBuy  Direction = "buy"  // SOL in, token out
	DirectionSell Direction = "sell" // token in, SOL out
)

// Order is one swap request. AmountIn is lamports for a buy and token base
// units for a sell.
type Order struct {
	Mint            solana.PublicKey
	Direction       Direction
	AmountIn        uint64
	SlippagePercent float64
}

// Result is the realized trade handed to the position tracker.
type Result struct {
	Signature  solana.Signature
	Mint       solana.PublicKey
	Direction  Direction
	AmountIn   uint64
	AmountOut  uint64 // quoted output in destination base units
	Price      float64
	Kind       venue.Kind
	ExecutedAt time.Time
}

// TradeListener receives confirmed trades. Notification is synchronous so a
// returned swap already has its position recorded.
type TradeListener interface {
	OnTrade(ctx context.Context, result *Result) error
}

// BundleSubmitter submits a serialized transaction through a block engine.
type BundleSubmitter interface {
	SendTransaction(ctx context.Context, base64Tx string) (string, error)
}

// Consumer-side views of the collaborating services, narrow enough for
// tests to stub.
type (
	chainBackend interface {
		AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*chain.Account, error)
		TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error)
		SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
		SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	}

	blockhashSource interface {
		Get(ctx context.Context) (blockhash.Snapshot, error)
	}

	venueSource interface {
		Resolve(ctx context.Context, mintA, mintB solana.PublicKey) (*venue.Accounts, error)
		Invalidate(mintA, mintB solana.PublicKey)
	}

	tokenClassifier interface {
		Classify(ctx context.Context, mint solana.PublicKey) (venue.Classification, error)
	}

	feeSource interface {
		PriorityFee(ctx context.Context) uint64
		Tip(ctx context.Context, priorityFee uint64) uint64
		TipAccount() solana.PublicKey
	}
)

// Config bounds the orchestrator's execution parameters.
type Config struct {
	ComputeUnits uint32
	Retries      int
}

// Orchestrator drives a swap from quote to confirmed trade: classify the
// token, quote against the live venue, build and sign the transaction,
// submit through the block engine or the RPC pool, confirm, and hand the
// realized trade to the tracker.
type Orchestrator struct {
	wallet     *wallet.Wallet
	backend    chainBackend
	blockhash  blockhashSource
	venues     venueSource
	classifier tokenClassifier
	fees       feeSource
	bundler    BundleSubmitter // nil disables the bundle path
	tracker    TradeListener   // nil disables position handoff
	cfg        Config
	logger     *zap.Logger
}

func NewOrchestrator(
	w *wallet.Wallet,
	backend chainBackend,
	bh blockhashSource,
	venues venueSource,
	classifier tokenClassifier,
	fees feeSource,
	bundler BundleSubmitter,
	tracker TradeListener,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.ComputeUnits == 0 {
		cfg.ComputeUnits = 400_000
	}
	if cfg.Retries <= 0 || cfg.Retries > maxAttempts {
		cfg.Retries = maxAttempts
	}
	return &Orchestrator{
		wallet:     w,
		backend:    backend,
		blockhash:  bh,
		venues:     venues,
		classifier: classifier,
		fees:       fees,
		bundler:    bundler,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger.Named("swap"),
	}
}

// SetTracker installs the trade listener after construction. The tracker
// takes the orchestrator as its price source, so the two are wired in two
// steps.
func (o *Orchestrator) SetTracker(tracker TradeListener) {
	o.tracker = tracker
}

// Execute runs the swap state machine with a bounded retry loop. Only
// slippage-class failures re-enter quoting; everything else terminates
// immediately with a normalized error.
func (o *Orchestrator) Execute(ctx context.Context, order Order) (*Result, error) {
	if order.AmountIn == 0 {
		return nil, fmt.Errorf("%w: zero input amount", ErrInsufficientBalance)
	}

	logger := o.logger.With(
		zap.String("correlation_id", uuid.New().String()),
		zap.String("mint", order.Mint.String()),
		zap.String("direction", string(order.Direction)))

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retries; attempt++ {
		result, err := o.attempt(ctx, order, logger)
		if err == nil {
			logger.Info("Swap succeeded",
				zap.String("signature", result.Signature.String()),
				zap.Int("attempt", attempt))
			if o.tracker != nil {
				if trackErr := o.tracker.OnTrade(ctx, result); trackErr != nil {
					logger.Warn("Position handoff failed", zap.Error(trackErr))
				}
			}
			return result, nil
		}

		lastErr = Normalize(err)
		if !IsRetryable(lastErr) || attempt == o.cfg.Retries {
			break
		}

		logger.Warn("Retryable swap failure, re-quoting",
			zap.Int("attempt", attempt), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	logger.Error("Swap failed", zap.Error(lastErr))
	return nil, lastErr
}

// quote is everything needed to build the instruction for one attempt.
type quote struct {
	kind      venue.Kind
	amountOut uint64 // expected output before slippage bound
	price     float64

	// regular path
	accounts *venue.Accounts
	// curve path
	curveAccounts *curve.InstructionAccounts
}

func (o *Orchestrator) attempt(ctx context.Context, order Order, logger *zap.Logger) (*Result, error) {
	logger.Debug("Swap state", zap.String("state", string(StateQuoting)))
	q, err := o.quoteOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	logger.Debug("Swap state", zap.String("state", string(StateBuilding)),
		zap.Uint64("expected_out", q.amountOut))
	tx, err := o.buildTransaction(ctx, order, q)
	if err != nil {
		return nil, err
	}

	logger.Debug("Swap state", zap.String("state", string(StateSubmitting)))
	sig, err := o.submit(ctx, tx)
	if err != nil {
		return nil, err
	}

	logger.Debug("Swap state", zap.String("state", string(StateConfirming)),
		zap.String("signature", sig.String()))
	if err := o.confirm(ctx, sig); err != nil {
		// A venue that rejected the trade outright may have been replaced
		// on chain; force re-discovery for the next caller.
		if errors.Is(Normalize(err), ErrInvalidVenueState) && q.accounts != nil {
			o.venues.Invalidate(order.Mint, venue.WrappedSolMint)
		}
		return nil, err
	}

	return &Result{
		Signature:  sig,
		Mint:       order.Mint,
		Direction:  order.Direction,
		AmountIn:   order.AmountIn,
		AmountOut:  q.amountOut,
		Price:      q.price,
		Kind:       q.kind,
		ExecutedAt: time.Now(),
	}, nil
}

func (o *Orchestrator) quoteOrder(ctx context.Context, order Order) (*quote, error) {
	classification, err := o.classifier.Classify(ctx, order.Mint)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", order.Mint, err)
	}

	if classification.Kind == venue.KindBondingCurve {
		q, err := o.quoteCurve(ctx, order)
		if !errors.Is(err, curve.ErrCurveComplete) {
			return q, err
		}
		// The curve graduated since classification; fall through to the
		// regular venue for this and subsequent swaps.
		o.logger.Info("Bonding curve completed, routing through regular venue",
			zap.String("mint", order.Mint.String()))
		classification.Kind = venue.KindMigratedBondingCurve
	}

	return o.quoteRegular(ctx, order, classification.Kind)
}

func (o *Orchestrator) quoteCurve(ctx context.Context, order Order) (*quote, error) {
	stateAddr, err := curve.StateAddress(order.Mint)
	if err != nil {
		return nil, err
	}
	account, err := o.backend.AccountInfo(ctx, stateAddr)
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: bonding curve state missing for %s", ErrInvalidVenueState, order.Mint)
		}
		return nil, err
	}
	state, err := curve.DecodeState(account.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVenueState, err)
	}

	var out uint64
	switch order.Direction {
	case DirectionBuy:
		out, err = state.TokensForSol(order.AmountIn)
	case DirectionSell:
		out, err = state.SolForTokens(order.AmountIn)
	default:
		return nil, fmt.Errorf("unknown direction %q", order.Direction)
	}
	if err != nil {
		return nil, err
	}
	if out == 0 {
		return nil, fmt.Errorf("%w: zero quote", ErrInvalidVenueState)
	}

	price, err := state.Price()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVenueState, err)
	}

	accounts, err := curve.ResolveAccounts(order.Mint, o.wallet.PublicKey)
	if err != nil {
		return nil, err
	}

	return &quote{
		kind:          venue.KindBondingCurve,
		amountOut:     out,
		price:         price,
		curveAccounts: accounts,
	}, nil
}

func (o *Orchestrator) quoteRegular(ctx context.Context, order Order, kind venue.Kind) (*quote, error) {
	accounts, err := o.venues.Resolve(ctx, order.Mint, venue.WrappedSolMint)
	if err != nil {
		return nil, err
	}

	baseBalance, _, err := o.backend.TokenBalance(ctx, accounts.BaseVault)
	if err != nil {
		return nil, fmt.Errorf("base vault balance: %w", err)
	}
	quoteBalance, _, err := o.backend.TokenBalance(ctx, accounts.QuoteVault)
	if err != nil {
		return nil, fmt.Errorf("quote vault balance: %w", err)
	}

	// The pool does not guarantee which side holds SOL.
	solIsBase := accounts.BaseMint.Equals(venue.WrappedSolMint)

	var inReserve, outReserve uint64
	if (order.Direction == DirectionBuy) == solIsBase {
		inReserve, outReserve = baseBalance, quoteBalance
	} else {
		inReserve, outReserve = quoteBalance, baseBalance
	}

	out, err := amm.Quote(order.AmountIn, inReserve, outReserve)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVenueState, err)
	}
	if out == 0 {
		return nil, fmt.Errorf("%w: zero quote", ErrInvalidVenueState)
	}

	var price float64
	if solIsBase {
		price, err = amm.EstimatePrice(quoteBalance, baseBalance, accounts.QuoteDecimals, accounts.BaseDecimals)
	} else {
		price, err = amm.EstimatePrice(baseBalance, quoteBalance, accounts.BaseDecimals, accounts.QuoteDecimals)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVenueState, err)
	}

	return &quote{
		kind:      kind,
		amountOut: out,
		price:     price,
		accounts:  accounts,
	}, nil
}

func (o *Orchestrator) buildTransaction(ctx context.Context, order Order, q *quote) (*solana.Transaction, error) {
	priorityFee := o.fees.PriorityFee(ctx)

	instructions := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(o.cfg.ComputeUnits).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build(),
	}

	if o.bundler != nil {
		tip := o.fees.Tip(ctx, priorityFee)
		tipAccount := o.fees.TipAccount()
		instructions = append(instructions,
			system.NewTransferInstruction(tip, o.wallet.PublicKey, tipAccount).Build())
	}

	if order.Direction == DirectionBuy {
		// The destination token account may not exist yet.
		createATA, err := o.wallet.CreateATAIdempotentInstruction(order.Mint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, createATA)
	}

	swapIx, err := o.buildSwapInstruction(order, q)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, swapIx)

	snapshot, err := o.blockhash.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaleBlockhash, err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		snapshot.Hash,
		solana.TransactionPayer(o.wallet.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if err := o.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

func (o *Orchestrator) buildSwapInstruction(order Order, q *quote) (solana.Instruction, error) {
	bound := slippageBound(q.amountOut, order.SlippagePercent)

	if q.curveAccounts != nil {
		switch order.Direction {
		case DirectionBuy:
			// Buy encodes the token amount and the SOL ceiling.
			maxCost := slippageCeiling(order.AmountIn, order.SlippagePercent)
			return curve.BuildBuyInstruction(q.curveAccounts, bound, maxCost)
		case DirectionSell:
			return curve.BuildSellInstruction(q.curveAccounts, order.AmountIn, bound)
		}
		return nil, fmt.Errorf("unknown direction %q", order.Direction)
	}

	userATA, err := o.wallet.ATA(order.Mint)
	if err != nil {
		return nil, err
	}
	wsolATA, err := o.wallet.ATA(venue.WrappedSolMint)
	if err != nil {
		return nil, err
	}

	source, destination := wsolATA, userATA
	if order.Direction == DirectionSell {
		source, destination = userATA, wsolATA
	}

	return amm.BuildSwapInstruction(&amm.SwapParams{
		Venue:           q.accounts,
		UserSource:      source,
		UserDestination: destination,
		UserOwner:       o.wallet.PublicKey,
		AmountIn:        order.AmountIn,
		MinimumOut:      bound,
	})
}

func (o *Orchestrator) submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if o.bundler != nil {
		serialized, err := tx.MarshalBinary()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("serialize transaction: %w", err)
		}
		if _, err := o.bundler.SendTransaction(ctx, base64.StdEncoding.EncodeToString(serialized)); err != nil {
			return solana.Signature{}, err
		}
		return tx.Signatures[0], nil
	}
	return o.backend.SendTransaction(ctx, tx)
}

// confirm polls signature status until the transaction confirms or the
// window expires.
func (o *Orchestrator) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(confirmWindow)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(confirmPoll):
		}

		status, err := o.backend.SignatureStatus(ctx, sig)
		if err != nil || status == nil {
			continue
		}
		if status.Err != nil {
			return fmt.Errorf("transaction failed: %v", status.Err)
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return nil
		}
	}
	return fmt.Errorf("%w: confirmation window expired", ErrStaleBlockhash)
}

// Price returns the live spot price in SOL per whole token, routed by the
// token's classification. Serves the position tracker's price lookups.
func (o *Orchestrator) Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	classification, err := o.classifier.Classify(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}

	if classification.Kind == venue.KindBondingCurve {
		stateAddr, err := curve.StateAddress(mint)
		if err != nil {
			return decimal.Zero, err
		}
		account, err := o.backend.AccountInfo(ctx, stateAddr)
		if err != nil {
			return decimal.Zero, err
		}
		state, err := curve.DecodeState(account.Data)
		if err != nil {
			return decimal.Zero, err
		}
		if !state.Complete {
			price, err := state.Price()
			if err != nil {
				return decimal.Zero, err
			}
			return decimal.NewFromFloat(price), nil
		}
		// Graduated since classification; fall through to the regular venue.
	}

	accounts, err := o.venues.Resolve(ctx, mint, venue.WrappedSolMint)
	if err != nil {
		return decimal.Zero, err
	}
	baseBalance, _, err := o.backend.TokenBalance(ctx, accounts.BaseVault)
	if err != nil {
		return decimal.Zero, err
	}
	quoteBalance, _, err := o.backend.TokenBalance(ctx, accounts.QuoteVault)
	if err != nil {
		return decimal.Zero, err
	}

	var price float64
	if accounts.BaseMint.Equals(venue.WrappedSolMint) {
		price, err = amm.EstimatePrice(quoteBalance, baseBalance, accounts.QuoteDecimals, accounts.BaseDecimals)
	} else {
		price, err = amm.EstimatePrice(baseBalance, quoteBalance, accounts.BaseDecimals, accounts.QuoteDecimals)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(price), nil
}

// slippageBound shrinks an expected output by the tolerance.
func slippageBound(amount uint64, percent float64) uint64 {
	if percent <= 0 {
		return amount
	}
	bound := float64(amount) * (1 - percent/100)
	if bound < 0 {
		return 0
	}
	return uint64(math.Floor(bound))
}

// slippageCeiling grows a cost limit by the tolerance.
func slippageCeiling(amount uint64, percent float64) uint64 {
	if percent <= 0 {
		return amount
	}
	return uint64(math.Ceil(float64(amount) * (1 + percent/100)))
}
