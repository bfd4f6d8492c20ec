// internal/venue/classify.go
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-swap-agent/internal/chain"
	"solana-swap-agent/internal/dex/curve"
)

// Classifier decides which builder path a token takes. Unclassified tokens
// are probed once (the bonding-curve derived address), the result cached for
// 24h, so repeat swaps skip the probe.
type Classifier struct {
	reader chain.Reader
	cache  *ClassificationCache
	logger *zap.Logger
}

func NewClassifier(reader chain.Reader, cache *ClassificationCache, logger *zap.Logger) *Classifier {
	return &Classifier{
		reader: reader,
		cache:  cache,
		logger: logger.Named("classifier"),
	}
}

// Classify returns the token's classification, probing the ledger on a
// cache miss.
func (c *Classifier) Classify(ctx context.Context, mint solana.PublicKey) (Classification, error) {
	if entry, ok := c.cache.Get(mint); ok {
		return entry, nil
	}

	entry, err := c.probe(ctx, mint)
	if err != nil {
		return Classification{}, err
	}
	c.cache.Set(entry)

	c.logger.Debug("Classified token",
		zap.String("mint", mint.String()),
		zap.String("kind", string(entry.Kind)),
		zap.Bool("has_alternate_venue", entry.HasAlternateVenue))
	return entry, nil
}

// probe inspects the bonding-curve derived address for the mint. A missing
// curve account means a regular token; a live curve means bonding-curve
// routing; a completed curve means the token migrated to a regular venue.
func (c *Classifier) probe(ctx context.Context, mint solana.PublicKey) (Classification, error) {
	entry := Classification{
		Mint:       mint,
		Kind:       KindRegular,
		ObservedAt: time.Now(),
	}

	stateAddr, err := curve.StateAddress(mint)
	if err != nil {
		return Classification{}, err
	}

	account, err := c.reader.AccountInfo(ctx, stateAddr)
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return entry, nil
		}
		return Classification{}, err
	}
	if !account.Owner.Equals(curve.ProgramID) {
		// A derived address squatted by another program is not a curve.
		return entry, nil
	}

	state, err := curve.DecodeState(account.Data)
	if err != nil {
		c.logger.Warn("Undecodable bonding-curve state, treating token as regular",
			zap.String("mint", mint.String()), zap.Error(err))
		return entry, nil
	}

	if state.Complete {
		entry.Kind = KindMigratedBondingCurve
		entry.HasAlternateVenue = true
	} else {
		entry.Kind = KindBondingCurve
	}
	return entry, nil
}
