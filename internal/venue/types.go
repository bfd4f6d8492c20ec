// internal/venue/types.go
package venue

import (
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Program IDs
var (
	AmmV4ProgramID     = solana.MPK("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	AmmAuthority       = solana.MPK("5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1")
	OpenBookProgramID  = solana.MPK("srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX")
	WrappedSolMint     = solana.MPK("So11111111111111111111111111111111111111112")
)

// AMM v4 pool account layout
const (
	AmmStateSize = 752

	BaseDecimalOffset   = 32
	QuoteDecimalOffset  = 40
	BaseVaultOffset     = 336
	QuoteVaultOffset    = 368
	BaseMintOffset      = 400
	QuoteMintOffset     = 432
	OpenOrdersOffset    = 496
	MarketIDOffset      = 528
	MarketProgramOffset = 560
	TargetOrdersOffset  = 592
)

// OpenBook/Serum market account layout (v3)
const (
	MarketStateSize = 388

	MarketOwnAddressOffset  = 13
	MarketVaultNonceOffset  = 45
	MarketBaseVaultOffset   = 117
	MarketQuoteVaultOffset  = 165
	MarketEventQueueOffset  = 253
	MarketBidsOffset        = 285
	MarketAsksOffset        = 317
)

// Accounts is the immutable set of on-chain addresses identifying one AMM
// venue, including the paired order-book market. Re-discovery replaces it
// wholesale; it is never mutated.
type Accounts struct {
	AmmID           solana.PublicKey `json:"amm_id"`
	AmmAuthority    solana.PublicKey `json:"amm_authority"`
	AmmOpenOrders   solana.PublicKey `json:"amm_open_orders"`
	AmmTargetOrders solana.PublicKey `json:"amm_target_orders"`

	BaseMint      solana.PublicKey `json:"base_mint"`
	QuoteMint     solana.PublicKey `json:"quote_mint"`
	BaseVault     solana.PublicKey `json:"base_vault"`
	QuoteVault    solana.PublicKey `json:"quote_vault"`
	BaseDecimals  uint8            `json:"base_decimals"`
	QuoteDecimals uint8            `json:"quote_decimals"`

	MarketProgram     solana.PublicKey `json:"market_program"`
	MarketID          solana.PublicKey `json:"market_id"`
	MarketBids        solana.PublicKey `json:"market_bids"`
	MarketAsks        solana.PublicKey `json:"market_asks"`
	MarketEventQueue  solana.PublicKey `json:"market_event_queue"`
	MarketBaseVault   solana.PublicKey `json:"market_base_vault"`
	MarketQuoteVault  solana.PublicKey `json:"market_quote_vault"`
	MarketVaultSigner solana.PublicKey `json:"market_vault_signer"`
}

// Valid reports whether every required address is populated.
func (a *Accounts) Valid() bool {
	return !a.AmmID.IsZero() &&
		!a.AmmAuthority.IsZero() &&
		!a.AmmOpenOrders.IsZero() &&
		!a.BaseMint.IsZero() &&
		!a.QuoteMint.IsZero() &&
		!a.BaseVault.IsZero() &&
		!a.QuoteVault.IsZero() &&
		!a.MarketID.IsZero() &&
		!a.MarketBids.IsZero() &&
		!a.MarketAsks.IsZero() &&
		!a.MarketEventQueue.IsZero() &&
		!a.MarketVaultSigner.IsZero()
}

// PairKey is the identity key for a venue: the sorted mint pair, so lookups
// succeed regardless of which mint the caller puts first.
func PairKey(mintA, mintB solana.PublicKey) string {
	a, b := mintA.String(), mintB.String()
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "-" + b
}

// Kind classifies how a token is traded.
type Kind string

const (
	KindRegular              Kind = "regular"
	KindBondingCurve         Kind = "bonding_curve"
	KindMigratedBondingCurve Kind = "migrated_bonding_curve"
)

// Classification records which builder path a token takes. Entries expire
// after 24h; a MigratedBondingCurve token must always route through the
// regular constant-product path.
type Classification struct {
	Mint              solana.PublicKey `json:"mint"`
	Kind              Kind             `json:"kind"`
	ObservedAt        time.Time        `json:"observed_at"`
	HasAlternateVenue bool             `json:"has_alternate_venue"`
}

// Expired reports whether the entry is older than the classification TTL.
func (c Classification) Expired(now time.Time) bool {
	return now.Sub(c.ObservedAt) > ClassificationTTL
}

// ClassificationTTL bounds how long a probe result is trusted: bonding-curve
// tokens migrate, so stale classifications would route swaps to a dead curve.
const ClassificationTTL = 24 * time.Hour
