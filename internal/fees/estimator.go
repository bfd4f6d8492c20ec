// internal/fees/estimator.go
package fees

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-swap-agent/internal/config"
	"solana-swap-agent/internal/jito"
)

const (
	// DefaultPriorityFee is used when auto estimation fails: high enough to
	// land during ordinary congestion, in micro-lamports per compute unit.
	DefaultPriorityFee = 100_000

	// MinTipLamports is the smallest tip block engines accept.
	MinTipLamports = 1_000

	// tipPriorityRatio floors the tip relative to the expected priority-fee
	// spend so the tip never becomes negligible next to the fee.
	tipPriorityRatio = 0.3

	lamportsPerSol = 1e9

	estimatorTimeout = 5 * time.Second
)

// TipFeed supplies the live landed-tip distribution.
type TipFeed interface {
	TipFloor(ctx context.Context) (*jito.TipPercentiles, error)
}

// Estimator resolves the priority fee and block-engine tip for a swap,
// either from fixed configuration or from live feeds with conservative
// fallbacks. A feed outage degrades the estimate, never the swap.
type Estimator struct {
	cfg        config.FeeConfig
	feed       TipFeed
	httpClient *http.Client
	logger     *zap.Logger

	tipAccounts []solana.PublicKey
}

func NewEstimator(cfg config.FeeConfig, feed TipFeed, logger *zap.Logger) *Estimator {
	return &Estimator{
		cfg:         cfg,
		feed:        feed,
		httpClient:  &http.Client{Timeout: estimatorTimeout},
		logger:      logger.Named("fees"),
		tipAccounts: jito.TipAccounts,
	}
}

// PriorityFee returns the compute-unit price in micro-lamports. With auto
// estimation disabled the configured fixed value is used; otherwise the
// estimator provider is queried and failures fall back to a safe default.
func (e *Estimator) PriorityFee(ctx context.Context) uint64 {
	if !e.cfg.UseAutoPriorityFee {
		return e.cfg.FixedPriorityFee
	}

	fee, err := e.fetchPriorityFee(ctx)
	if err != nil {
		e.logger.Warn("Priority fee estimation failed, using default",
			zap.Uint64("default", uint64(DefaultPriorityFee)),
			zap.Error(err))
		return DefaultPriorityFee
	}

	e.logger.Debug("Estimated priority fee",
		zap.Uint64("micro_lamports", fee),
		zap.String("level", e.cfg.PriorityLevel))
	return fee
}

type estimateRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type estimateResponse struct {
	Result *struct {
		PriorityFeeEstimate float64 `json:"priorityFeeEstimate"`
	} `json:"result,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *Estimator) fetchPriorityFee(ctx context.Context) (uint64, error) {
	if e.cfg.EstimatorURL == "" {
		return 0, fmt.Errorf("fees: no estimator URL configured")
	}

	req := estimateRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getPriorityFeeEstimate",
		Params: []any{
			map[string]any{
				"options": map[string]any{
					"priorityLevel": e.cfg.PriorityLevel,
				},
			},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("fees: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.EstimatorURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("fees: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("fees: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("fees: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fees: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var estResp estimateResponse
	if err := json.Unmarshal(respBody, &estResp); err != nil {
		return 0, fmt.Errorf("fees: parse response: %w", err)
	}
	if estResp.Error != nil {
		return 0, fmt.Errorf("fees: estimator error %d: %s", estResp.Error.Code, estResp.Error.Message)
	}
	if estResp.Result == nil || estResp.Result.PriorityFeeEstimate <= 0 {
		return 0, fmt.Errorf("fees: empty estimate")
	}
	return uint64(estResp.Result.PriorityFeeEstimate), nil
}

// Tip returns the block-engine tip in lamports. A fixed tip is floored to
// the engine minimum. Auto tips pick a percentile by aggressiveness tier
// from the live feed, then are floored against a fraction of the priority
// fee; feed failure degrades to that floor alone.
func (e *Estimator) Tip(ctx context.Context, priorityFee uint64) uint64 {
	floor := max(uint64(float64(priorityFee)*tipPriorityRatio), MinTipLamports)

	if !e.cfg.UseAutoTip {
		return max(e.cfg.FixedTip, MinTipLamports)
	}

	percentiles, err := e.feed.TipFloor(ctx)
	if err != nil {
		e.logger.Warn("Tip feed unavailable, using priority-derived floor",
			zap.Uint64("floor", floor), zap.Error(err))
		return floor
	}

	var sol float64
	switch e.cfg.TipAggressiveness {
	case config.TipLow:
		sol = percentiles.P25
	case config.TipHigh:
		sol = percentiles.P95
	default:
		sol = percentiles.P75
	}

	tip := max(uint64(sol*lamportsPerSol), floor)
	e.logger.Debug("Estimated tip",
		zap.Uint64("lamports", tip),
		zap.String("aggressiveness", e.cfg.TipAggressiveness))
	return tip
}

// TipAccount picks a tip recipient uniformly at random. The shared rand
// source is used because swaps call this concurrently.
func (e *Estimator) TipAccount() solana.PublicKey {
	return e.tipAccounts[rand.Intn(len(e.tipAccounts))]
}
