// internal/jito/client.go
package jito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Known block-engine tip accounts (mainnet). Payments are spread across
// them to avoid hot-spotting a single account's write lock.
var TipAccounts = []solana.PublicKey{
	solana.MPK("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MPK("HFqU5x63VTqvQss8hp11i4bVqkfRtQ7NmXwkiY8X9W5E"),
	solana.MPK("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MPK("ADaUMid9yfUytqMBgopwjb2DTLSLuiv3Jhqzsg1dbE7B"),
	solana.MPK("DfXygSm4jCyNCzbzYYR18MFJkvDVwVS7s3d7rZmLhRDd"),
	solana.MPK("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MPK("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MPK("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

const defaultTimeout = 5 * time.Second

// TipPercentiles is the live tip distribution from the tip-floor feed,
// denominated in SOL.
type TipPercentiles struct {
	P25 float64 `json:"landed_tips_25th_percentile"`
	P50 float64 `json:"landed_tips_50th_percentile"`
	P75 float64 `json:"landed_tips_75th_percentile"`
	P95 float64 `json:"landed_tips_95th_percentile"`
	P99 float64 `json:"landed_tips_99th_percentile"`
}

// Client talks to the block-engine HTTP endpoints: transaction submission
// with bundle-only semantics, and the read-only tip-floor feed.
type Client struct {
	submitURL  string
	tipFeedURL string
	httpClient *http.Client
	logger     *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

func NewClient(submitURL, tipFeedURL string, logger *zap.Logger) *Client {
	return &Client{
		submitURL:  submitURL,
		tipFeedURL: tipFeedURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.Named("jito"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SendTransaction submits a base64-serialized signed transaction through the
// block engine, bundle-only with preflight skipped. Returns the signature
// string the engine reports.
func (c *Client) SendTransaction(ctx context.Context, base64Tx string) (string, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params: []any{
			base64Tx,
			map[string]any{"encoding": "base64", "skipPreflight": true},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("jito: marshal request: %w", err)
	}

	url := c.submitURL + "?bundleOnly=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("jito: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.failed.Add(1)
		return "", fmt.Errorf("jito: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.failed.Add(1)
		return "", fmt.Errorf("jito: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.failed.Add(1)
		return "", fmt.Errorf("jito: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.failed.Add(1)
		return "", fmt.Errorf("jito: parse response: %w", err)
	}
	if rpcResp.Error != nil {
		c.failed.Add(1)
		return "", fmt.Errorf("jito: error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	c.sent.Add(1)
	c.logger.Debug("Transaction submitted via block engine",
		zap.String("signature", rpcResp.Result))
	return rpcResp.Result, nil
}

// TipFloor fetches the current landed-tip percentile distribution.
func (c *Client) TipFloor(ctx context.Context) (*TipPercentiles, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tipFeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jito: create tip feed request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jito: tip feed HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jito: read tip feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jito: tip feed HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	// The feed returns a single-element array.
	var entries []TipPercentiles
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, fmt.Errorf("jito: parse tip feed: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("jito: empty tip feed response")
	}
	return &entries[0], nil
}

// Stats reports submission counters.
func (c *Client) Stats() (sent, failed int64) {
	return c.sent.Load(), c.failed.Load()
}
