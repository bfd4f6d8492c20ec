// internal/chain/client.go
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"solana-swap-agent/internal/rpcpool"
)

const (
	maxAttempts = 3
	retryDelay  = 200 * time.Millisecond
)

// ErrAccountNotFound is returned when the queried account does not exist.
var ErrAccountNotFound = errors.New("chain: account not found")

// Account is the decoded content of one on-chain account.
type Account struct {
	Pubkey solana.PublicKey
	Owner  solana.PublicKey
	Data   []byte
}

// Reader is the ledger-query surface consumed by discovery, classification
// and the position tracker. *Client implements it.
type Reader interface {
	AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*Account, error)
	ScanProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]*Account, error)
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error)
}

// Client wraps the RPC pool with typed ledger queries and per-call failover:
// a failed call rotates to the next endpoint rather than retrying the same
// node.
type Client struct {
	pool   *rpcpool.Pool
	logger *zap.Logger
}

func NewClient(pool *rpcpool.Pool, logger *zap.Logger) *Client {
	return &Client{
		pool:   pool,
		logger: logger.Named("chain"),
	}
}

// withRetry runs op against successive pool endpoints.
func (c *Client) withRetry(ctx context.Context, op func(client *rpc.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := op(c.pool.Get()); err != nil {
			lastErr = err
			// Not-found is a definitive answer, not an endpoint fault.
			if errors.Is(err, ErrAccountNotFound) {
				return err
			}
			time.Sleep(retryDelay)
			continue
		}
		return nil
	}
	return fmt.Errorf("chain: all %d attempts failed: %w", maxAttempts, lastErr)
}

// AccountInfo fetches one account's owner and binary content.
func (c *Client) AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*Account, error) {
	var account *Account
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		result, err := client.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.pool.Commitment(),
		})
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				return ErrAccountNotFound
			}
			return err
		}
		if result == nil || result.Value == nil {
			return ErrAccountNotFound
		}
		account = &Account{
			Pubkey: pubkey,
			Owner:  result.Value.Owner,
			Data:   result.Value.Data.GetBinary(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ScanProgramAccounts runs a filtered getProgramAccounts scan.
func (c *Client) ScanProgramAccounts(ctx context.Context, program solana.PublicKey, filters []rpc.RPCFilter) ([]*Account, error) {
	var accounts []*Account
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		result, err := client.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
			Commitment: c.pool.Commitment(),
			Encoding:   solana.EncodingBase64,
			Filters:    filters,
		})
		if err != nil {
			return err
		}
		accounts = accounts[:0]
		for _, keyed := range result {
			if keyed == nil || keyed.Account == nil {
				continue
			}
			accounts = append(accounts, &Account{
				Pubkey: keyed.Pubkey,
				Owner:  keyed.Account.Owner,
				Data:   keyed.Account.Data.GetBinary(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// TokenBalance returns the raw amount and decimals of an SPL token account.
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	var (
		amount   uint64
		decimals uint8
	)
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		result, err := client.GetTokenAccountBalance(ctx, account, c.pool.Commitment())
		if err != nil {
			if strings.Contains(err.Error(), "could not find account") ||
				strings.Contains(err.Error(), "not found") {
				return ErrAccountNotFound
			}
			return err
		}
		if result == nil || result.Value == nil {
			return ErrAccountNotFound
		}
		amount, err = strconv.ParseUint(result.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("chain: malformed token amount %q: %w", result.Value.Amount, err)
		}
		decimals = result.Value.Decimals
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return amount, decimals, nil
}

// TokenAccounts lists the owner's SPL token accounts as mint -> raw amount.
func (c *Client) TokenAccounts(ctx context.Context, owner solana.PublicKey) (map[solana.PublicKey]uint64, error) {
	var balances map[solana.PublicKey]uint64
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		tokenProgram := solana.TokenProgramID
		result, err := client.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &tokenProgram},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
		)
		if err != nil {
			return err
		}
		balances = make(map[solana.PublicKey]uint64, len(result.Value))
		for _, keyed := range result.Value {
			data := keyed.Account.Data.GetBinary()
			// SPL token account layout: mint at 0, amount u64 at 64.
			if len(data) < 72 {
				continue
			}
			mint := solana.PublicKeyFromBytes(data[0:32])
			balances[mint] = binary.LittleEndian.Uint64(data[64:72])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// SendTransaction submits a signed transaction, skipping preflight.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		var err error
		sig, err = client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: c.pool.Commitment(),
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// SignatureStatus returns the confirmation status of sig, or nil while the
// ledger has not seen it yet.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	var status *rpc.SignatureStatusesResult
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		result, err := client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if result != nil && len(result.Value) > 0 {
			status = result.Value[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// BlockHeight returns the current block height at the pool's commitment.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, func(client *rpc.Client) error {
		var err error
		height, err = client.GetBlockHeight(ctx, c.pool.Commitment())
		return err
	})
	return height, err
}

var _ Reader = (*Client)(nil)
