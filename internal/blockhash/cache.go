// internal/blockhash/cache.go
package blockhash

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshInterval = 20 * time.Second

	// validityThreshold is how long a snapshot is considered fresh. A
	// blockhash older than this is likely to be rejected by validators.
	validityThreshold = 30 * time.Second

	fetchRetries    = 3
	fetchRetryDelay = 500 * time.Millisecond
)

// ErrNoBlockhash is returned only when no snapshot has ever been obtained.
var ErrNoBlockhash = errors.New("blockhash: no snapshot available")

// Snapshot is one cached recent blockhash.
type Snapshot struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// Fresh reports whether the snapshot is still usable at now.
func (s Snapshot) Fresh(now time.Time) bool {
	return !s.FetchedAt.IsZero() && now.Sub(s.FetchedAt) < validityThreshold
}

// ConnectionSource yields an RPC client, typically the rpcpool.
type ConnectionSource interface {
	Get() *rpc.Client
	Commitment() rpc.CommitmentType
}

// Cache keeps a recent blockhash warm so transaction staging never waits on
// an RPC round-trip. Concurrent refreshes are deduplicated; a refresh that
// fails after retries degrades to the previous snapshot with a warning
// rather than failing the caller.
type Cache struct {
	source ConnectionSource
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	group     singleflight.Group
	fetch     func(ctx context.Context) (Snapshot, error)
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCache creates the cache. Call Start to prime it and begin periodic
// refresh.
func NewCache(source ConnectionSource, logger *zap.Logger) *Cache {
	c := &Cache{
		source: source,
		logger: logger.Named("blockhash"),
		stopCh: make(chan struct{}),
	}
	c.fetch = c.fetchOnce
	return c
}

// Start primes the cache immediately and refreshes every 20s thereafter.
func (c *Cache) Start(ctx context.Context) {
	if _, err := c.refresh(ctx); err != nil {
		c.logger.Warn("Initial blockhash fetch failed", zap.Error(err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if _, err := c.refresh(ctx); err != nil {
					c.logger.Warn("Periodic blockhash refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Get returns a fresh snapshot, joining an in-flight refresh when the cached
// value has gone stale. It fails only if no blockhash was ever obtained.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()

	if snap.Fresh(time.Now()) {
		return snap, nil
	}

	return c.refresh(ctx)
}

// Close stops the periodic refresh. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// refresh deduplicates concurrent refresh requests: every caller that
// arrives while a fetch is in flight receives the same result.
func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		snap, err := c.fetchWithRetry(ctx)
		if err != nil {
			// Stale fallback: proposing a slightly old hash beats
			// proposing none at all during provider hiccups.
			c.mu.RLock()
			prev := c.snapshot
			c.mu.RUnlock()
			if !prev.FetchedAt.IsZero() {
				c.logger.Warn("Blockhash refresh failed, serving stale snapshot",
					zap.Duration("age", time.Since(prev.FetchedAt)),
					zap.Error(err))
				return prev, nil
			}
			return Snapshot{}, errors.Join(ErrNoBlockhash, err)
		}

		c.mu.Lock()
		// Discard the result if a newer value was cached meanwhile.
		if snap.FetchedAt.After(c.snapshot.FetchedAt) {
			c.snapshot = snap
		} else {
			snap = c.snapshot
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (c *Cache) fetchWithRetry(ctx context.Context) (Snapshot, error) {
	operation := func() (Snapshot, error) {
		return c.fetch(ctx)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(fetchRetryDelay)),
		backoff.WithMaxTries(fetchRetries))
}

func (c *Cache) fetchOnce(ctx context.Context) (Snapshot, error) {
	result, err := c.source.Get().GetLatestBlockhash(ctx, c.source.Commitment())
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}, nil
}
