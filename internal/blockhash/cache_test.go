package blockhash

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct{}

func (stubSource) Get() *rpc.Client               { return rpc.New("http://127.0.0.1:18899") }
func (stubSource) Commitment() rpc.CommitmentType { return rpc.CommitmentConfirmed }

func testHash(b byte) solana.Hash {
	var h solana.Hash
	h[0] = b
	return h
}

func newTestCache() *Cache {
	return NewCache(stubSource{}, zap.NewNop())
}

func TestGetServesCachedWhileFresh(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		calls.Add(1)
		return Snapshot{Hash: testHash(1), LastValidBlockHeight: 100, FetchedAt: time.Now()}, nil
	}

	first, err := c.Get(context.Background())
	require.NoError(t, err)

	second, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, int32(1), calls.Load(), "fresh snapshot must not trigger a refetch")
}

func TestStaleSnapshotTriggersSingleRefresh(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	release := make(chan struct{})
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		calls.Add(1)
		<-release
		return Snapshot{Hash: testHash(2), LastValidBlockHeight: 200, FetchedAt: time.Now()}, nil
	}

	// Seed a stale snapshot.
	c.mu.Lock()
	c.snapshot = Snapshot{Hash: testHash(1), FetchedAt: time.Now().Add(-time.Minute)}
	c.mu.Unlock()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.Get(context.Background())
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one in-flight refresh")
	for _, snap := range results {
		assert.Equal(t, testHash(2), snap.Hash)
	}
}

func TestRefreshRetriesOnTransientFailure(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		if calls.Add(1) < 3 {
			return Snapshot{}, errors.New("429 too many requests")
		}
		return Snapshot{Hash: testHash(3), FetchedAt: time.Now()}, nil
	}

	snap, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testHash(3), snap.Hash)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesFallBackToStale(t *testing.T) {
	c := newTestCache()
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("rpc unavailable")
	}

	stale := Snapshot{Hash: testHash(7), LastValidBlockHeight: 700, FetchedAt: time.Now().Add(-2 * time.Minute)}
	c.mu.Lock()
	c.snapshot = stale
	c.mu.Unlock()

	snap, err := c.Get(context.Background())
	require.NoError(t, err, "a prior snapshot must be served instead of an error")
	assert.Equal(t, stale.Hash, snap.Hash)
}

func TestFailsOnlyWhenNothingEverFetched(t *testing.T) {
	c := newTestCache()
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		return Snapshot{}, errors.New("rpc unavailable")
	}

	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBlockhash)
}

func TestCloseIdempotent(t *testing.T) {
	c := newTestCache()
	c.fetch = func(ctx context.Context) (Snapshot, error) {
		return Snapshot{Hash: testHash(1), FetchedAt: time.Now()}, nil
	}
	c.Start(context.Background())
	c.Close()
	c.Close()
}
