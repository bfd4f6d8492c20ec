// internal/rpcpool/pool.go
package rpcpool

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	healthCheckInterval = 30 * time.Second
	probeTimeout        = 5 * time.Second

	// failureThreshold is how many consecutive probe failures flip an
	// endpoint unhealthy. A single success flips it back.
	failureThreshold = 3
)

// Endpoint is one RPC node handle with its health state.
type Endpoint struct {
	URL    string
	Client *rpc.Client

	mu                  sync.RWMutex
	healthy             bool
	consecutiveFailures int
	latency             time.Duration
}

// Healthy reports whether the endpoint is currently usable.
func (e *Endpoint) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// Latency returns the last measured probe latency.
func (e *Endpoint) Latency() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latency
}

func (e *Endpoint) markSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.healthy = true
	e.latency = latency
}

func (e *Endpoint) markFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	if e.consecutiveFailures >= failureThreshold {
		e.healthy = false
	}
}

func (e *Endpoint) resetHealth() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.healthy = true
}

// Pool maintains a set of RPC endpoints with background health probing and
// round-robin-with-failover selection. Get never blocks: when every endpoint
// looks unhealthy the health state is reset and a best-effort handle is
// returned anyway.
type Pool struct {
	endpoints  []*Endpoint
	commitment rpc.CommitmentType
	logger     *zap.Logger

	mu       sync.Mutex
	currIdx  int
	lastGood *Endpoint

	probe     func(ctx context.Context, e *Endpoint) error
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a pool from the primary endpoint followed by fallbacks.
func New(rpcURLs []string, commitment rpc.CommitmentType, logger *zap.Logger) (*Pool, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	var endpoints []*Endpoint
	for _, urlStr := range rpcURLs {
		if _, err := url.Parse(urlStr); err != nil {
			logger.Warn("Invalid RPC URL", zap.String("url", urlStr), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, &Endpoint{
			URL:     urlStr,
			Client:  rpc.New(urlStr),
			healthy: true,
		})
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no valid RPC URLs provided")
	}

	p := &Pool{
		endpoints:  endpoints,
		commitment: commitment,
		logger:     logger.Named("rpc_pool"),
		currIdx:    -1,
		stopCh:     make(chan struct{}),
	}
	p.probe = p.probeBlockhash
	return p, nil
}

// Start launches the periodic health probes. It probes once immediately.
func (p *Pool) Start(ctx context.Context) {
	p.probeAll(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probeAll(ctx)
			}
		}
	}()
}

// Get returns a best-effort RPC client, preferring healthy endpoints in
// round-robin order.
func (p *Pool) Get() *rpc.Client {
	return p.GetEndpoint().Client
}

// GetEndpoint returns the next endpoint to use. Selection walks one full
// round-robin pass over healthy endpoints; if none is healthy all health
// flags are reset (self-healing against false negatives) and the last
// known-good endpoint, or the first configured one, is returned.
func (p *Pool) GetEndpoint() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	for i := 1; i <= n; i++ {
		idx := (p.currIdx + i) % n
		if p.endpoints[idx].Healthy() {
			p.currIdx = idx
			p.lastGood = p.endpoints[idx]
			return p.endpoints[idx]
		}
	}

	p.logger.Warn("All RPC endpoints unhealthy, resetting health state")
	for _, e := range p.endpoints {
		e.resetHealth()
	}

	if p.lastGood != nil {
		return p.lastGood
	}
	return p.endpoints[0]
}

// Endpoints exposes the configured endpoints, for diagnostics.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// Commitment returns the commitment level the pool was configured with.
func (p *Pool) Commitment() rpc.CommitmentType {
	return p.commitment
}

// Close stops the health probes. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Pool) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range p.endpoints {
		wg.Add(1)
		go func(e *Endpoint) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			if err := p.probe(probeCtx, e); err != nil {
				e.markFailure()
				p.logger.Debug("RPC health probe failed",
					zap.String("url", e.URL),
					zap.Bool("healthy", e.Healthy()),
					zap.Error(err))
				return
			}
			e.markSuccess(time.Since(start))
		}(e)
	}
	wg.Wait()
}

func (p *Pool) probeBlockhash(ctx context.Context, e *Endpoint) error {
	_, err := e.Client.GetLatestBlockhash(ctx, p.commitment)
	return err
}
