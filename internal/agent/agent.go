// internal/agent/agent.go
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"solana-swap-agent/internal/blockhash"
	"solana-swap-agent/internal/chain"
	"solana-swap-agent/internal/config"
	"solana-swap-agent/internal/fees"
	"solana-swap-agent/internal/jito"
	"solana-swap-agent/internal/logger"
	"solana-swap-agent/internal/position"
	"solana-swap-agent/internal/rpcpool"
	"solana-swap-agent/internal/swap"
	"solana-swap-agent/internal/venue"
	"solana-swap-agent/internal/wallet"
)

// Agent owns the long-running services and wires them into the swap
// orchestrator and position tracker. Construction is eager: a misconfigured
// service fails startup instead of the first swap.
type Agent struct {
	cfg    *config.Config
	log    *logger.Logger
	zlog   *zap.Logger
	wallet *wallet.Wallet

	pool      *rpcpool.Pool
	blockhash *blockhash.Cache
	chain     *chain.Client
	wsClient  *ws.Client

	orchestrator *swap.Orchestrator
	tracker      *position.Tracker

	closeOnce sync.Once
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("agent: logger: %w", err)
	}
	zlog := log.WithComponent("agent")

	w, err := wallet.New(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("agent: wallet: %w", err)
	}
	zlog.Info("Wallet loaded", zap.String("address", w.String()))

	commitment := rpc.CommitmentType(cfg.Commitment)
	pool, err := rpcpool.New(cfg.RPCList, commitment, zlog)
	if err != nil {
		return nil, fmt.Errorf("agent: connection pool: %w", err)
	}

	bhCache := blockhash.NewCache(pool, zlog)
	chainClient := chain.NewClient(pool, zlog)

	venueCache := venue.NewCache(filepath.Join(cfg.DataDir, "venues.json"), zlog)
	classificationCache := venue.NewClassificationCache(filepath.Join(cfg.DataDir, "classifications.json"), zlog)
	resolver := venue.NewResolver(venueCache, venue.NewDiscovery(chainClient, zlog), zlog)
	classifier := venue.NewClassifier(chainClient, classificationCache, zlog)

	var bundler swap.BundleSubmitter
	var tipFeed fees.TipFeed
	if cfg.Bundle.Enabled {
		jitoClient := jito.NewClient(cfg.Bundle.URL, cfg.Bundle.TipFeedURL, zlog)
		bundler = jitoClient
		tipFeed = jitoClient
	} else {
		tipFeed = unavailableTipFeed{}
	}
	estimator := fees.NewEstimator(cfg.Fees, tipFeed, zlog)

	store := position.NewStore(filepath.Join(cfg.DataDir, "positions.json"), zlog)

	var wsClient *ws.Client
	var subscriber position.AccountSubscriber
	if cfg.WebSocketURL != "" {
		wsClient, err = ws.Connect(ctx, cfg.WebSocketURL)
		if err != nil {
			return nil, fmt.Errorf("agent: websocket: %w", err)
		}
		subscriber = position.NewWSSubscriber(wsClient, commitment, zlog)
	} else {
		subscriber = noSubscriber{}
	}

	orchestrator := swap.NewOrchestrator(
		w, chainClient, bhCache, resolver, classifier, estimator,
		bundler, nil,
		swap.Config{ComputeUnits: cfg.ComputeUnits, Retries: cfg.Retries},
		zlog,
	)

	tracker := position.NewTracker(w, chainClient, subscriber, orchestrator, store, zlog)

	// Confirmed swaps flow straight into the tracker.
	orchestrator.SetTracker(tracker)

	return &Agent{
		cfg:          cfg,
		log:          log,
		zlog:         zlog,
		wallet:       w,
		pool:         pool,
		blockhash:    bhCache,
		chain:        chainClient,
		wsClient:     wsClient,
		orchestrator: orchestrator,
		tracker:      tracker,
	}, nil
}

// Start launches the background services: health probes, blockhash refresh
// and position monitoring.
func (a *Agent) Start(ctx context.Context) error {
	a.pool.Start(ctx)
	a.blockhash.Start(ctx)
	if err := a.tracker.Start(ctx); err != nil {
		return err
	}
	a.zlog.Info("Agent started",
		zap.Int("rpc_endpoints", len(a.cfg.RPCList)),
		zap.Bool("bundles", a.cfg.Bundle.Enabled))
	return nil
}

// Orchestrator exposes swap execution to callers.
func (a *Agent) Orchestrator() *swap.Orchestrator { return a.orchestrator }

// Tracker exposes position queries to callers.
func (a *Agent) Tracker() *position.Tracker { return a.tracker }

// Close shuts the services down in dependency order. Idempotent and safe
// from a signal handler.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.tracker.Close()
		a.blockhash.Close()
		a.pool.Close()
		if a.wsClient != nil {
			a.wsClient.Close()
		}
		a.zlog.Info("Agent stopped")
		_ = a.log.Sync()
	})
}

// unavailableTipFeed stands in when bundle submission is disabled; the fee
// estimator then always falls back to its priority-derived floor.
type unavailableTipFeed struct{}

func (unavailableTipFeed) TipFloor(ctx context.Context) (*jito.TipPercentiles, error) {
	return nil, fmt.Errorf("tip feed disabled")
}

// noSubscriber disables push monitoring when no websocket URL is
// configured; positions still update through explicit refreshes.
type noSubscriber struct{}

func (noSubscriber) Subscribe(ctx context.Context, account solana.PublicKey) (<-chan struct{}, func(), error) {
	return nil, nil, fmt.Errorf("websocket monitoring disabled")
}
