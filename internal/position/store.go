// internal/position/store.go
package position

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TrackedPosition is the persisted anchor for one token position. The entry
// price is fixed at creation and never recomputed; all P&L is relative to it.
type TrackedPosition struct {
	TokenAddress        string          `json:"token_address"`
	InitialBuyAmount    uint64          `json:"initial_buy_amount"` // token base units
	InitialSolSpent     uint64          `json:"initial_sol_spent"`  // lamports
	EntryPrice          decimal.Decimal `json:"entry_price"`        // SOL per whole token
	CreatedAt           time.Time       `json:"created_at"`
	OriginatingTxID     string          `json:"originating_tx_id"`
	IsBondingCurveToken bool            `json:"is_bonding_curve_token"`
	Decimals            uint8           `json:"decimals"`
}

// BalanceState is the live balance bookkeeping for a tracked token. Mutated
// only by the tracker's notification handler and explicit refreshes.
type BalanceState struct {
	CurrentTokens         uint64          `json:"current_tokens"`
	LastObservedTokens    uint64          `json:"last_observed_tokens"`
	CumulativeSoldValue   decimal.Decimal `json:"cumulative_sold_value"`   // SOL
	CumulativeBoughtValue decimal.Decimal `json:"cumulative_bought_value"` // SOL
	LastUpdated           time.Time       `json:"last_updated"`
}

// Record couples the immutable position anchor with its mutable balance state.
type Record struct {
	Position TrackedPosition `json:"position"`
	Balance  BalanceState    `json:"balance"`
}

// Store persists tracked positions as a flat JSON map keyed by token
// address, round-tripped wholesale on every write.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]Record
}

func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{
		path:    path,
		logger:  logger.Named("position-store"),
		records: make(map[string]Record),
	}
	s.load()
	return s
}

// Get returns the record for a token address.
func (s *Store) Get(token string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[token]
	return record, ok
}

// All returns a copy of every persisted record.
func (s *Store) All() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for token, record := range s.records {
		out[token] = record
	}
	return out
}

// Put upserts a record and persists the whole map.
func (s *Store) Put(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Position.TokenAddress] = record
	s.persist()
}

// Delete removes a token's record and persists.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[token]; !ok {
		return
	}
	delete(s.records, token)
	s.persist()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read position store", zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.logger.Warn("Corrupt position store, starting empty", zap.Error(err))
		s.records = make(map[string]Record)
	}
}

func (s *Store) persist() {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal positions", zap.Error(err))
		return
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		s.logger.Error("Failed to persist positions", zap.Error(err))
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
