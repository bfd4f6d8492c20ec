// internal/venue/cache.go
package venue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Cache persists discovered venue account sets. Entries never expire: once
// discovered, a venue's addresses are immutable ledger facts. Invalidate
// removes an entry so a failed swap can force re-discovery.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Accounts
	path    string
	logger  *zap.Logger
}

// NewCache loads the cache file at path, tolerating a missing or corrupt
// file (it starts empty and rewrites on the next Set).
func NewCache(path string, logger *zap.Logger) *Cache {
	c := &Cache{
		entries: make(map[string]Accounts),
		path:    path,
		logger:  logger.Named("venue_cache"),
	}
	c.load()
	return c
}

// Get returns the cached venue for the pair key, if any.
func (c *Cache) Get(pairKey string) (Accounts, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	accounts, ok := c.entries[pairKey]
	return accounts, ok
}

// Set stores the venue and persists the whole cache to disk.
func (c *Cache) Set(pairKey string, accounts Accounts) {
	c.mu.Lock()
	c.entries[pairKey] = accounts
	c.mu.Unlock()
	c.persist()
}

// Invalidate drops an entry, forcing the next lookup to re-discover.
func (c *Cache) Invalidate(pairKey string) {
	c.mu.Lock()
	_, existed := c.entries[pairKey]
	delete(c.entries, pairKey)
	c.mu.Unlock()
	if existed {
		c.persist()
	}
}

// Len returns the number of cached venues.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to read venue cache file", zap.String("path", c.path), zap.Error(err))
		}
		return
	}
	var entries map[string]Accounts
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("Corrupt venue cache file, starting empty", zap.String("path", c.path), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Debug("Loaded venue cache", zap.Int("entries", len(entries)))
}

func (c *Cache) persist() {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		c.logger.Error("Failed to marshal venue cache", zap.Error(err))
		return
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		c.logger.Error("Failed to persist venue cache", zap.String("path", c.path), zap.Error(err))
	}
}

// ClassificationCache is the TTL-based token classification store, kept
// separate from the venue cache because classifications go stale while venue
// addresses do not.
type ClassificationCache struct {
	mu      sync.RWMutex
	entries map[string]Classification
	path    string
	logger  *zap.Logger
	now     func() time.Time
}

// NewClassificationCache loads the cache file, evicting entries already
// expired on disk.
func NewClassificationCache(path string, logger *zap.Logger) *ClassificationCache {
	c := &ClassificationCache{
		entries: make(map[string]Classification),
		path:    path,
		logger:  logger.Named("classification_cache"),
		now:     time.Now,
	}
	c.load()
	return c
}

// Get returns a live classification; an expired entry is evicted lazily and
// reported as a miss.
func (c *ClassificationCache) Get(mint solana.PublicKey) (Classification, bool) {
	key := mint.String()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Classification{}, false
	}
	if entry.Expired(c.now()) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Classification{}, false
	}
	return entry, true
}

// Set stores the classification and persists to disk.
func (c *ClassificationCache) Set(entry Classification) {
	c.mu.Lock()
	c.entries[entry.Mint.String()] = entry
	c.mu.Unlock()
	c.persist()
}

func (c *ClassificationCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to read classification cache file", zap.String("path", c.path), zap.Error(err))
		}
		return
	}
	var entries map[string]Classification
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("Corrupt classification cache file, starting empty", zap.String("path", c.path), zap.Error(err))
		return
	}

	now := c.now()
	kept := make(map[string]Classification, len(entries))
	for key, entry := range entries {
		if !entry.Expired(now) {
			kept[key] = entry
		}
	}
	c.mu.Lock()
	c.entries = kept
	c.mu.Unlock()
	c.logger.Debug("Loaded classification cache",
		zap.Int("kept", len(kept)),
		zap.Int("evicted", len(entries)-len(kept)))
}

func (c *ClassificationCache) persist() {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		c.logger.Error("Failed to marshal classification cache", zap.Error(err))
		return
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		c.logger.Error("Failed to persist classification cache", zap.String("path", c.path), zap.Error(err))
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
