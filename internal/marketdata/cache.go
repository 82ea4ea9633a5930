// Package marketdata holds the Engine's in-memory view of live trade prints
// and historical daily bars.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// StaleAfter is the default periodic-check interval past which a snapshot is
// considered stale, per spec.md §4.3.
const StaleAfter = 5 * time.Second

// Snapshot is the most recent mid-price observation for one symbol.
type Snapshot struct {
	MidPrice decimal.Decimal
	LastSeen time.Time
}

// Cache holds one Snapshot per subscribed symbol, keyed by symbol, guarded
// by a single RWMutex in the style of the teacher's PriceTracker.
type Cache struct {
	mu         sync.RWMutex
	snapshots  map[string]Snapshot
	staleAfter time.Duration
}

// New returns an empty Cache. staleAfter of zero uses StaleAfter.
func New(staleAfter time.Duration) *Cache {
	if staleAfter <= 0 {
		staleAfter = StaleAfter
	}
	return &Cache{snapshots: make(map[string]Snapshot), staleAfter: staleAfter}
}

// OnTrade recomputes and stores the mid-price snapshot for t.Symbol.
func (c *Cache) OnTrade(t domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[t.Symbol] = Snapshot{MidPrice: t.Mid(), LastSeen: t.Time}
}

// GetSnapshots returns every symbol whose snapshot has aged past the cache's
// staleness interval, measured against now. Fresh snapshots are withheld:
// the caller (the Engine's periodic check) only acts on stale ones.
func (c *Cache) GetSnapshots(now time.Time) map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stale := make(map[string]Snapshot)
	for symbol, snap := range c.snapshots {
		if now.Sub(snap.LastSeen) > c.staleAfter {
			stale[symbol] = snap
		}
	}
	return stale
}

// Get returns the current snapshot for symbol, if any.
func (c *Cache) Get(symbol string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[symbol]
	return snap, ok
}
