package refdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Valuation carries the cached reference figures for one base asset. Either
// field may be absent when the upstream table has no value for it.
type Valuation struct {
	MarketCap *decimal.Decimal
	FDV       *decimal.Decimal
}

// Entry is one row of a freshly fetched reference table.
type Entry struct {
	Symbol    string
	MarketCap *decimal.Decimal
	FDV       *decimal.Decimal
}

// Cache is a periodically rebuilt base-asset valuation table. Refresh swaps
// the whole map in one step so readers observe either the previous table or
// the complete new one, never a partial rebuild.
type Cache struct {
	mu          sync.RWMutex
	table       map[string]Valuation
	lastRefresh time.Time
}

// NewCache returns an empty, never-refreshed cache.
func NewCache() *Cache {
	return &Cache{table: make(map[string]Valuation)}
}

// Refresh rebuilds the table from entries. Duplicate symbols keep the entry
// with the larger market cap; on exact equality the first-seen entry wins.
// A missing market cap compares as zero.
func (c *Cache) Refresh(entries []Entry) {
	table := make(map[string]Valuation, len(entries))
	for _, e := range entries {
		existing, ok := table[e.Symbol]
		if ok && !mcValue(e.MarketCap).GreaterThan(mcValue(existing.MarketCap)) {
			continue
		}
		table[e.Symbol] = Valuation{MarketCap: e.MarketCap, FDV: e.FDV}
	}

	c.mu.Lock()
	c.table = table
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

// Lookup returns the valuation for a base asset, false when unknown.
func (c *Cache) Lookup(base string) (Valuation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.table[base]
	return v, ok
}

// Len reports the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.table)
}

// Stale reports whether the last successful refresh is older than interval.
// A cache that has never refreshed is always stale.
func (c *Cache) Stale(now time.Time, interval time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRefresh.IsZero() {
		return true
	}
	return now.Sub(c.lastRefresh) > interval
}

func mcValue(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
