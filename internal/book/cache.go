package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"matchd/internal/market"
)

// Entry is the cached projection of one market side. All fields are advisory
// display state; the persisted orders remain authoritative.
type Entry struct {
	BestPrice       decimal.Decimal
	BestActivePrice decimal.Decimal
	LastActivePrice decimal.Decimal
	LastTradePrice  decimal.Decimal
	Levels          []Level
	Skips           int
	UpdatedAt       time.Time
}

func (e Entry) equal(other Entry) bool {
	if !e.BestPrice.Equal(other.BestPrice) ||
		!e.BestActivePrice.Equal(other.BestActivePrice) ||
		!e.LastActivePrice.Equal(other.LastActivePrice) ||
		!e.LastTradePrice.Equal(other.LastTradePrice) ||
		e.Skips != other.Skips ||
		len(e.Levels) != len(other.Levels) {
		return false
	}
	for i := range e.Levels {
		if !e.Levels[i].Price.Equal(other.Levels[i].Price) ||
			!e.Levels[i].Amount.Equal(other.Levels[i].Amount) ||
			e.Levels[i].Count != other.Levels[i].Count {
			return false
		}
	}
	return true
}

type cacheItem struct {
	entry     Entry
	expiresAt time.Time
}

// Cache holds book entries keyed by market symbol and side with a bounded
// TTL. Unchanged entries are rewritten only when near expiry, which bounds
// write volume under high-frequency low-change conditions.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheItem
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheItem),
	}
}

func cacheKey(symbol string, side market.Side) string {
	return symbol + ":" + side.String()
}

// Get returns the cached entry for a market side, if present and not expired.
func (c *Cache) Get(symbol string, side market.Side) (Entry, bool) {
	c.mu.RLock()
	item, ok := c.entries[cacheKey(symbol, side)]
	c.mu.RUnlock()

	if !ok || c.now().After(item.expiresAt) {
		return Entry{}, false
	}
	return item.entry, true
}

// Put stores an entry and reports whether a write actually happened. The
// write is skipped when the stored entry is unchanged and still has more
// than a fifth of its TTL left.
func (c *Cache) Put(symbol string, side market.Side, entry Entry) bool {
	key := cacheKey(symbol, side)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.entries[key]; ok && now.Before(item.expiresAt) {
		nearExpiry := item.expiresAt.Sub(now) < c.ttl/5
		if item.entry.equal(entry) && !nearExpiry {
			return false
		}
	}

	c.entries[key] = cacheItem{entry: entry, expiresAt: now.Add(c.ttl)}
	return true
}
