package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchd/internal/market"
)

func testEntry(best string) Entry {
	return Entry{
		BestPrice:       decimal.RequireFromString(best),
		BestActivePrice: decimal.RequireFromString(best),
		Levels: []Level{
			{Price: decimal.RequireFromString(best), Amount: decimal.NewFromInt(1), Count: 1},
		},
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(10 * time.Second)

	assert.True(t, c.Put("BTC-USDT", market.Sell, testEntry("100")))

	got, ok := c.Get("BTC-USDT", market.Sell)
	require.True(t, ok)
	assert.Equal(t, "100", got.BestPrice.String())

	// Sides are cached independently.
	_, ok = c.Get("BTC-USDT", market.Buy)
	assert.False(t, ok)
}

func TestCacheSkipsUnchangedWrites(t *testing.T) {
	c := NewCache(10 * time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.True(t, c.Put("BTC-USDT", market.Sell, testEntry("100")))

	// Same entry while fresh: no write.
	now = now.Add(time.Second)
	assert.False(t, c.Put("BTC-USDT", market.Sell, testEntry("100")))

	// Changed entry always writes.
	assert.True(t, c.Put("BTC-USDT", market.Sell, testEntry("101")))

	// Unchanged but near expiry: refreshed.
	now = now.Add(9 * time.Second)
	assert.True(t, c.Put("BTC-USDT", market.Sell, testEntry("101")))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("BTC-USDT", market.Sell, testEntry("100"))

	now = now.Add(11 * time.Second)
	_, ok := c.Get("BTC-USDT", market.Sell)
	assert.False(t, ok)

	// An expired slot accepts a fresh write unconditionally.
	assert.True(t, c.Put("BTC-USDT", market.Sell, testEntry("100")))
}
