package book

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchd/internal/market"
	"matchd/internal/publish"
)

type fakeMarketSource struct {
	markets []market.Market
}

func (f *fakeMarketSource) ListActive(context.Context) ([]market.Market, error) {
	return f.markets, nil
}

type fakeTradeSource struct {
	prices map[int64]decimal.Decimal
}

func (f *fakeTradeSource) LastTradePrice(_ context.Context, marketID int64) (decimal.Decimal, error) {
	price, ok := f.prices[marketID]
	if !ok {
		return decimal.Zero, ErrNoTrades
	}
	return price, nil
}

func TestGeneratorPublishesAndCaches(t *testing.T) {
	orders := &fakeOrderSource{orders: map[market.Side][]market.Order{
		market.Sell: {sellOrder(1, "101", "2")},
		market.Buy:  {buyOrder(2, "99", "3")},
	}}
	trades := &fakeTradeSource{prices: map[int64]decimal.Decimal{1: decimal.NewFromInt(100)}}
	markets := &fakeMarketSource{markets: []market.Market{testMarket}}
	cache := NewCache(10 * time.Second)
	pub := publish.NewMemoryPublisher()

	g := NewGenerator(markets, orders, trades, cache, pub, time.Second)
	require.NoError(t, g.RunOnce(context.Background()))

	require.Equal(t, 1, pub.Count())
	update := pub.Get(0)
	assert.Equal(t, "BTC-USDT", update.Symbol)
	assert.Equal(t, "99", update.BestBid.String())
	assert.Equal(t, "101", update.BestAsk.String())
	assert.Equal(t, "100", update.LastTradePrice.String())

	entry, ok := cache.Get("BTC-USDT", market.Sell)
	require.True(t, ok)
	assert.Equal(t, "101", entry.BestActivePrice.String())
	entry, ok = cache.Get("BTC-USDT", market.Buy)
	require.True(t, ok)
	assert.Equal(t, "99", entry.BestActivePrice.String())
}

func TestGeneratorSuppressesUnchangedUpdates(t *testing.T) {
	orders := &fakeOrderSource{orders: map[market.Side][]market.Order{
		market.Sell: {sellOrder(1, "101", "2")},
		market.Buy:  {buyOrder(2, "99", "3")},
	}}
	trades := &fakeTradeSource{prices: map[int64]decimal.Decimal{}}
	markets := &fakeMarketSource{markets: []market.Market{testMarket}}

	pub := publish.NewMemoryPublisher()
	g := NewGenerator(markets, orders, trades, NewCache(10*time.Second), pub, time.Second)

	require.NoError(t, g.RunOnce(context.Background()))
	require.NoError(t, g.RunOnce(context.Background()))
	assert.Equal(t, 1, pub.Count())

	// A price move publishes again.
	orders.orders[market.Buy] = []market.Order{buyOrder(3, "100", "3")}
	require.NoError(t, g.RunOnce(context.Background()))
	assert.Equal(t, 2, pub.Count())
	assert.Equal(t, "100", pub.Get(1).BestBid.String())
}

func TestGeneratorNoTrades(t *testing.T) {
	orders := &fakeOrderSource{orders: map[market.Side][]market.Order{
		market.Sell: {sellOrder(1, "101", "2")},
	}}
	trades := &fakeTradeSource{prices: map[int64]decimal.Decimal{}}
	markets := &fakeMarketSource{markets: []market.Market{testMarket}}
	pub := publish.NewMemoryPublisher()

	g := NewGenerator(markets, orders, trades, NewCache(10*time.Second), pub, time.Second)
	require.NoError(t, g.RunOnce(context.Background()))

	require.Equal(t, 1, pub.Count())
	assert.True(t, pub.Get(0).LastTradePrice.IsZero())
}
