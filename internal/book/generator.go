package book

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"matchd/internal/market"
	"matchd/internal/publish"
)

// MarketSource lists the markets whose books are generated.
type MarketSource interface {
	ListActive(ctx context.Context) ([]market.Market, error)
}

// TradeSource supplies the last traded price per market.
// Returns ErrNoTrades for a market that has never traded.
type TradeSource interface {
	LastTradePrice(ctx context.Context, marketID int64) (decimal.Decimal, error)
}

// Generator rebuilds both order-book sides for every active market, nets out
// the bid/ask overlap, caches the result, and publishes a diff to real-time
// subscribers. It runs on its own cadence, independent of the matcher.
type Generator struct {
	markets  MarketSource
	orders   OrderSource
	trades   TradeSource
	cache    *Cache
	pub      publish.Publisher
	interval time.Duration

	mu       sync.Mutex
	lastSent map[string]publish.BookUpdate
}

// NewGenerator wires a generator. interval is the delay between passes.
func NewGenerator(markets MarketSource, orders OrderSource, trades TradeSource, cache *Cache, pub publish.Publisher, interval time.Duration) *Generator {
	return &Generator{
		markets:  markets,
		orders:   orders,
		trades:   trades,
		cache:    cache,
		pub:      pub,
		interval: interval,
		lastSent: make(map[string]publish.BookUpdate),
	}
}

// Run regenerates books until the context is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if err := g.RunOnce(ctx); err != nil {
			logger.Error("book generation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce generates books for all active markets, one goroutine per market.
// A failing market is logged and skipped; it never aborts the batch.
func (g *Generator) RunOnce(ctx context.Context) error {
	markets, err := g.markets.ListActive(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, m := range markets {
		wg.Add(1)
		go func(m market.Market) {
			defer wg.Done()
			if err := g.generate(ctx, m); err != nil {
				logger.Error("book generation failed", "market", m.Symbol, "error", err)
			}
		}(m)
	}
	wg.Wait()

	return nil
}

// generate builds, caches, and conditionally publishes one market's book.
func (g *Generator) generate(ctx context.Context, m market.Market) error {
	cutoff := time.Now().UTC()

	asks, err := Build(ctx, g.orders, m, market.Sell, cutoff)
	if err != nil {
		return err
	}
	bids, err := Build(ctx, g.orders, m, market.Buy, cutoff)
	if err != nil {
		return err
	}

	ResolveOverlap(asks, bids)

	lastPrice, err := g.trades.LastTradePrice(ctx, m.ID)
	if err != nil {
		if !errors.Is(err, ErrNoTrades) {
			return err
		}
		lastPrice = decimal.Zero
	}

	g.cache.Put(m.Symbol, market.Sell, entryFor(asks, lastPrice, cutoff))
	g.cache.Put(m.Symbol, market.Buy, entryFor(bids, lastPrice, cutoff))

	bestBid, _ := bids.BestActivePrice()
	bestAsk, _ := asks.BestActivePrice()
	update := publish.BookUpdate{
		Symbol:         m.Symbol,
		BestBid:        bestBid,
		BestAsk:        bestAsk,
		LastTradePrice: lastPrice,
		At:             cutoff,
	}

	g.mu.Lock()
	previous, seen := g.lastSent[m.Symbol]
	if seen && previous.Equal(update) {
		g.mu.Unlock()
		return nil
	}
	g.lastSent[m.Symbol] = update
	g.mu.Unlock()

	return g.pub.Publish(ctx, update)
}

func entryFor(b *OrderBook, lastPrice decimal.Decimal, at time.Time) Entry {
	best, _ := b.BestPrice()
	bestActive, _ := b.BestActivePrice()
	lastActive, _ := b.LastActivePrice()
	return Entry{
		BestPrice:       best,
		BestActivePrice: bestActive,
		LastActivePrice: lastActive,
		LastTradePrice:  lastPrice,
		Levels:          b.PublicLevels(),
		Skips:           b.Skips(),
		UpdatedAt:       at,
	}
}
