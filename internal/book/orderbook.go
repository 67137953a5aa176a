package book

import (
	"context"
	"errors"
	"time"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"

	"matchd/internal/market"
)

const (
	// MaxBookItems caps the number of price levels exposed publicly.
	MaxBookItems = 20

	// MaxActiveOrders caps the working set of orders loaded per side. The
	// extra depth beyond MaxBookItems feeds the skip-match step.
	MaxActiveOrders = 200

	// SmallMarketOrders is the cumulative order count at which the "last
	// active price" is pinned for thin markets.
	SmallMarketOrders = 10
)

// ErrNoTrades is returned by a TradeSource when a market has never traded.
var ErrNoTrades = errors.New("market has no trades")

// OrderSource supplies the active order rows a book is derived from.
// Implemented by the SQL repository; tests use in-memory fakes.
type OrderSource interface {
	// ActiveOrders returns active non-market-execution orders for one side
	// of one market with created_at <= cutoff, best price first, at most
	// limit rows.
	ActiveOrders(ctx context.Context, marketID int64, side market.Side, cutoff time.Time, limit int) ([]market.Order, error)
}

// Level is one aggregated price level of the public book.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// bookLevel is the internal working form of a level. remaining is reduced by
// the skip-match step; Level.Amount keeps the raw aggregated amount.
type bookLevel struct {
	price     decimal.Decimal
	amount    decimal.Decimal
	remaining decimal.Decimal
	count     int
}

// OrderBook is the aggregated, price-sorted view of unfilled order quantity
// on one side of one market as of a single cutoff instant. It is a pure
// projection over persisted order rows and owns no state of its own.
type OrderBook struct {
	market   market.Market
	side     market.Side
	cutoff   time.Time
	levels   *treemap.TreeMap[decimal.Decimal, *bookLevel]
	skips    int
	hasMatch bool
}

// Build constructs the book for one market and side. Orders created after
// the cutoff are excluded so both sides of a round see the same instant.
func Build(ctx context.Context, src OrderSource, m market.Market, side market.Side, cutoff time.Time) (*OrderBook, error) {
	orders, err := src.ActiveOrders(ctx, m.ID, side, cutoff, MaxActiveOrders)
	if err != nil {
		return nil, err
	}

	book := &OrderBook{
		market: m,
		side:   side,
		cutoff: cutoff,
		levels: newLevelMap(side),
	}

	for i := range orders {
		unfilled := orders[i].Unfilled()
		if !unfilled.IsPositive() {
			continue
		}
		price := m.QuantizePrice(orders[i].Price)

		level, ok := book.levels.Get(price)
		if !ok {
			level = &bookLevel{price: price}
			book.levels.Set(price, level)
		}
		level.amount = level.amount.Add(unfilled)
		level.remaining = level.remaining.Add(unfilled)
		level.count++
	}

	return book, nil
}

// newLevelMap builds a treemap whose forward iteration order is matching
// priority: ascending for asks, descending for bids.
func newLevelMap(side market.Side) *treemap.TreeMap[decimal.Decimal, *bookLevel] {
	if side == market.Sell {
		return treemap.NewWithKeyCompare[decimal.Decimal, *bookLevel](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		})
	}
	return treemap.NewWithKeyCompare[decimal.Decimal, *bookLevel](func(a, b decimal.Decimal) bool {
		return b.LessThan(a)
	})
}

// Side returns which side of the market this book represents.
func (b *OrderBook) Side() market.Side { return b.side }

// Cutoff returns the point-in-time the book was derived at.
func (b *OrderBook) Cutoff() time.Time { return b.cutoff }

// BestPrice returns the top-of-book price before skip-match netting.
// ok is false for an empty book.
func (b *OrderBook) BestPrice() (decimal.Decimal, bool) {
	it := b.levels.Iterator()
	if !it.Valid() {
		return decimal.Zero, false
	}
	return it.Key(), true
}

// BestActivePrice returns the top-of-book price after skip-match netting,
// i.e. the best level with residual standing liquidity.
func (b *OrderBook) BestActivePrice() (decimal.Decimal, bool) {
	for it := b.levels.Iterator(); it.Valid(); it.Next() {
		if it.Value().remaining.IsPositive() {
			return it.Key(), true
		}
	}
	return decimal.Zero, false
}

// LastActivePrice returns the price at which the cumulative order count first
// reaches SmallMarketOrders. ok is false when the book never accumulates that
// many orders.
func (b *OrderBook) LastActivePrice() (decimal.Decimal, bool) {
	total := 0
	for it := b.levels.Iterator(); it.Valid(); it.Next() {
		total += it.Value().count
		if total >= SmallMarketOrders {
			return it.Key(), true
		}
	}
	return decimal.Zero, false
}

// PublicLevels returns up to MaxBookItems levels with residual liquidity,
// best price first. Levels fully netted out by skip-match are excluded.
func (b *OrderBook) PublicLevels() []Level {
	levels := make([]Level, 0, MaxBookItems)
	for it := b.levels.Iterator(); it.Valid() && len(levels) < MaxBookItems; it.Next() {
		lvl := it.Value()
		if !lvl.remaining.IsPositive() {
			continue
		}
		levels = append(levels, Level{
			Price:  lvl.price,
			Amount: lvl.remaining,
			Count:  lvl.count,
		})
	}
	return levels
}

// Skips returns how many levels were fully consumed by skip-match.
func (b *OrderBook) Skips() int { return b.skips }

// HasMatch reports whether skip-match consumed any overlapping liquidity.
func (b *OrderBook) HasMatch() bool { return b.hasMatch }
