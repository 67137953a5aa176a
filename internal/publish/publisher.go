// Package publish carries best-bid/best-ask/last-trade snapshots per market
// symbol to the real-time distribution channel. Updates are emitted by the
// book generator only when the snapshot changed.
package publish

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BookUpdate is one published top-of-book snapshot for a market.
type BookUpdate struct {
	Symbol         string          `json:"symbol"`
	BestBid        decimal.Decimal `json:"best_bid"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	At             time.Time       `json:"at"`
}

// Equal ignores the timestamp: two updates carrying the same prices are the
// same snapshot for diffing purposes.
func (u BookUpdate) Equal(other BookUpdate) bool {
	return u.Symbol == other.Symbol &&
		u.BestBid.Equal(other.BestBid) &&
		u.BestAsk.Equal(other.BestAsk) &&
		u.LastTradePrice.Equal(other.LastTradePrice)
}

// Publisher delivers book updates to downstream subscribers.
type Publisher interface {
	Publish(ctx context.Context, update BookUpdate) error
}
