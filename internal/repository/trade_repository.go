package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"matchd/internal/book"
	"matchd/internal/market"
)

// TradeRepository appends to and reads the trades table. Trades are
// immutable: insert and read are the only operations.
type TradeRepository struct{}

// NewTradeRepository creates a new TradeRepository.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{}
}

// Insert persists one trade and assigns its ID.
func (r *TradeRepository) Insert(ctx context.Context, q Querier, t *market.Trade) error {
	query := `
		INSERT INTO trades (market_id, buy_order_id, sell_order_id, buy_user_id, sell_user_id, amount, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return q.QueryRowContext(
		ctx,
		query,
		t.MarketID,
		t.BuyOrderID,
		t.SellOrderID,
		t.BuyUserID,
		t.SellUserID,
		t.Amount,
		t.Price,
		t.CreatedAt,
	).Scan(&t.ID)
}

// LastTradePrice returns the most recent trade price for a market, or
// book.ErrNoTrades when the market has never traded.
func (r *TradeRepository) LastTradePrice(ctx context.Context, q Querier, marketID int64) (decimal.Decimal, error) {
	query := `
		SELECT price
		FROM trades
		WHERE market_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var price decimal.Decimal
	err := q.QueryRowContext(ctx, query, marketID).Scan(&price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, book.ErrNoTrades
		}
		return decimal.Zero, err
	}

	return price, nil
}
