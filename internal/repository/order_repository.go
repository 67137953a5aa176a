package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"matchd/internal/market"
)

// OrderRepository reads and mutates the orders table. Order creation belongs
// to the placement path; the matching core only queries and fills.
type OrderRepository struct{}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

const orderColumns = `id, user_id, market_id, side, execution, price, amount, matched_amount, matched_total_price, fee, status, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*market.Order, error) {
	o := &market.Order{}
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.MarketID,
		&o.Side,
		&o.Execution,
		&o.Price,
		&o.Amount,
		&o.MatchedAmount,
		&o.MatchedTotalPrice,
		&o.Fee,
		&o.Status,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// priceDirection orders prices by matching priority for the side.
func priceDirection(side market.Side) string {
	if side == market.Buy {
		return "DESC"
	}
	return "ASC"
}

// ActiveOrders returns active limit-book orders for one side of one market
// created at or before the cutoff, best price first. Market-execution orders
// never appear in the book.
func (r *OrderRepository) ActiveOrders(ctx context.Context, q Querier, marketID int64, side market.Side, cutoff time.Time, limit int) ([]market.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE market_id = $1 AND side = $2 AND status = $3 AND execution <> $4 AND created_at <= $5
		ORDER BY price ` + priceDirection(side) + `, created_at ASC, id ASC
		LIMIT $6`

	rows, err := q.QueryContext(ctx, query, marketID, side, market.StatusActive, market.MarketExec, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []market.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// BestOrder returns the highest-priority active order for one side, locked
// for update so a concurrent cancellation cannot race the match.
// Market-execution orders outrank any limit price; ties break by price, then
// created_at, then ascending id. Returns (nil, nil) when the side is empty.
func (r *OrderRepository) BestOrder(ctx context.Context, q Querier, marketID int64, side market.Side) (*market.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE market_id = $1 AND side = $2 AND status = $3
		ORDER BY (execution = $4) DESC, price ` + priceDirection(side) + `, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE`

	o, err := scanOrder(q.QueryRowContext(ctx, query, marketID, side, market.StatusActive, market.MarketExec))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return o, nil
}

// Update persists the mutable fill state of an order.
func (r *OrderRepository) Update(ctx context.Context, q Querier, o *market.Order) error {
	query := `
		UPDATE orders
		SET matched_amount = $1, matched_total_price = $2, fee = $3, status = $4
		WHERE id = $5`

	result, err := q.ExecContext(ctx, query, o.MatchedAmount, o.MatchedTotalPrice, o.Fee, o.Status, o.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}
