package matcher

import (
	"context"

	"matchd/internal/market"
)

// Tx is the mutating view of order/trade storage inside one match
// transaction. BestOrder must lock the returned row (select-for-update
// semantics) so a concurrent cancellation cannot race the match.
type Tx interface {
	// BestOrder returns the highest-priority active order for one side:
	// market-execution orders first, then best price, then earliest
	// created_at, then lowest ID. Returns nil when the side is empty.
	BestOrder(ctx context.Context, marketID int64, side market.Side) (*market.Order, error)

	// UpdateOrder persists the order's matched amount, total price, fee and
	// status.
	UpdateOrder(ctx context.Context, o *market.Order) error

	// InsertTrade persists one immutable trade record and assigns its ID.
	InsertTrade(ctx context.Context, t *market.Trade) error
}

// Store runs a closure under one atomic transaction. The closure's error (or
// panic) rolls back every mutation made through the Tx; nil commits. This is
// the single unit-of-work boundary used for every match.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
