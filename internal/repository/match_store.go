package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"matchd/internal/market"
	"matchd/internal/matcher"
)

// SQLStore binds the repositories to one database handle and presents them
// through the interfaces the book generator and matcher consume.
type SQLStore struct {
	db      *sql.DB
	markets *MarketRepository
	orders  *OrderRepository
	trades  *TradeRepository
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:      db,
		markets: NewMarketRepository(db),
		orders:  NewOrderRepository(),
		trades:  NewTradeRepository(),
	}
}

// ListActive implements the market source consumed by the book generator and
// the scheduler.
func (s *SQLStore) ListActive(ctx context.Context) ([]market.Market, error) {
	return s.markets.ListActive(ctx)
}

// ActiveOrders implements book.OrderSource.
func (s *SQLStore) ActiveOrders(ctx context.Context, marketID int64, side market.Side, cutoff time.Time, limit int) ([]market.Order, error) {
	return s.orders.ActiveOrders(ctx, s.db, marketID, side, cutoff, limit)
}

// LastTradePrice implements book.TradeSource.
func (s *SQLStore) LastTradePrice(ctx context.Context, marketID int64) (decimal.Decimal, error) {
	return s.trades.LastTradePrice(ctx, s.db, marketID)
}

// WithinTx implements matcher.Store: one SQL transaction per match, with
// rollback on any error or panic.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx matcher.Tx) error) error {
	return WithinTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&sqlMatchTx{store: s, tx: tx})
	})
}

// sqlMatchTx is the transactional view handed to the matcher.
type sqlMatchTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlMatchTx) BestOrder(ctx context.Context, marketID int64, side market.Side) (*market.Order, error) {
	return t.store.orders.BestOrder(ctx, t.tx, marketID, side)
}

func (t *sqlMatchTx) UpdateOrder(ctx context.Context, o *market.Order) error {
	return t.store.orders.Update(ctx, t.tx, o)
}

func (t *sqlMatchTx) InsertTrade(ctx context.Context, trade *market.Trade) error {
	return t.store.trades.Insert(ctx, t.tx, trade)
}
