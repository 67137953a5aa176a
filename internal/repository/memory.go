package repository

import (
	"context"
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"

	"matchd/internal/book"
	"matchd/internal/market"
	"matchd/internal/matcher"
)

// MemoryStore keeps markets, orders, and trades in memory with the same
// query and transaction semantics as SQLStore. It backs the matcher, book,
// and scheduler tests and is useful for running the engine without a
// database.
type MemoryStore struct {
	mu          sync.Mutex
	markets     []market.Market
	orders      map[int64]*market.Order
	queues      map[int64]map[market.Side]*orderQueue
	trades      []market.Trade
	nextOrderID int64
	nextTradeID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[int64]*market.Order),
		queues: make(map[int64]map[market.Side]*orderQueue),
	}
}

// AddMarket registers a market.
func (s *MemoryStore) AddMarket(m market.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets = append(s.markets, m)
	s.queues[m.ID] = map[market.Side]*orderQueue{
		market.Buy:  newOrderQueue(market.Buy),
		market.Sell: newOrderQueue(market.Sell),
	}
}

// PlaceOrder stores an active order, assigning its ID. Zero CreatedAt
// defaults to now. The pointer stored internally is a copy; the assigned ID
// is written back to o and the copy is returned.
func (s *MemoryStore) PlaceOrder(o market.Order) *market.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	o.ID = s.nextOrderID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = market.StatusActive
	}

	stored := o
	s.orders[stored.ID] = &stored
	if sides, ok := s.queues[stored.MarketID]; ok {
		sides[stored.Side].insert(&stored)
	}
	return &stored
}

// Order returns a copy of one order by ID, or nil.
func (s *MemoryStore) Order(id int64) *market.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	cpy := *o
	return &cpy
}

// Trades returns a copy of all recorded trades in creation order.
func (s *MemoryStore) Trades() []market.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]market.Trade, len(s.trades))
	copy(trades, s.trades)
	return trades
}

// ListActive implements the market source.
func (s *MemoryStore) ListActive(context.Context) ([]market.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []market.Market
	for _, m := range s.markets {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active, nil
}

// ActiveOrders implements book.OrderSource with the same ordering as the SQL
// repository: best price first, then created_at, then ID.
func (s *MemoryStore) ActiveOrders(_ context.Context, marketID int64, side market.Side, cutoff time.Time, limit int) ([]market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sides, ok := s.queues[marketID]
	if !ok {
		return nil, nil
	}

	var orders []market.Order
	sides[side].each(func(o *market.Order) bool {
		if o.CreatedAt.After(cutoff) {
			return true
		}
		orders = append(orders, *o)
		return len(orders) < limit
	})
	return orders, nil
}

// LastTradePrice implements book.TradeSource.
func (s *MemoryStore) LastTradePrice(_ context.Context, marketID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].MarketID == marketID {
			return s.trades[i].Price, nil
		}
	}
	return decimal.Zero, book.ErrNoTrades
}

// WithinTx implements matcher.Store. Mutations are buffered and applied only
// when fn returns nil; an error or panic discards them, leaving the store in
// its pre-transaction state.
func (s *MemoryStore) WithinTx(_ context.Context, fn func(tx matcher.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, updated: make(map[int64]*market.Order)}

	defer func() {
		if p := recover(); p != nil {
			panic(p)
		}
		if err == nil {
			tx.commit()
		}
	}()

	return fn(tx)
}

// memoryTx buffers order updates and trade inserts until commit.
type memoryTx struct {
	store   *MemoryStore
	updated map[int64]*market.Order
	trades  []*market.Trade
}

func (t *memoryTx) BestOrder(_ context.Context, marketID int64, side market.Side) (*market.Order, error) {
	sides, ok := t.store.queues[marketID]
	if !ok {
		return nil, nil
	}
	best := sides[side].peekBest()
	if best == nil {
		return nil, nil
	}
	cpy := *best
	return &cpy, nil
}

func (t *memoryTx) UpdateOrder(_ context.Context, o *market.Order) error {
	if _, ok := t.store.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cpy := *o
	t.updated[o.ID] = &cpy
	return nil
}

func (t *memoryTx) InsertTrade(_ context.Context, trade *market.Trade) error {
	t.store.nextTradeID++
	trade.ID = t.store.nextTradeID
	cpy := *trade
	t.trades = append(t.trades, &cpy)
	return nil
}

// commit applies buffered mutations. Caller holds the store lock.
func (t *memoryTx) commit() {
	for id, updated := range t.updated {
		stored := t.store.orders[id]
		wasActive := stored.Status == market.StatusActive
		*stored = *updated
		if wasActive && stored.Status != market.StatusActive {
			if sides, ok := t.store.queues[stored.MarketID]; ok {
				sides[stored.Side].remove(stored)
			}
		}
	}
	for _, trade := range t.trades {
		t.store.trades = append(t.store.trades, *trade)
	}
}

// orderQueue holds one side's active orders: a skiplist of price levels in
// matching-priority order, a FIFO within each level, and a separate FIFO for
// market-execution orders, which outrank any limit price.
type orderQueue struct {
	side       market.Side
	levels     *skiplist.SkipList
	marketExec []*market.Order
}

type priceLevel struct {
	price  decimal.Decimal
	orders []*market.Order
}

// newOrderQueue creates a queue whose levels iterate best price first:
// descending for bids, ascending for asks.
func newOrderQueue(side market.Side) *orderQueue {
	cmp := skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		d1, _ := lhs.(decimal.Decimal)
		d2, _ := rhs.(decimal.Decimal)
		c := d1.Cmp(d2)
		if side == market.Buy {
			return -c
		}
		return c
	})
	return &orderQueue{side: side, levels: skiplist.New(cmp)}
}

// insert places an order at its price level, keeping (created_at, id) order
// within the level.
func (q *orderQueue) insert(o *market.Order) {
	if o.Execution == market.MarketExec {
		q.marketExec = insertByPriority(q.marketExec, o)
		return
	}

	el := q.levels.Get(o.Price)
	if el == nil {
		q.levels.Set(o.Price, &priceLevel{price: o.Price, orders: []*market.Order{o}})
		return
	}
	level, _ := el.Value.(*priceLevel)
	level.orders = insertByPriority(level.orders, o)
}

func insertByPriority(orders []*market.Order, o *market.Order) []*market.Order {
	pos := len(orders)
	for i, existing := range orders {
		if o.ArrivedBefore(existing) {
			pos = i
			break
		}
	}
	orders = append(orders, nil)
	copy(orders[pos+1:], orders[pos:])
	orders[pos] = o
	return orders
}

// remove drops an order, cleaning up its price level when empty.
func (q *orderQueue) remove(o *market.Order) {
	if o.Execution == market.MarketExec {
		q.marketExec = removeOrder(q.marketExec, o.ID)
		return
	}

	el := q.levels.Get(o.Price)
	if el == nil {
		return
	}
	level, _ := el.Value.(*priceLevel)
	level.orders = removeOrder(level.orders, o.ID)
	if len(level.orders) == 0 {
		q.levels.RemoveElement(el)
	}
}

func removeOrder(orders []*market.Order, id int64) []*market.Order {
	for i, o := range orders {
		if o.ID == id {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}

// peekBest returns the highest-priority active order without removing it.
func (q *orderQueue) peekBest() *market.Order {
	for _, o := range q.marketExec {
		if o.Status == market.StatusActive {
			return o
		}
	}
	el := q.levels.Front()
	for el != nil {
		level, _ := el.Value.(*priceLevel)
		for _, o := range level.orders {
			if o.Status == market.StatusActive {
				return o
			}
		}
		el = el.Next()
	}
	return nil
}

// each visits limit-book orders in priority order until fn returns false.
func (q *orderQueue) each(fn func(*market.Order) bool) {
	el := q.levels.Front()
	for el != nil {
		level, _ := el.Value.(*priceLevel)
		for _, o := range level.orders {
			if o.Status != market.StatusActive {
				continue
			}
			if !fn(o) {
				return
			}
		}
		el = el.Next()
	}
}
