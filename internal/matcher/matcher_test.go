package matcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchd/internal/market"
	"matchd/internal/matcher"
	"matchd/internal/repository"
)

var btcUsdt = market.Market{
	ID:              1,
	Symbol:          "BTC-USDT",
	BaseCurrency:    "BTC",
	QuoteCurrency:   "USDT",
	IsActive:        true,
	PricePrecision:  2,
	AmountPrecision: 4,
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*repository.MemoryStore, *matcher.MemoryWallet, *matcher.Matcher) {
	t.Helper()

	store := repository.NewMemoryStore()
	store.AddMarket(btcUsdt)

	wallet := matcher.NewMemoryWallet()
	fees := matcher.NewFlatFeeSchedule(decimal.RequireFromString("0.001"))
	return store, wallet, matcher.New(store, wallet, fees)
}

func fund(wallet *matcher.MemoryWallet, userID int64) {
	wallet.Deposit(userID, "BTC", decimal.NewFromInt(1000))
	wallet.Deposit(userID, "USDT", decimal.NewFromInt(1_000_000))
}

func order(userID int64, side market.Side, price, amount string, at time.Time) market.Order {
	return market.Order{
		UserID:    userID,
		MarketID:  btcUsdt.ID,
		Side:      side,
		Execution: market.Limit,
		Price:     decimal.RequireFromString(price),
		Amount:    decimal.RequireFromString(amount),
		Status:    market.StatusActive,
		CreatedAt: at,
	}
}

func TestMatchPriceTimePriority(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)
	fund(wallet, 3)

	sellA := store.PlaceOrder(order(1, market.Sell, "100", "1", baseTime))
	sellB := store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime.Add(time.Second)))
	store.PlaceOrder(order(3, market.Buy, "100", "1", baseTime.Add(2*time.Second)))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Trades)
	assert.Equal(t, 2, res.OrdersTouched)

	// The older sell fills first.
	assert.Equal(t, market.StatusDone, store.Order(sellA.ID).Status)
	assert.Equal(t, market.StatusActive, store.Order(sellB.ID).Status)

	trades := store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, sellA.ID, trades[0].SellOrderID)
}

func TestMatchTimeTieBreaksByID(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)
	fund(wallet, 3)

	first := store.PlaceOrder(order(1, market.Sell, "100", "1", baseTime))
	store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))
	store.PlaceOrder(order(3, market.Buy, "100", "1", baseTime))

	_, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)

	trades := store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, first.ID, trades[0].SellOrderID)
}

func TestMatchMultipleFills(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)
	fund(wallet, 3)

	buy := store.PlaceOrder(order(1, market.Buy, "100", "3", baseTime))
	sell1 := store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime.Add(time.Second)))
	sell2 := store.PlaceOrder(order(3, market.Sell, "100", "2", baseTime.Add(2*time.Second)))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Trades)

	got := store.Order(buy.ID)
	assert.Equal(t, market.StatusDone, got.Status)
	assert.Equal(t, "3", got.MatchedAmount.String())
	assert.Equal(t, "300", got.MatchedTotalPrice.String())
	assert.Equal(t, market.StatusDone, store.Order(sell1.ID).Status)
	assert.Equal(t, market.StatusDone, store.Order(sell2.ID).Status)
}

func TestMatchAtRestingPrice(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	store.PlaceOrder(order(1, market.Sell, "100", "1", baseTime))
	store.PlaceOrder(order(2, market.Buy, "102", "1", baseTime.Add(time.Second)))

	_, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)

	trades := store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "100", trades[0].Price.String())
}

func TestMatchMarketOrderTakesLimitPrice(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	store.PlaceOrder(order(1, market.Sell, "100", "1", baseTime))
	taker := order(2, market.Buy, "0", "1", baseTime.Add(time.Second))
	taker.Execution = market.MarketExec
	taker.Price = decimal.Zero
	store.PlaceOrder(taker)

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Trades)

	trades := store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "100", trades[0].Price.String())
}

func TestMatchTwoMarketOrdersCancelsNewer(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	older := order(1, market.Sell, "0", "1", baseTime)
	older.Execution = market.MarketExec
	older.Price = decimal.Zero
	olderStored := store.PlaceOrder(older)

	newer := order(2, market.Buy, "0", "1", baseTime.Add(time.Second))
	newer.Execution = market.MarketExec
	newer.Price = decimal.Zero
	newerStored := store.PlaceOrder(newer)

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Trades)
	assert.Equal(t, 1, res.Canceled)

	assert.Equal(t, market.StatusCanceled, store.Order(newerStored.ID).Status)
	assert.Equal(t, market.StatusActive, store.Order(olderStored.ID).Status)
}

func TestMatchNoCross(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	store.PlaceOrder(order(1, market.Sell, "101", "1", baseTime))
	store.PlaceOrder(order(2, market.Buy, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Trades)
	assert.Empty(t, store.Trades())
}

func TestMatchWalletFailureRollsBack(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 2)
	wallet.Lock(1)

	buy := store.PlaceOrder(order(1, market.Buy, "100", "1", baseTime))
	sell := store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Trades)
	assert.Equal(t, 1, res.WalletRejections)

	// Nothing committed: orders untouched, no trades, seller balance intact.
	gotBuy := store.Order(buy.ID)
	assert.Equal(t, market.StatusActive, gotBuy.Status)
	assert.True(t, gotBuy.MatchedAmount.IsZero())
	assert.Equal(t, market.StatusActive, store.Order(sell.ID).Status)
	assert.Empty(t, store.Trades())
	assert.Equal(t, "1000", wallet.Balance(2, "BTC").String())
}

func TestMatchInsufficientBalanceRollsBack(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 2)
	// Buyer holds nothing; the quote debit must fail.

	buy := store.PlaceOrder(order(1, market.Buy, "100", "1", baseTime))
	store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WalletRejections)
	assert.Empty(t, store.Trades())
	assert.True(t, store.Order(buy.ID).MatchedAmount.IsZero())
}

func TestMatchRoundTradeCap(t *testing.T) {
	store, wallet, _ := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	for i := 0; i < 3; i++ {
		at := baseTime.Add(time.Duration(i) * time.Second)
		store.PlaceOrder(order(1, market.Buy, "100", "1", at))
		store.PlaceOrder(order(2, market.Sell, "100", "1", at))
	}

	fees := matcher.NewFlatFeeSchedule(decimal.Zero)
	m := matcher.New(store, wallet, fees, matcher.WithMaxRoundTrades(2))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Trades)
	assert.Len(t, store.Trades(), 2)

	// The next round picks up the remainder.
	res, err = m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Trades)
}

func TestMatchAnomalyAbandonsRound(t *testing.T) {
	store, wallet, m := newFixture(t)
	fund(wallet, 1)
	fund(wallet, 2)

	store.PlaceOrder(order(1, market.Buy, "100", "0", baseTime))
	store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Trades)
	assert.Equal(t, 1, res.PriceAnomalies)
	assert.Empty(t, store.Trades())
}

func TestMatchSellerShortfallReversesBuyerDebit(t *testing.T) {
	store, _, _ := newFixture(t)

	// Buyer is fully funded; seller holds no base currency, so the second
	// wallet movement fails after the buyer's quote debit already applied.
	wallet := matcher.NewMemoryWallet()
	wallet.Deposit(1, "USDT", decimal.NewFromInt(1000))
	m := matcher.New(store, wallet, matcher.NewFlatFeeSchedule(decimal.Zero))

	buy := store.PlaceOrder(order(1, market.Buy, "100", "1", baseTime))
	store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WalletRejections)
	assert.Empty(t, store.Trades())
	assert.True(t, store.Order(buy.ID).MatchedAmount.IsZero())

	// The buyer's debit was compensated, not leaked.
	assert.Equal(t, "1000", wallet.Balance(1, "USDT").String())
}

// failingWallet delegates to a MemoryWallet but refuses one specific call.
type failingWallet struct {
	inner  *matcher.MemoryWallet
	failOn int
	calls  int
}

func (w *failingWallet) Adjust(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error {
	w.calls++
	if w.calls == w.failOn {
		return matcher.ErrWalletLocked
	}
	return w.inner.Adjust(ctx, userID, currency, amount)
}

func TestMatchLateWalletFailureReversesAllMovements(t *testing.T) {
	store, _, _ := newFixture(t)

	inner := matcher.NewMemoryWallet()
	inner.Deposit(1, "USDT", decimal.NewFromInt(1000))
	inner.Deposit(2, "BTC", decimal.NewFromInt(1))
	wallet := &failingWallet{inner: inner, failOn: 4}
	m := matcher.New(store, wallet, matcher.NewFlatFeeSchedule(decimal.Zero))

	store.PlaceOrder(order(1, market.Buy, "100", "1", baseTime))
	store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WalletRejections)
	assert.Empty(t, store.Trades())

	// All three applied movements were reversed.
	assert.Equal(t, "1000", inner.Balance(1, "USDT").String())
	assert.Equal(t, "0", inner.Balance(1, "BTC").String())
	assert.Equal(t, "1", inner.Balance(2, "BTC").String())
	assert.Equal(t, "0", inner.Balance(2, "USDT").String())
}

func TestMatchFeesAndBalances(t *testing.T) {
	store, _, _ := newFixture(t)

	wallet := matcher.NewMemoryWallet()
	wallet.Deposit(1, "USDT", decimal.NewFromInt(1000))
	wallet.Deposit(2, "BTC", decimal.NewFromInt(1))
	fees := matcher.NewFlatFeeSchedule(decimal.RequireFromString("0.001"))
	m := matcher.New(store, wallet, fees)

	buy := store.PlaceOrder(order(1, market.Buy, "100", "1", baseTime))
	sell := store.PlaceOrder(order(2, market.Sell, "100", "1", baseTime.Add(time.Second)))

	res, err := m.Run(context.Background(), btcUsdt)
	require.NoError(t, err)
	require.Equal(t, 1, res.Trades)

	// Buyer pays 100 USDT, receives 1 BTC less the 0.001 base fee.
	assert.Equal(t, "900", wallet.Balance(1, "USDT").String())
	assert.Equal(t, "0.999", wallet.Balance(1, "BTC").String())
	// Seller gives 1 BTC, receives 100 USDT less the 0.1 quote fee.
	assert.Equal(t, "0", wallet.Balance(2, "BTC").String())
	assert.Equal(t, "99.9", wallet.Balance(2, "USDT").String())

	assert.Equal(t, "0.001", store.Order(buy.ID).Fee.String())
	assert.Equal(t, "0.1", store.Order(sell.ID).Fee.String())
}
