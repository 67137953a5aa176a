// Package matcher executes trades for single markets with strict price-time
// priority. One Run call is one matching round for one market: it repeatedly
// takes the best standing buy and sell order, trades the overlap inside an
// atomic unit of work, and stops when the book no longer crosses or the
// per-round cap is reached.
package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"matchd/internal/market"
)

// DefaultMaxRoundTrades bounds how many trades one market may produce in a
// single round, so a hot market cannot starve the rest of its partition.
const DefaultMaxRoundTrades = 100

// Result is what one matching round produced for one market.
type Result struct {
	Trades           int
	OrdersTouched    int
	Canceled         int
	WalletRejections int
	PriceAnomalies   int
	Elapsed          time.Duration
}

// Matcher is the per-market trade engine.
type Matcher struct {
	store          Store
	wallet         Wallet
	fees           FeeSchedule
	maxRoundTrades int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMaxRoundTrades overrides the per-round trade cap.
func WithMaxRoundTrades(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.maxRoundTrades = n
		}
	}
}

// New creates a Matcher over the given storage and collaborators.
func New(store Store, wallet Wallet, fees FeeSchedule, opts ...Option) *Matcher {
	m := &Matcher{
		store:          store,
		wallet:         wallet,
		fees:           fees,
		maxRoundTrades: DefaultMaxRoundTrades,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxRoundTrades returns the per-round trade cap in effect.
func (m *Matcher) MaxRoundTrades() int {
	return m.maxRoundTrades
}

// outcome describes what a single match transaction did.
type outcome int

const (
	outcomeNoCross outcome = iota
	outcomeMatched
	outcomeCanceled
	outcomeAnomaly
)

// Run executes one matching round for one market. Wallet rejections end the
// round without error: the transaction has rolled back and the pair will be
// re-evaluated on a future round, by which time the balance may have cleared
// or the order may have been canceled. Any other error aborts the round and
// is reported to the caller.
func (m *Matcher) Run(ctx context.Context, mkt market.Market) (Result, error) {
	start := time.Now()
	var res Result

	for res.Trades+res.Canceled+res.PriceAnomalies < m.maxRoundTrades {
		out, err := m.matchOnce(ctx, mkt)
		if err != nil {
			if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrWalletLocked) {
				res.WalletRejections++
				break
			}
			res.Elapsed = time.Since(start)
			return res, err
		}

		switch out {
		case outcomeMatched:
			res.Trades++
			res.OrdersTouched += 2
		case outcomeCanceled:
			res.Canceled++
		case outcomeAnomaly:
			// Bad data (non-positive price or amount) is a placement-path
			// bug; abandon this market's round rather than spin on it.
			res.PriceAnomalies++
			res.Elapsed = time.Since(start)
			return res, nil
		case outcomeNoCross:
			res.Elapsed = time.Since(start)
			return res, nil
		}
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// matchOnce runs one fetch/evaluate/execute/commit cycle in its own
// transaction. Returning an error rolls back everything, including the
// wallet movements requested within it.
func (m *Matcher) matchOnce(ctx context.Context, mkt market.Market) (outcome, error) {
	out := outcomeNoCross

	err := m.store.WithinTx(ctx, func(tx Tx) error {
		buy, err := tx.BestOrder(ctx, mkt.ID, market.Buy)
		if err != nil {
			return err
		}
		sell, err := tx.BestOrder(ctx, mkt.ID, market.Sell)
		if err != nil {
			return err
		}
		if buy == nil || sell == nil {
			return nil
		}

		price, priced := matchPrice(buy, sell)
		if !priced {
			// Two market-execution orders with no reference price cannot
			// trade against each other. Cancel the newer one so the book
			// can make progress.
			newer := buy
			if newer.ArrivedBefore(sell) {
				newer = sell
			}
			newer.Status = market.StatusCanceled
			if err := tx.UpdateOrder(ctx, newer); err != nil {
				return err
			}
			out = outcomeCanceled
			return nil
		}

		if !crosses(buy, sell) {
			return nil
		}

		price = mkt.QuantizePrice(price)
		if !price.IsPositive() {
			out = outcomeAnomaly
			return nil
		}

		amount := decimal.Min(buy.Unfilled(), sell.Unfilled())
		if !amount.IsPositive() {
			out = outcomeAnomaly
			return nil
		}

		if err := m.execute(ctx, tx, mkt, buy, sell, amount, price); err != nil {
			return err
		}
		out = outcomeMatched
		return nil
	})
	if err != nil {
		return outcomeNoCross, err
	}
	return out, nil
}

// execute books the trade: both orders are filled, the trade row is written,
// and both wallets are moved, all through the same transaction.
func (m *Matcher) execute(ctx context.Context, tx Tx, mkt market.Market, buy, sell *market.Order, amount, price decimal.Decimal) error {
	buyerRate, err := m.fees.Rate(ctx, buy.UserID, mkt)
	if err != nil {
		return err
	}
	sellerRate, err := m.fees.Rate(ctx, sell.UserID, mkt)
	if err != nil {
		return err
	}

	// Fees are charged in the currency each side receives: the buyer in
	// base, the seller in quote. Notional is computed at full precision
	// before quantization.
	notional := amount.Mul(price)
	buyerFee := mkt.QuantizeAmount(amount.Mul(buyerRate))
	sellerFee := notional.Mul(sellerRate).Round(mkt.PricePrecision)

	buy.Fill(amount, price, buyerFee)
	sell.Fill(amount, price, sellerFee)

	if err := tx.UpdateOrder(ctx, buy); err != nil {
		return err
	}
	if err := tx.UpdateOrder(ctx, sell); err != nil {
		return err
	}

	trade := &market.Trade{
		MarketID:    mkt.ID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyUserID:   buy.UserID,
		SellUserID:  sell.UserID,
		Amount:      amount,
		Price:       price,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return err
	}

	return m.moveFunds(ctx, mkt, buy, sell, amount, notional, buyerFee, sellerFee)
}

type movement struct {
	userID   int64
	currency string
	amount   decimal.Decimal
}

// moveFunds applies the four wallet movements of one trade. The wallet is an
// external ledger outside the match transaction, so a failure part-way
// through must compensate: every movement already applied is reversed before
// the error is returned. Debits run before credits, putting the likely
// failures first.
func (m *Matcher) moveFunds(ctx context.Context, mkt market.Market, buy, sell *market.Order, amount, notional, buyerFee, sellerFee decimal.Decimal) error {
	moves := []movement{
		{buy.UserID, mkt.QuoteCurrency, notional.Neg()},
		{sell.UserID, mkt.BaseCurrency, amount.Neg()},
		{buy.UserID, mkt.BaseCurrency, amount.Sub(buyerFee)},
		{sell.UserID, mkt.QuoteCurrency, notional.Sub(sellerFee)},
	}

	for i, mv := range moves {
		err := m.wallet.Adjust(ctx, mv.userID, mv.currency, mv.amount)
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			undo := moves[j]
			if rbErr := m.wallet.Adjust(ctx, undo.userID, undo.currency, undo.amount.Neg()); rbErr != nil {
				logger.Error("reversing wallet movement failed",
					"user_id", undo.userID,
					"currency", undo.currency,
					"amount", undo.amount.Neg().String(),
					"error", rbErr,
				)
			}
		}
		return err
	}
	return nil
}

// matchPrice resolves the execution price for a crossing pair. Limit versus
// limit trades at the resting (earlier) order's price. A market-execution
// order trades at the opposing limit price. ok is false only when both
// orders are market-execution.
func matchPrice(buy, sell *market.Order) (decimal.Decimal, bool) {
	buyMarket := buy.Execution == market.MarketExec
	sellMarket := sell.Execution == market.MarketExec

	switch {
	case buyMarket && sellMarket:
		return decimal.Zero, false
	case buyMarket:
		return sell.Price, true
	case sellMarket:
		return buy.Price, true
	case buy.ArrivedBefore(sell):
		return buy.Price, true
	default:
		return sell.Price, true
	}
}

// crosses reports whether the pair can trade at all. Market-execution
// orders always cross; limit orders cross when the bid reaches the ask.
func crosses(buy, sell *market.Order) bool {
	if buy.Execution == market.MarketExec || sell.Execution == market.MarketExec {
		return true
	}
	return buy.Price.GreaterThanOrEqual(sell.Price)
}
