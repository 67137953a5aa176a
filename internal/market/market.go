package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Execution string

const (
	Limit      Execution = "limit"
	MarketExec Execution = "market"
	StopLimit  Execution = "stop_limit"
	StopMarket Execution = "stop_market"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDone     Status = "done"
	StatusCanceled Status = "canceled"
)

// Market is a tradable (base, quote) currency pair. Created administratively,
// read-mostly; IsActive is toggled by ops.
type Market struct {
	ID              int64
	Symbol          string
	BaseCurrency    string
	QuoteCurrency   string
	IsActive        bool
	PricePrecision  int32 // digits after the decimal point
	AmountPrecision int32
}

// QuantizePrice rounds a price to the market's declared precision.
func (m Market) QuantizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(m.PricePrecision)
}

// QuantizeAmount truncates an amount to the market's declared precision.
// Truncation, not rounding: an amount must never be rounded up past what the
// order actually holds.
func (m Market) QuantizeAmount(a decimal.Decimal) decimal.Decimal {
	return a.Truncate(m.AmountPrecision)
}

// Order is a standing instruction to buy or sell a fixed amount of base
// currency in one market. Orders are created by the placement path in active
// status and mutated only by the matcher (fills) or cancellation; they are
// never deleted.
type Order struct {
	ID                int64
	UserID            int64
	MarketID          int64
	Side              Side
	Execution         Execution
	Price             decimal.Decimal
	Amount            decimal.Decimal
	MatchedAmount     decimal.Decimal
	MatchedTotalPrice decimal.Decimal
	Fee               decimal.Decimal
	Status            Status
	CreatedAt         time.Time
}

// Unfilled returns the remaining quantity to be matched.
func (o *Order) Unfilled() decimal.Decimal {
	return o.Amount.Sub(o.MatchedAmount)
}

// Fill records a partial or complete fill. The order transitions to done
// exactly when matched amount reaches amount.
func (o *Order) Fill(amount, price, fee decimal.Decimal) {
	o.MatchedAmount = o.MatchedAmount.Add(amount)
	o.MatchedTotalPrice = o.MatchedTotalPrice.Add(amount.Mul(price))
	o.Fee = o.Fee.Add(fee)
	if o.MatchedAmount.GreaterThanOrEqual(o.Amount) {
		o.Status = StatusDone
	}
}

// ArrivedBefore reports whether o has time priority over other.
// Ties on creation time fall back to ascending ID (insertion sequence).
func (o *Order) ArrivedBefore(other *Order) bool {
	if !o.CreatedAt.Equal(other.CreatedAt) {
		return o.CreatedAt.Before(other.CreatedAt)
	}
	return o.ID < other.ID
}

// Trade is an immutable record of one match between exactly one buy order and
// one sell order. Created once inside the matcher's transaction, never
// mutated afterward.
type Trade struct {
	ID          int64
	MarketID    int64
	BuyOrderID  int64
	SellOrderID int64
	BuyUserID   int64
	SellUserID  int64
	Amount      decimal.Decimal
	Price       decimal.Decimal
	CreatedAt   time.Time
}

// Notional returns the traded quote-currency value.
func (t *Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}
