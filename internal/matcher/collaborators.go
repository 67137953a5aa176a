package matcher

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"matchd/internal/market"
)

// Wallet is the external ledger collaborator. Adjust credits (positive
// amount) or debits (negative amount) one user's wallet atomically. It is
// called inside an open match transaction, so a failure here rolls the
// order/trade mutation back with it. Implementations must be idempotent-safe
// under retry.
type Wallet interface {
	Adjust(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error
}

// FeeSchedule is the fee lookup collaborator. Pure lookup, no side effects.
type FeeSchedule interface {
	Rate(ctx context.Context, userID int64, m market.Market) (decimal.Decimal, error)
}

// FlatFeeSchedule charges every user the same rate.
type FlatFeeSchedule struct {
	rate decimal.Decimal
}

// NewFlatFeeSchedule creates a schedule with a single rate, e.g. 0.001 for
// ten basis points.
func NewFlatFeeSchedule(rate decimal.Decimal) *FlatFeeSchedule {
	return &FlatFeeSchedule{rate: rate}
}

// Rate returns the flat rate regardless of user or market.
func (f *FlatFeeSchedule) Rate(context.Context, int64, market.Market) (decimal.Decimal, error) {
	return f.rate, nil
}

// MemoryWallet keeps balances in memory, useful for testing. Debits below
// the available balance fail with ErrInsufficientBalance; locked users fail
// with ErrWalletLocked.
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[int64]map[string]decimal.Decimal
	locked   map[int64]bool
}

// NewMemoryWallet creates an empty MemoryWallet.
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		balances: make(map[int64]map[string]decimal.Decimal),
		locked:   make(map[int64]bool),
	}
}

// Deposit credits a user outside of any transaction.
func (w *MemoryWallet) Deposit(userID int64, currency string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credit(userID, currency, amount)
}

// Lock makes every subsequent Adjust for the user fail with ErrWalletLocked.
func (w *MemoryWallet) Lock(userID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked[userID] = true
}

// Balance returns the user's balance in one currency.
func (w *MemoryWallet) Balance(userID int64, currency string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID][currency]
}

// Adjust implements Wallet.
func (w *MemoryWallet) Adjust(_ context.Context, userID int64, currency string, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked[userID] {
		return ErrWalletLocked
	}
	if amount.IsNegative() && w.balances[userID][currency].Add(amount).IsNegative() {
		return ErrInsufficientBalance
	}
	w.credit(userID, currency, amount)
	return nil
}

func (w *MemoryWallet) credit(userID int64, currency string, amount decimal.Decimal) {
	if w.balances[userID] == nil {
		w.balances[userID] = make(map[string]decimal.Decimal)
	}
	w.balances[userID][currency] = w.balances[userID][currency].Add(amount)
}
