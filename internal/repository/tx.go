// Package repository persists markets, orders, and trades in PostgreSQL and
// adapts them to the interfaces the book and matcher packages consume. An
// in-memory implementation with the same semantics backs tests and local
// runs without a database.
package repository

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// repository methods can run standalone or inside a transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WithinTx runs fn under one transaction: commit on nil, rollback on error
// or panic. Every mutating path in the matching core goes through this.
func WithinTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
