package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "symbol", "base_currency", "quote_currency", "is_active",
		"price_precision", "amount_precision",
	})
}

func TestGetBySymbol(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM markets WHERE symbol = \$1`).
		WithArgs("BTC-USDT").
		WillReturnRows(marketRows().AddRow(1, "BTC-USDT", "BTC", "USDT", true, 2, 4))

	repo := NewMarketRepository(db)
	m, err := repo.GetBySymbol(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", m.BaseCurrency)
	assert.Equal(t, int32(2), m.PricePrecision)
}

func TestGetBySymbolNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM markets`).
		WithArgs("NOPE-USDT").
		WillReturnError(sql.ErrNoRows)

	repo := NewMarketRepository(db)
	_, err = repo.GetBySymbol(context.Background(), "NOPE-USDT")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestListActive(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM markets WHERE is_active = TRUE ORDER BY symbol`).
		WillReturnRows(marketRows().
			AddRow(1, "BTC-USDT", "BTC", "USDT", true, 2, 4).
			AddRow(2, "ETH-USDT", "ETH", "USDT", true, 2, 3))

	repo := NewMarketRepository(db)
	markets, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC-USDT", markets[0].Symbol)
	assert.Equal(t, "ETH-USDT", markets[1].Symbol)
}
