package repository

import (
	"context"
	"database/sql"
	"errors"

	"matchd/internal/market"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrOrderNotFound  = errors.New("order not found")
)

// MarketRepository reads the markets table. Markets are created
// administratively and read-mostly, so there is no write path here.
type MarketRepository struct {
	db *sql.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sql.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

const marketColumns = `id, symbol, base_currency, quote_currency, is_active, price_precision, amount_precision`

// GetBySymbol returns one market by its display symbol.
func (r *MarketRepository) GetBySymbol(ctx context.Context, symbol string) (*market.Market, error) {
	query := `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE symbol = $1`

	m := &market.Market{}
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&m.ID,
		&m.Symbol,
		&m.BaseCurrency,
		&m.QuoteCurrency,
		&m.IsActive,
		&m.PricePrecision,
		&m.AmountPrecision,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}

	return m, nil
}

// ListActive returns every active market ordered by symbol.
func (r *MarketRepository) ListActive(ctx context.Context) ([]market.Market, error) {
	query := `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE is_active = TRUE
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []market.Market
	for rows.Next() {
		var m market.Market
		err := rows.Scan(
			&m.ID,
			&m.Symbol,
			&m.BaseCurrency,
			&m.QuoteCurrency,
			&m.IsActive,
			&m.PricePrecision,
			&m.AmountPrecision,
		)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return markets, nil
}
