package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Quantities travel as text so no precision is lost to float conversion.
const fillSelectCols = `id, trader, order_id, pair, action, price,
	requested::text, filled::text, cash, cash_after, executed_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var (
			f                 domain.Fill
			pair, action      string
			requested, filled string
		)
		if err := rows.Scan(
			&f.ID, &f.Trader, &f.OrderID, &pair, &action, &f.Price,
			&requested, &filled, &f.Cash, &f.CashAfter, &f.ExecutedAt,
		); err != nil {
			return nil, err
		}
		f.Pair = domain.ParseTradingPair(pair)
		f.Action = domain.Action(action)

		var err error
		if f.Requested, err = decimal.NewFromString(requested); err != nil {
			return nil, fmt.Errorf("requested %q: %w", requested, err)
		}
		if f.Filled, err = decimal.NewFromString(filled); err != nil {
			return nil, fmt.Errorf("filled %q: %w", filled, err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Record inserts a fill. Re-recording the same fill ID is a no-op.
func (s *TradeStore) Record(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, trader, order_id, pair, action, price,
			requested, filled, cash, cash_after, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.Trader, f.OrderID, string(f.Pair), string(f.Action), f.Price,
		f.Requested.String(), f.Filled.String(), f.Cash, f.CashAfter, f.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", f.ID, err)
	}
	return nil
}

// ListByTrader returns the fills of one trader, newest first.
func (s *TradeStore) ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := pageClause(
		`SELECT `+fillSelectCols+` FROM fills WHERE trader = $1`,
		"executed_at", []any{trader}, opts.Since, opts.Until, opts.Limit, opts.Offset,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", trader, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}
