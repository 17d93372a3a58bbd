package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore for a single trader, keyed
// by trader name in the trader_snapshots table.
type SnapshotStore struct {
	pool   *pgxpool.Pool
	trader string
}

// NewSnapshotStore creates a SnapshotStore for the named trader.
func NewSnapshotStore(pool *pgxpool.Pool, trader string) *SnapshotStore {
	return &SnapshotStore{pool: pool, trader: trader}
}

// Load returns the stored snapshot, or domain.ErrNotFound if the trader has
// never been saved.
func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	const query = `
		SELECT cash, ledger, highest_price_buying, lowest_price_selling, updated_at
		FROM trader_snapshots WHERE trader = $1`

	snap := domain.Snapshot{Trader: s.trader}
	var ledger []byte
	err := s.pool.QueryRow(ctx, query, s.trader).Scan(
		&snap.Cash, &ledger, &snap.HighestPriceBuying, &snap.LowestPriceSelling, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot %s: %w", s.trader, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load snapshot %s: %w", s.trader, err)
	}
	if err := json.Unmarshal(ledger, &snap.Ledger); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: unmarshal ledger %s: %w", s.trader, err)
	}
	return snap, nil
}

// Save upserts the snapshot, replacing whatever was stored before.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	ledger, err := json.Marshal(snap.Ledger)
	if err != nil {
		return fmt.Errorf("postgres: marshal ledger %s: %w", s.trader, err)
	}
	if snap.Ledger == nil {
		ledger = []byte("[]")
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	const query = `
		INSERT INTO trader_snapshots (
			trader, cash, ledger, highest_price_buying, lowest_price_selling, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trader) DO UPDATE SET
			cash = EXCLUDED.cash,
			ledger = EXCLUDED.ledger,
			highest_price_buying = EXCLUDED.highest_price_buying,
			lowest_price_selling = EXCLUDED.lowest_price_selling,
			updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		s.trader, snap.Cash, ledger, snap.HighestPriceBuying, snap.LowestPriceSelling, updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", s.trader, err)
	}
	return nil
}
