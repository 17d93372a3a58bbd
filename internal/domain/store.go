package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists the state of one trader. Save replaces the previous
// snapshot entirely.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// TradeStore journals executed trades.
type TradeStore interface {
	Record(ctx context.Context, fill Fill) error
	ListByTrader(ctx context.Context, trader string, opts ListOpts) ([]Fill, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
