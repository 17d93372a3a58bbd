// Package runner feeds one ordered stream of marketplace events to a set
// of traders and persists whatever they do.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/alanyoungcy/gannbot/internal/trader"
)

// ErrShapeMismatch is returned when traders and snapshot stores differ in
// number.
var ErrShapeMismatch = domain.ErrShapeMismatch

// Audit event names.
const (
	AuditOfferRemoved  = "offer_removed"
	AuditTradeExecuted = "trade_executed"
)

// TradeNotifier announces executed trades.
type TradeNotifier interface {
	TradeExecuted(ctx context.Context, fill domain.Fill) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithTradeStore journals every executed trade.
func WithTradeStore(s domain.TradeStore) Option {
	return func(r *Runner) { r.trades = s }
}

// WithAuditStore writes removals and trades to the audit log.
func WithAuditStore(s domain.AuditStore) Option {
	return func(r *Runner) { r.audit = s }
}

// WithNotifier announces executed trades.
func WithNotifier(n TradeNotifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner offers every event to its traders in order. The first trader
// accepting an offer takes it; the remaining traders never see it.
type Runner struct {
	traders []*trader.Trader
	stores  []domain.SnapshotStore

	trades   domain.TradeStore
	audit    domain.AuditStore
	notifier TradeNotifier
	logger   *slog.Logger
}

// New pairs each trader with the snapshot store at the same index.
func New(traders []*trader.Trader, stores []domain.SnapshotStore, opts ...Option) (*Runner, error) {
	if len(traders) != len(stores) {
		return nil, fmt.Errorf("runner: %d traders, %d snapshot stores: %w",
			len(traders), len(stores), ErrShapeMismatch)
	}
	r := &Runner{
		traders: traders,
		stores:  stores,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "runner"))
	return r, nil
}

// Traders returns the traders in offer order.
func (r *Runner) Traders() []*trader.Trader { return r.traders }

// Run consumes events until the channel is closed or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, events <-chan domain.Event) error {
	r.logger.Info("runner started", slog.Int("traders", len(r.traders)))
	defer r.logger.Info("runner stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, ev); err != nil {
				r.logger.Error("handle event failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Handle routes one event.
func (r *Runner) Handle(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventOfferAdded:
		_, err := r.HandleOffer(ctx, ev.Offer)
		return err
	case domain.EventOfferRemoved:
		return r.HandleRemoval(ctx, ev.Removal)
	}
	return fmt.Errorf("runner: %w: %d", domain.ErrUnknownEvent, ev.Type)
}

// HandleOffer offers o to each trader in turn and reports whether one of
// them traded. The accepting trader's snapshot is saved before returning.
func (r *Runner) HandleOffer(ctx context.Context, o domain.Offer) (bool, error) {
	for i, t := range r.traders {
		fill, ok := t.ProcessOffer(ctx, o)
		if !ok {
			continue
		}

		snap := t.Snapshot()
		if err := r.stores[i].Save(ctx, snap); err != nil {
			r.logger.ErrorContext(ctx, "snapshot save failed",
				slog.String("trader", t.Name()),
				slog.String("error", err.Error()),
			)
			return true, fmt.Errorf("runner: save snapshot of %s: %w", t.Name(), err)
		}
		r.afterTrade(ctx, fill)
		// The offer is gone now.
		return true, nil
	}
	return false, nil
}

// afterTrade journals and announces a fill. Failures are logged only; the
// trade has already happened.
func (r *Runner) afterTrade(ctx context.Context, fill domain.Fill) {
	if r.trades != nil {
		if err := r.trades.Record(ctx, fill); err != nil {
			r.logger.WarnContext(ctx, "trade journal failed",
				slog.String("fill_id", fill.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.audit != nil {
		detail := map[string]any{
			"trader":   fill.Trader,
			"order_id": fill.OrderID,
			"action":   string(fill.Action),
			"price":    fill.Price,
			"quantity": fill.Filled.String(),
			"cash":     fill.Cash,
		}
		if err := r.audit.Log(ctx, AuditTradeExecuted, detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if r.notifier != nil {
		if err := r.notifier.TradeExecuted(ctx, fill); err != nil {
			r.logger.WarnContext(ctx, "trade notification failed", slog.String("error", err.Error()))
		}
	}
}

// HandleRemoval records that an offer left the marketplace. Traders keep
// no state about foreign offers, so nothing else happens.
func (r *Runner) HandleRemoval(ctx context.Context, rm domain.Removal) error {
	r.logger.DebugContext(ctx, "offer removed",
		slog.String("offer_id", rm.OrderID),
		slog.String("side", string(rm.Side)),
		slog.String("reason", rm.Reason),
	)
	if r.audit == nil {
		return nil
	}
	detail := map[string]any{
		"order_id": rm.OrderID,
		"side":     string(rm.Side),
		"reason":   rm.Reason,
	}
	if rm.Price > 0 {
		detail["price"] = rm.Price
	}
	if rm.Amount != nil {
		detail["amount"] = rm.Amount.String()
	}
	if err := r.audit.Log(ctx, AuditOfferRemoved, detail); err != nil {
		return fmt.Errorf("runner: audit removal %s: %w", rm.OrderID, err)
	}
	return nil
}
