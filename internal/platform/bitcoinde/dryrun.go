package bitcoinde

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// DryRunBroker simulates fills without touching the marketplace. Every
// order fills completely at the offer price minus FeeRate.
type DryRunBroker struct {
	FeeRate decimal.Decimal // e.g. 0.005 for 0.5%
	logger  *slog.Logger
}

// NewDryRunBroker returns a simulated broker charging feeRate per trade.
func NewDryRunBroker(feeRate decimal.Decimal, logger *slog.Logger) *DryRunBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunBroker{
		FeeRate: feeRate,
		logger:  logger.With(slog.String("component", "dry_run_broker")),
	}
}

func (d *DryRunBroker) keep() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(d.FeeRate)
}

// Buy returns quantity minus the fee, in coins.
func (d *DryRunBroker) Buy(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (decimal.Decimal, error) {
	filled := domain.NormalizeQuantity(quantity.Mul(d.keep()))
	d.logger.InfoContext(ctx, "dry run buy",
		slog.String("offer_id", offer.OrderID),
		slog.String("quantity", quantity.String()),
		slog.String("filled", filled.String()),
	)
	return filled, nil
}

// Sell returns the notional minus the fee, in minor units.
func (d *DryRunBroker) Sell(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (int64, error) {
	proceeds := offer.Notional(quantity).Mul(d.keep()).RoundBank(0).IntPart()
	d.logger.InfoContext(ctx, "dry run sell",
		slog.String("offer_id", offer.OrderID),
		slog.String("quantity", quantity.String()),
		slog.Int64("proceeds", proceeds),
	)
	return proceeds, nil
}
