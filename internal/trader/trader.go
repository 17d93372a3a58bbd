// Package trader implements the decision engine: a ledger of bought coins
// and the rules deciding whether to buy from or sell to an incoming offer.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Broker executes trades against the marketplace. Buy returns the coins
// received after fees, Sell the money received after fees in minor units.
// An error or a non-positive result means the trade did not happen.
type Broker interface {
	Buy(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (decimal.Decimal, error)
	Sell(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (int64, error)
}

// Trader remembers the coins it bought and sells them only at the profit
// its policy demands. All methods are safe for concurrent use; offers are
// processed one at a time.
type Trader struct {
	name   string
	policy Policy
	broker Broker
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	ledger *Ledger
}

// New creates a trader. A nil ledger starts empty without cash.
func New(name string, policy Policy, broker Broker, ledger *Ledger, logger *slog.Logger) (*Trader, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("trader %s: %w", name, err)
	}
	if broker == nil {
		return nil, fmt.Errorf("trader %s: broker is required", name)
	}
	if ledger == nil {
		ledger = NewLedger(0, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trader{
		name:   name,
		policy: policy,
		broker: broker,
		ledger: ledger,
		now:    time.Now,
		logger: logger.With(
			slog.String("component", "trader"),
			slog.String("trader", name),
		),
	}, nil
}

// Name returns the trader's name.
func (t *Trader) Name() string { return t.name }

// Policy returns a copy of the trader's policy.
func (t *Trader) Policy() Policy { return t.policy }

// Cash returns the available money in minor units.
func (t *Trader) Cash() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.Cash
}

// Tiers returns the held tiers in ascending price order.
func (t *Trader) Tiers() []domain.Tier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.Tiers()
}

// Snapshot returns the persistable state of the trader.
func (t *Trader) Snapshot() domain.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.Snapshot{
		Trader:             t.name,
		Cash:               t.ledger.Cash,
		Ledger:             t.ledger.Tiers(),
		HighestPriceBuying: t.ledger.HighestPriceBuying,
		LowestPriceSelling: t.ledger.LowestPriceSelling,
		UpdatedAt:          t.now().UTC(),
	}
}

func (t *Trader) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("%s: %.2f and %d tiers", t.name, float64(t.ledger.Cash)/100, t.ledger.Len())
}

// ProcessOffer reacts to a single offer. Someone wanting to buy is a chance
// to sell and vice versa. It reports whether a trade was executed.
func (t *Trader) ProcessOffer(ctx context.Context, offer domain.Offer) (domain.Fill, bool) {
	if offer.Pair != t.policy.Pair {
		return domain.Fill{}, false
	}
	if offer.Price <= 0 {
		return t.reject(ctx, offer, "non_positive_price")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch offer.Side {
	case domain.SideBuy:
		return t.considerSell(ctx, offer)
	case domain.SideSell:
		return t.considerBuy(ctx, offer)
	}
	return domain.Fill{}, false
}

func (t *Trader) reject(ctx context.Context, offer domain.Offer, reason string, attrs ...slog.Attr) (domain.Fill, bool) {
	attrs = append([]slog.Attr{
		slog.String("offer_id", offer.OrderID),
		slog.String("side", string(offer.Side)),
		slog.Int64("price", offer.Price),
		slog.String("reason", reason),
	}, attrs...)
	t.logger.LogAttrs(ctx, slog.LevelInfo, "offer rejected", attrs...)
	return domain.Fill{}, false
}

// considerBuy decides whether to buy coins from a sell offer.
func (t *Trader) considerBuy(ctx context.Context, offer domain.Offer) (domain.Fill, bool) {
	l := t.ledger
	p := t.policy
	l.ObserveSellOffer(offer.Price)

	if offer.Notional(offer.MinAmount).GreaterThan(decimal.NewFromInt(p.MaxNotional())) {
		return t.reject(ctx, offer, "min_amount_too_expensive")
	}
	if offer.Notional(offer.Amount).LessThan(decimal.NewFromInt(p.MinNotional())) {
		return t.reject(ctx, offer, "amount_too_small")
	}

	if !l.Empty() {
		if offer.Price > l.LastPurchasePrice-p.StepPrice {
			reason := "too_close_to_last_purchase"
			if offer.Price > l.LastPurchasePrice {
				reason = "above_last_purchase"
			}
			return t.reject(ctx, offer, reason, slog.Int64("last_purchase_price", l.LastPurchasePrice))
		}
	} else if offer.Price > l.HighestPriceBuying-p.TurnaroundPrice {
		return t.reject(ctx, offer, "turnaround_not_reached",
			slog.Int64("threshold", l.HighestPriceBuying-p.TurnaroundPrice))
	}

	// Marketplaces do not accept obscure quantities.
	quantity := decimal.NewFromInt(p.Spend).
		Div(decimal.NewFromInt(offer.Price)).
		RoundBank(p.Decimals)
	if quantity.GreaterThan(offer.Amount) {
		quantity = offer.Amount
	}
	if quantity.LessThan(offer.MinAmount) {
		quantity = offer.MinAmount
	}
	if !quantity.IsPositive() {
		return t.reject(ctx, offer, "zero_quantity")
	}

	cost := offer.Notional(quantity)
	if cost.GreaterThan(decimal.NewFromInt(l.Cash)) {
		return t.reject(ctx, offer, "insufficient_cash", slog.Int64("cash", l.Cash))
	}

	t.logger.InfoContext(ctx, "buying",
		slog.String("offer", offer.String()),
		slog.String("quantity", quantity.String()),
	)
	filled, err := t.broker.Buy(ctx, offer, quantity)
	if err != nil || !filled.IsPositive() {
		t.logExecutionFailure(ctx, offer, quantity, err)
		return domain.Fill{}, false
	}
	filled = domain.NormalizeQuantity(filled)

	// Cost tracking uses the ordered notional, holdings the coins received.
	debit := cost.RoundBank(0).IntPart()
	l.Cash -= debit
	l.LastPurchasePrice = offer.Price
	l.Add(offer.Price, filled)

	t.logger.InfoContext(ctx, "bought",
		slog.String("offer_id", offer.OrderID),
		slog.String("filled", filled.String()),
		slog.Int64("cost", debit),
		slog.Int64("cash", l.Cash),
	)
	return t.fill(offer, domain.ActionBought, quantity, filled, debit), true
}

// considerSell decides whether to sell held coins to a buy offer. The
// cheapest tiers are sold first and only as far as the sale stays
// profitable.
func (t *Trader) considerSell(ctx context.Context, offer domain.Offer) (domain.Fill, bool) {
	l := t.ledger
	l.ObserveBuyOffer(offer.Price)

	if l.Empty() {
		return t.reject(ctx, offer, "empty_ledger")
	}

	var (
		accumulated = decimal.Zero
		cost        = decimal.Zero
		certified   = decimal.Zero
		certCost    = decimal.Zero
		certifying  = true
	)
	for tier := range l.Ascending {
		if accumulated.GreaterThanOrEqual(offer.Amount) {
			break
		}
		take, partial := tier.Quantity, false
		if need := offer.Amount.Sub(accumulated); take.GreaterThan(need) {
			take, partial = need, true
		}
		accumulated = accumulated.Add(take)
		cost = cost.Add(decimal.NewFromInt(tier.Price).Mul(take))

		if certifying {
			if t.policy.IsProfitable(accumulated, offer, cost) {
				certified, certCost = accumulated, cost
			} else {
				certifying = false
			}
		}
		if partial {
			break
		}
	}

	if !accumulated.IsPositive() || accumulated.LessThan(offer.MinAmount) {
		return t.reject(ctx, offer, "insufficient_holdings", slog.String("available", accumulated.String()))
	}
	if !certified.IsPositive() {
		return t.reject(ctx, offer, "profit_too_low",
			slog.String("cost_basis", cost.String()),
			slog.String("revenue", offer.Notional(accumulated).String()),
		)
	}
	if certified.LessThan(offer.MinAmount) {
		return t.reject(ctx, offer, "profitable_amount_below_min",
			slog.String("profitable", certified.String()))
	}

	quantity := certified.Truncate(domain.QuantityPlaces)
	if quantity.LessThan(offer.MinAmount) {
		quantity = offer.MinAmount
	}

	t.logger.InfoContext(ctx, "selling",
		slog.String("offer", offer.String()),
		slog.String("quantity", quantity.String()),
		slog.String("cost_basis", certCost.String()),
	)
	proceeds, err := t.broker.Sell(ctx, offer, quantity)
	if err != nil || proceeds <= 0 {
		t.logExecutionFailure(ctx, offer, quantity, err)
		return domain.Fill{}, false
	}

	l.Cash += proceeds
	t.consume(quantity)

	t.logger.InfoContext(ctx, "sold",
		slog.String("offer_id", offer.OrderID),
		slog.String("quantity", quantity.String()),
		slog.Int64("proceeds", proceeds),
		slog.Int64("cash", l.Cash),
	)
	return t.fill(offer, domain.ActionSold, quantity, quantity, proceeds), true
}

// consume removes quantity from the cheapest tiers. A partially consumed
// tier keeps its remainder.
func (t *Trader) consume(quantity decimal.Decimal) {
	type change struct {
		price int64
		left  decimal.Decimal
	}
	var changes []change
	remaining := quantity
	for tier := range t.ledger.Ascending {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(tier.Quantity, remaining)
		remaining = remaining.Sub(take)
		changes = append(changes, change{price: tier.Price, left: tier.Quantity.Sub(take)})
	}
	for _, c := range changes {
		t.ledger.Set(c.price, c.left)
	}
}

func (t *Trader) logExecutionFailure(ctx context.Context, offer domain.Offer, quantity decimal.Decimal, err error) {
	attrs := []slog.Attr{
		slog.String("offer_id", offer.OrderID),
		slog.String("side", string(offer.Side)),
		slog.String("quantity", quantity.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	t.logger.LogAttrs(ctx, slog.LevelWarn, "trade execution failed", attrs...)
}

func (t *Trader) fill(offer domain.Offer, action domain.Action, requested, filled decimal.Decimal, cash int64) domain.Fill {
	return domain.Fill{
		ID:         uuid.NewString(),
		Trader:     t.name,
		OrderID:    offer.OrderID,
		Pair:       offer.Pair,
		Action:     action,
		Price:      offer.Price,
		Requested:  requested,
		Filled:     filled,
		Cash:       cash,
		CashAfter:  t.ledger.Cash,
		ExecutedAt: t.now().UTC(),
	}
}
