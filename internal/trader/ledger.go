package trader

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Ledger is the position book of a trader: coins held per acquisition price
// kept in ascending price order, plus the cash and price trackers the
// decision algorithms consult. It is not safe for concurrent use; Trader
// guards it.
type Ledger struct {
	tiers []domain.Tier

	Cash               int64
	LastPurchasePrice  int64
	HighestPriceBuying int64
	LowestPriceSelling int64
}

// NewLedger builds a ledger from previously held tiers. Tiers with a
// non-positive quantity are dropped and duplicate prices are merged.
func NewLedger(cash int64, tiers []domain.Tier) *Ledger {
	l := &Ledger{
		Cash:               cash,
		LowestPriceSelling: math.MaxInt64,
	}
	for _, t := range tiers {
		l.Add(t.Price, t.Quantity)
	}
	if len(l.tiers) > 0 {
		l.LastPurchasePrice = l.tiers[0].Price
	}
	return l
}

func (l *Ledger) search(price int64) (int, bool) {
	return slices.BinarySearchFunc(l.tiers, price, func(t domain.Tier, p int64) int {
		switch {
		case t.Price < p:
			return -1
		case t.Price > p:
			return 1
		}
		return 0
	})
}

// Add credits quantity at price, accumulating into an existing tier.
func (l *Ledger) Add(price int64, quantity decimal.Decimal) {
	if !quantity.IsPositive() {
		return
	}
	i, found := l.search(price)
	if found {
		l.tiers[i].Quantity = l.tiers[i].Quantity.Add(quantity)
		return
	}
	l.tiers = slices.Insert(l.tiers, i, domain.Tier{Price: price, Quantity: quantity})
}

// Set replaces the quantity held at price. A non-positive quantity removes
// the tier.
func (l *Ledger) Set(price int64, quantity decimal.Decimal) {
	i, found := l.search(price)
	switch {
	case !quantity.IsPositive():
		if found {
			l.tiers = slices.Delete(l.tiers, i, i+1)
		}
	case found:
		l.tiers[i].Quantity = quantity
	default:
		l.tiers = slices.Insert(l.tiers, i, domain.Tier{Price: price, Quantity: quantity})
	}
}

// Remove deletes the tier at price.
func (l *Ledger) Remove(price int64) {
	if i, found := l.search(price); found {
		l.tiers = slices.Delete(l.tiers, i, i+1)
	}
}

// Quantity returns the coins held at price.
func (l *Ledger) Quantity(price int64) decimal.Decimal {
	if i, found := l.search(price); found {
		return l.tiers[i].Quantity
	}
	return decimal.Zero
}

// Len returns the number of tiers.
func (l *Ledger) Len() int { return len(l.tiers) }

// Empty reports whether no coins are held.
func (l *Ledger) Empty() bool { return len(l.tiers) == 0 }

// Total returns the coins held over all tiers.
func (l *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, t := range l.tiers {
		total = total.Add(t.Quantity)
	}
	return total
}

// Ascending iterates the tiers from the cheapest price up.
func (l *Ledger) Ascending(yield func(domain.Tier) bool) {
	for _, t := range l.tiers {
		if !yield(t) {
			return
		}
	}
}

// Descending iterates the tiers from the most expensive price down.
func (l *Ledger) Descending(yield func(domain.Tier) bool) {
	for i := len(l.tiers) - 1; i >= 0; i-- {
		if !yield(l.tiers[i]) {
			return
		}
	}
}

// Tiers returns a copy of the tiers in ascending price order.
func (l *Ledger) Tiers() []domain.Tier {
	return slices.Clone(l.tiers)
}

// ObserveSellOffer records the price of an offer someone wants to sell at.
func (l *Ledger) ObserveSellOffer(price int64) {
	l.LowestPriceSelling = min(l.LowestPriceSelling, price)
}

// ObserveBuyOffer records the price of an offer someone wants to buy at.
func (l *Ledger) ObserveBuyOffer(price int64) {
	l.HighestPriceBuying = max(l.HighestPriceBuying, price)
}

// LedgerFromSnapshot restores a ledger including its hysteresis trackers.
func LedgerFromSnapshot(snap domain.Snapshot) *Ledger {
	l := NewLedger(snap.Cash, snap.Ledger)
	l.HighestPriceBuying = snap.HighestPriceBuying
	if snap.LowestPriceSelling > 0 {
		l.LowestPriceSelling = snap.LowestPriceSelling
	}
	return l
}
