package trader

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerKeepsTiersSorted(t *testing.T) {
	l := NewLedger(0, nil)
	for _, p := range []int64{500, 100, 300, 200, 400} {
		l.Add(p, d("1"))
	}

	var got []int64
	for tier := range l.Ascending {
		got = append(got, tier.Price)
	}
	want := []int64{100, 200, 300, 400, 500}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending order = %v, want %v", got, want)
		}
	}

	got = got[:0]
	for tier := range l.Descending {
		got = append(got, tier.Price)
	}
	if got[0] != 500 || got[4] != 100 {
		t.Fatalf("descending order = %v", got)
	}
}

func TestLedgerAccumulatesSamePrice(t *testing.T) {
	l := NewLedger(0, nil)
	l.Add(500, d("0.01"))
	l.Add(500, d("0.02"))

	if l.Len() != 1 {
		t.Fatalf("expected one tier, got %d", l.Len())
	}
	if q := l.Quantity(500); !q.Equal(d("0.03")) {
		t.Fatalf("expected 0.03, got %s", q)
	}
}

func TestLedgerSetAndRemove(t *testing.T) {
	l := NewLedger(0, []domain.Tier{{Price: 100, Quantity: d("1")}, {Price: 200, Quantity: d("2")}})

	l.Set(200, d("0.5"))
	if q := l.Quantity(200); !q.Equal(d("0.5")) {
		t.Fatalf("expected 0.5, got %s", q)
	}
	l.Set(100, decimal.Zero)
	if l.Len() != 1 {
		t.Fatalf("expected zero quantity to remove the tier")
	}
	l.Remove(200)
	if !l.Empty() {
		t.Fatalf("expected empty ledger")
	}
	l.Remove(999) // no-op
}

func TestLedgerIgnoresNonPositive(t *testing.T) {
	l := NewLedger(0, []domain.Tier{{Price: 100, Quantity: decimal.Zero}})
	l.Add(200, d("-1"))
	if !l.Empty() {
		t.Fatalf("expected non-positive quantities to be dropped, got %d tiers", l.Len())
	}
}

func TestNewLedgerTrackers(t *testing.T) {
	l := NewLedger(100, []domain.Tier{{Price: 300, Quantity: d("1")}, {Price: 200, Quantity: d("1")}})
	if l.LastPurchasePrice != 200 {
		t.Fatalf("expected last purchase at the cheapest tier, got %d", l.LastPurchasePrice)
	}
	if l.HighestPriceBuying != 0 || l.LowestPriceSelling != math.MaxInt64 {
		t.Fatalf("unexpected initial extrema %d/%d", l.HighestPriceBuying, l.LowestPriceSelling)
	}
	if total := l.Total(); !total.Equal(d("2")) {
		t.Fatalf("expected total 2, got %s", total)
	}

	l.ObserveBuyOffer(50)
	l.ObserveBuyOffer(70)
	l.ObserveBuyOffer(60)
	l.ObserveSellOffer(90)
	l.ObserveSellOffer(80)
	l.ObserveSellOffer(85)
	if l.HighestPriceBuying != 70 || l.LowestPriceSelling != 80 {
		t.Fatalf("extrema = %d/%d, want 70/80", l.HighestPriceBuying, l.LowestPriceSelling)
	}
}

func TestLedgerTiersIsACopy(t *testing.T) {
	l := NewLedger(0, []domain.Tier{{Price: 100, Quantity: d("1")}})
	tiers := l.Tiers()
	tiers[0].Price = 1
	if l.Quantity(100).IsZero() {
		t.Fatalf("mutating the returned slice changed the ledger")
	}
}

func TestLedgerFromSnapshot(t *testing.T) {
	l := LedgerFromSnapshot(domain.Snapshot{
		Cash:               42,
		Ledger:             []domain.Tier{{Price: 100, Quantity: d("1")}},
		HighestPriceBuying: 700,
	})
	if l.Cash != 42 || l.HighestPriceBuying != 700 || l.LowestPriceSelling != math.MaxInt64 {
		t.Fatalf("unexpected restored ledger %+v", l)
	}
}
