package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

func TestLoadMissing(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "none.json"))
	if _, err := s.Load(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveOverwritesAndTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alpha.json")
	s := NewSnapshotStore(path)
	ctx := context.Background()

	big := domain.Snapshot{Trader: "alpha", Cash: 1000_00}
	for i := range 50 {
		big.Ledger = append(big.Ledger, domain.Tier{Price: int64(4000_00 + i*100), Quantity: decimal.RequireFromString("0.0123")})
	}
	if err := s.Save(ctx, big); err != nil {
		t.Fatalf("save big: %v", err)
	}
	bigInfo, _ := os.Stat(path)

	small := domain.Snapshot{Trader: "alpha", Cash: 5, Ledger: []domain.Tier{{Price: 1, Quantity: decimal.NewFromInt(2)}}}
	if err := s.Save(ctx, small); err != nil {
		t.Fatalf("save small: %v", err)
	}
	smallInfo, _ := os.Stat(path)
	if smallInfo.Size() >= bigInfo.Size() {
		t.Fatalf("file did not shrink: %d >= %d", smallInfo.Size(), bigInfo.Size())
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Cash != 5 || len(got.Ledger) != 1 || !got.Ledger[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestRoundTripKeepsTrackers(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "s.json"))
	want := domain.Snapshot{
		Trader:             "beta",
		Cash:               899_80,
		Ledger:             []domain.Tier{{Price: 6000_00, Quantity: decimal.RequireFromString("0.0167")}},
		HighestPriceBuying: 6150_00,
		LowestPriceSelling: 6000_00,
	}
	if err := s.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Trader != want.Trader || got.Cash != want.Cash ||
		got.HighestPriceBuying != want.HighestPriceBuying || got.LowestPriceSelling != want.LowestPriceSelling {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Ledger) != 1 || got.Ledger[0].Price != 6000_00 || !got.Ledger[0].Quantity.Equal(want.Ledger[0].Quantity) {
		t.Fatalf("ledger mismatch %+v", got.Ledger)
	}
}

func TestLoadLegacyDepotObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	if err := os.WriteFile(path, []byte(`{"money": 100000, "depot": {"501000": 0.01, "500000": 0.02}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewSnapshotStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Cash != 100000 || len(got.Ledger) != 2 || got.Ledger[0].Price != 500000 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if !got.Ledger[0].Quantity.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected quantity %s", got.Ledger[0].Quantity)
	}
}
