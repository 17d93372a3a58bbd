package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/config"
	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/alanyoungcy/gannbot/internal/feed"
	"github.com/alanyoungcy/gannbot/internal/platform/bitcoinde"
	"github.com/alanyoungcy/gannbot/internal/recorder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testApp(t *testing.T, traders ...config.TraderConfig) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Traders = traders
	return New(&cfg, testLogger())
}

func traderConfig(name string, cash int64) config.TraderConfig {
	tc := config.DefaultTrader()
	tc.Name = name
	tc.Cash = cash
	return tc
}

func offerEvent(id string, side domain.Side, price int64) domain.Event {
	return domain.OfferAdded(domain.Offer{
		OrderID:   id,
		Amount:    decimal.NewFromInt(1),
		MinAmount: decimal.Zero,
		Price:     price,
		Side:      side,
		Pair:      domain.PairBTCEUR,
		Date:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestBuildTradersRestoresSnapshots(t *testing.T) {
	a := testApp(t, traderConfig("fresh", 500_00), traderConfig("restored", 500_00))

	stored := &memorySnapshotStore{}
	_ = stored.Save(context.Background(), domain.Snapshot{
		Trader: "restored",
		Cash:   123_45,
		Ledger: []domain.Tier{{Price: 5000_00, Quantity: decimal.RequireFromString("0.01")}},
	})
	storeFor := func(tc config.TraderConfig) domain.SnapshotStore {
		if tc.Name == "restored" {
			return stored
		}
		return &memorySnapshotStore{}
	}

	traders, stores, err := a.buildTraders(context.Background(), storeFor, bitcoinde.NewDryRunBroker(decimal.Zero, testLogger()))
	if err != nil {
		t.Fatalf("buildTraders: %v", err)
	}
	if len(traders) != 2 || len(stores) != 2 {
		t.Fatalf("got %d traders, %d stores", len(traders), len(stores))
	}
	if traders[0].Cash() != 500_00 || len(traders[0].Tiers()) != 0 {
		t.Fatalf("fresh trader: cash %d tiers %v", traders[0].Cash(), traders[0].Tiers())
	}
	if traders[1].Cash() != 123_45 || len(traders[1].Tiers()) != 1 {
		t.Fatalf("restored trader: cash %d tiers %v", traders[1].Cash(), traders[1].Tiers())
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (domain.Snapshot, error) {
	return domain.Snapshot{}, errors.New("disk on fire")
}
func (failingStore) Save(context.Context, domain.Snapshot) error { return nil }

func TestBuildTradersLoadError(t *testing.T) {
	a := testApp(t, traderConfig("alpha", 100_00))
	_, _, err := a.buildTraders(context.Background(),
		func(config.TraderConfig) domain.SnapshotStore { return failingStore{} },
		bitcoinde.NewDryRunBroker(decimal.Zero, testLogger()))
	if err == nil {
		t.Fatal("expected load error")
	}
}

func TestBuildBrokerDryRun(t *testing.T) {
	a := testApp(t)
	a.cfg.Marketplace.DryRun = true
	a.cfg.Marketplace.FeeRate = "0.005"
	b, err := a.buildBroker()
	if err != nil {
		t.Fatalf("buildBroker: %v", err)
	}
	dry, ok := b.(*bitcoinde.DryRunBroker)
	if !ok || !dry.FeeRate.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("broker = %#v", b)
	}

	a.cfg.Marketplace.FeeRate = "half"
	if _, err := a.buildBroker(); err == nil {
		t.Fatal("expected fee parse error")
	}
}

func TestBuildSource(t *testing.T) {
	a := testApp(t)
	a.cfg.Marketplace.DedupTTL.Duration = 0
	if _, ok := a.buildSource(&Dependencies{}).(*feed.MarketFeed); !ok {
		t.Fatal("ws source should be a market feed")
	}
	a.cfg.Marketplace.DedupTTL.Duration = time.Minute
	if _, ok := a.buildSource(&Dependencies{}).(*feed.DedupSource); !ok {
		t.Fatal("ws source should be deduplicated")
	}
	a.cfg.Source = "bus"
	if _, ok := a.buildSource(&Dependencies{}).(*feed.BusFeed); !ok {
		t.Fatal("bus source should be a bus feed")
	}
}

func TestReplayRunsRecordedEvents(t *testing.T) {
	dir := t.TempDir()
	rec, err := recorder.New(recorder.Options{Dir: dir, Prefix: "events"}, testLogger())
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	ctx := context.Background()
	for _, ev := range []domain.Event{
		offerEvent("1", domain.SideSell, 7000_00),
		offerEvent("2", domain.SideBuy, 6050_00),
		offerEvent("3", domain.SideSell, 7100_00),
		offerEvent("4", domain.SideBuy, 6150_00),
		offerEvent("5", domain.SideSell, 6000_00),
	} {
		if err := rec.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	a := testApp(t, traderConfig("alpha", 1000_00))
	a.cfg.Replay.Dir = dir
	a.cfg.Replay.Prefix = "events"

	res, err := a.replay(ctx, &Dependencies{})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.events != 5 {
		t.Fatalf("events = %d, want 5", res.events)
	}
	tr := res.traders[0]
	if tr.Cash() != 899_80 || len(tr.Tiers()) != 1 {
		t.Fatalf("cash %d tiers %v", tr.Cash(), tr.Tiers())
	}
	if res.trades["alpha"] != 1 {
		t.Fatalf("trades = %d, want 1", res.trades["alpha"])
	}
}

func TestArchiveModeRequiresArchiver(t *testing.T) {
	a := testApp(t)
	if err := a.ArchiveMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error without archiver")
	}
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string]int64
}

func (m *memPrices) SetPrice(_ context.Context, pair domain.TradingPair, side domain.Side, price int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[string(pair)+":"+string(side)] = price
	return nil
}

func (m *memPrices) GetPrice(_ context.Context, pair domain.TradingPair, side domain.Side) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[string(pair)+":"+string(side)]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

type memBook struct {
	offers map[string]domain.Offer
}

func (m *memBook) Add(_ context.Context, o domain.Offer) error {
	m.offers[o.OrderID] = o
	return nil
}

func (m *memBook) Remove(_ context.Context, id string) error {
	delete(m.offers, id)
	return nil
}

func (m *memBook) Best(context.Context, domain.TradingPair, domain.Side) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}

type memBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, ch string, p []byte) error {
	b.published[ch] = append(b.published[ch], p)
	return nil
}
func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *memBus) StreamAppend(_ context.Context, s string, p []byte) error {
	b.streams[s] = append(b.streams[s], p)
	return nil
}
func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestIngestSinkFansOut(t *testing.T) {
	prices := &memPrices{prices: map[string]int64{}}
	book := &memBook{offers: map[string]domain.Offer{}}
	bus := &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
	sink := &ingestSink{
		bus:     bus,
		channel: "events",
		stream:  "events:log",
		prices:  prices,
		book:    book,
		logger:  testLogger(),
	}

	in := make(chan domain.Event, 3)
	in <- offerEvent("A1", domain.SideSell, 5000_00)
	in <- offerEvent("A2", domain.SideBuy, 4900_00)
	in <- domain.OfferRemoved(domain.Removal{OrderID: "A1", Side: domain.SideSell, Reason: "canceled"})
	close(in)

	if err := sink.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(bus.published["events"]) != 3 || len(bus.streams["events:log"]) != 3 {
		t.Fatalf("bus got %d/%d messages", len(bus.published["events"]), len(bus.streams["events:log"]))
	}
	ev, err := codec.Unmarshal(bus.streams["events:log"][2])
	if err != nil || ev.Type != domain.EventOfferRemoved || ev.Removal.OrderID != "A1" {
		t.Fatalf("decoded %+v, %v", ev, err)
	}
	if p, _, err := prices.GetPrice(context.Background(), domain.PairBTCEUR, domain.SideBuy); err != nil || p != 4900_00 {
		t.Fatalf("buy price = %d, %v", p, err)
	}
	if _, ok := book.offers["A1"]; ok || len(book.offers) != 1 {
		t.Fatalf("book = %v", book.offers)
	}
}

func TestMemorySnapshotStore(t *testing.T) {
	s := &memorySnapshotStore{}
	if _, err := s.Load(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	_ = s.Save(context.Background(), domain.Snapshot{Cash: 1})
	_ = s.Save(context.Background(), domain.Snapshot{Cash: 2})
	snap, err := s.Load(context.Background())
	if err != nil || snap.Cash != 2 || s.Saves() != 2 {
		t.Fatalf("snap %+v err %v saves %d", snap, err, s.Saves())
	}
}
