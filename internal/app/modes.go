package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/config"
	"github.com/alanyoungcy/gannbot/internal/crypto"
	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/alanyoungcy/gannbot/internal/feed"
	"github.com/alanyoungcy/gannbot/internal/notify"
	"github.com/alanyoungcy/gannbot/internal/pipeline"
	"github.com/alanyoungcy/gannbot/internal/platform/bitcoinde"
	"github.com/alanyoungcy/gannbot/internal/recorder"
	"github.com/alanyoungcy/gannbot/internal/runner"
	"github.com/alanyoungcy/gannbot/internal/server"
	"github.com/alanyoungcy/gannbot/internal/server/handler"
	"github.com/alanyoungcy/gannbot/internal/trader"
)

// eventBuffer is the capacity of the channel between a source and its
// consumer.
const eventBuffer = 256

// TradeMode runs the configured traders against the live event source.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("dry_run", a.cfg.Marketplace.DryRun))

	broker, err := a.buildBroker()
	if err != nil {
		return err
	}

	// Helpers such as the lock refresher stop once the runner is done.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		if err := a.lockTraders(ctx, g, deps.LockManager); err != nil {
			return err
		}
	}

	// abort releases the trader locks before returning err.
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	traders, stores, err := a.buildTraders(ctx, deps.SnapshotStore, broker)
	if err != nil {
		return abort(err)
	}

	opts := []runner.Option{runner.WithLogger(a.logger), runner.WithNotifier(deps.Notifier)}
	if deps.TradeStore != nil {
		opts = append(opts, runner.WithTradeStore(deps.TradeStore))
	}
	if deps.AuditStore != nil {
		opts = append(opts, runner.WithAuditStore(deps.AuditStore))
	}
	run, err := runner.New(traders, stores, opts...)
	if err != nil {
		return abort(fmt.Errorf("app: %w", err))
	}

	for _, t := range traders {
		a.notify(ctx, deps.Notifier, notify.EventTraderStarted, "trader started "+t.Name(), t.String())
	}

	src := a.buildSource(deps)
	events := make(chan domain.Event, eventBuffer)
	g.Go(func() error {
		defer close(events)
		err := src.Run(ctx, events)
		if ctx.Err() == nil {
			msg := "source ended"
			if err != nil {
				msg = err.Error()
			}
			a.notify(context.WithoutCancel(ctx), deps.Notifier, notify.EventFeedStopped, "event feed stopped", msg)
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return run.Run(ctx, events)
	})

	a.startServer(ctx, g, deps)

	if deps.Archiver != nil && a.cfg.Archive.Cron != "" {
		archiver := pipeline.NewArchiver(deps.Archiver, a.traderNames(), a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	return g.Wait()
}

// IngestMode reads the marketplace websocket and fans every event out to the
// recorder, the signal bus and the market caches. No trading happens.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	var rec *recorder.Recorder
	if a.cfg.Recorder.Enabled {
		opts := recorder.Options{
			Dir:         a.cfg.Recorder.Dir,
			Prefix:      a.cfg.Recorder.Prefix,
			RotateBytes: a.cfg.Recorder.RotateBytes,
		}
		if a.cfg.Recorder.Upload {
			opts.Uploader = deps.BlobWriter
			opts.Remote = deps.BlobReader
		}
		var err error
		if rec, err = recorder.New(opts, a.logger); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	sink := &ingestSink{
		recorder: rec,
		bus:      deps.SignalBus,
		channel:  a.cfg.Redis.Channel,
		stream:   a.cfg.Redis.Stream,
		prices:   deps.PriceCache,
		book:     deps.OfferBook,
		logger:   a.logger.With(slog.String("component", "ingest")),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	events := make(chan domain.Event, eventBuffer)
	src := a.marketFeed()
	g.Go(func() error {
		defer close(events)
		return src.Run(ctx, events)
	})
	g.Go(func() error {
		defer cancel()
		return sink.Run(ctx, events)
	})
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// ReplayMode plays recorded segments through the traders with a simulated
// broker. Traders start from their configured cash with an empty ledger and
// their snapshots stay in memory, so live state is never touched.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	res, err := a.replay(ctx, deps)
	if err != nil {
		return err
	}
	for _, t := range res.traders {
		a.logger.InfoContext(ctx, "replay result",
			slog.String("trader", t.Name()),
			slog.Int64("cash", t.Cash()),
			slog.Int("tiers", len(t.Tiers())),
			slog.Int("trades", res.trades[t.Name()]),
		)
	}
	a.logger.InfoContext(ctx, "replay finished", slog.Int("events", res.events))
	return nil
}

type replayResult struct {
	traders []*trader.Trader
	trades  map[string]int
	events  int
}

func (a *App) replay(ctx context.Context, deps *Dependencies) (*replayResult, error) {
	src := recorder.Source{Dir: a.cfg.Replay.Dir, Prefix: a.cfg.Replay.Prefix}
	if a.cfg.Replay.FromS3 {
		src.Blobs = deps.BlobReader
	}
	segs, err := recorder.OpenSegments(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	defer segs.Close()
	a.logger.InfoContext(ctx, "starting replay mode", slog.Int("segments", len(segs.Names())))

	fee, err := decimal.NewFromString(a.cfg.Marketplace.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("app: fee_rate: %w", err)
	}
	broker := bitcoinde.NewDryRunBroker(fee, a.logger)

	memStores := make(map[string]*memorySnapshotStore)
	storeFor := func(t config.TraderConfig) domain.SnapshotStore {
		s := &memorySnapshotStore{}
		memStores[t.Name] = s
		return s
	}
	traders, stores, err := a.buildTraders(ctx, storeFor, broker)
	if err != nil {
		return nil, err
	}
	run, err := runner.New(traders, stores, runner.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	res := &replayResult{traders: traders, trades: make(map[string]int)}
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan domain.Event, eventBuffer)
	g.Go(func() error {
		defer close(events)
		n, err := recorder.Replay(gctx, segs, events)
		res.events = n
		return err
	})
	g.Go(func() error {
		return run.Run(gctx, events)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for name, s := range memStores {
		res.trades[name] = s.Saves()
	}
	return res, nil
}

// ArchiveMode exports the trade journal once and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires postgres and s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.traderNames(), a.cfg.Archive.RetentionDays, a.logger)
	return archiver.Run(ctx)
}

func (a *App) traderNames() []string {
	names := make([]string, len(a.cfg.Traders))
	for i, t := range a.cfg.Traders {
		names[i] = t.Name
	}
	return names
}

// buildBroker returns the live REST broker, or the simulated one when
// dry_run is set.
func (a *App) buildBroker() (trader.Broker, error) {
	mc := a.cfg.Marketplace
	if mc.DryRun {
		fee, err := decimal.NewFromString(mc.FeeRate)
		if err != nil {
			return nil, fmt.Errorf("app: fee_rate: %w", err)
		}
		return bitcoinde.NewDryRunBroker(fee, a.logger), nil
	}

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           mc.APISecret,
		EncryptedSecretPath: mc.EncryptedSecretPath,
		Password:            mc.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	auth := crypto.NewHMACAuth(mc.APIKey, secret)
	return bitcoinde.NewBroker(auth, bitcoinde.Options{
		BaseURL:        mc.APIURL,
		RequestsPerSec: mc.RequestsPerSec,
		Burst:          mc.Burst,
		Timeout:        mc.Timeout.Duration,
	}, a.logger), nil
}

// buildTraders restores every configured trader from its snapshot store. A
// trader without a snapshot starts with its configured cash.
func (a *App) buildTraders(ctx context.Context, storeFor func(config.TraderConfig) domain.SnapshotStore, broker trader.Broker) ([]*trader.Trader, []domain.SnapshotStore, error) {
	traders := make([]*trader.Trader, 0, len(a.cfg.Traders))
	stores := make([]domain.SnapshotStore, 0, len(a.cfg.Traders))

	for _, tc := range a.cfg.Traders {
		policy, err := tc.Policy()
		if err != nil {
			return nil, nil, fmt.Errorf("app: trader %s: %w", tc.Name, err)
		}

		store := storeFor(tc)
		var ledger *trader.Ledger
		snap, err := store.Load(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			ledger = trader.NewLedger(tc.Cash, nil)
			a.logger.InfoContext(ctx, "no snapshot, starting fresh",
				slog.String("trader", tc.Name),
				slog.Int64("cash", tc.Cash),
			)
		case err != nil:
			return nil, nil, fmt.Errorf("app: trader %s: load snapshot: %w", tc.Name, err)
		default:
			ledger = trader.LedgerFromSnapshot(snap)
		}

		t, err := trader.New(tc.Name, policy, broker, ledger, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("app: trader %s: %w", tc.Name, err)
		}
		traders = append(traders, t)
		stores = append(stores, store)
	}
	return traders, stores, nil
}

func (a *App) buildSource(deps *Dependencies) feed.Source {
	if a.cfg.Source == "bus" {
		if a.cfg.Redis.UseStream {
			return feed.NewStreamFeed(deps.SignalBus, a.cfg.Redis.Stream, a.cfg.Redis.StreamStart, a.logger)
		}
		return feed.NewBusFeed(deps.SignalBus, a.cfg.Redis.Channel, a.logger)
	}
	return a.marketFeed()
}

// marketFeed returns the websocket feed with repeated offers filtered out.
func (a *App) marketFeed() feed.Source {
	mc := a.cfg.Marketplace
	return feed.Deduplicate(feed.NewMarketFeed(mc.WSURL, mc.ReconnectDelay.Duration, a.logger), mc.DedupTTL.Duration, a.logger)
}

// lockTraders takes a distributed lock per trader name so that no two
// processes trade the same book, and keeps the locks alive in g. The locks
// are released when the group's context ends.
func (a *App) lockTraders(ctx context.Context, g *errgroup.Group, locks domain.LockManager) error {
	ttl := a.cfg.Redis.LockTTL.Duration
	keys := make([]string, 0, len(a.cfg.Traders))
	var unlocks []func()
	releaseAll := func() {
		for _, u := range unlocks {
			u()
		}
	}

	for _, tc := range a.cfg.Traders {
		key := "trader:" + tc.Name
		unlock, err := locks.Acquire(ctx, key, ttl)
		if err != nil {
			releaseAll()
			return fmt.Errorf("app: lock trader %s: %w", tc.Name, err)
		}
		unlocks = append(unlocks, unlock)
		keys = append(keys, key)
	}

	g.Go(func() error {
		defer releaseAll()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, key := range keys {
					if err := locks.Refresh(ctx, key, ttl); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return fmt.Errorf("app: %w", err)
					}
				}
			}
		}
	})
	return nil
}

// startServer runs the health endpoints in g when they are enabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}
	srv := server.NewServer(server.Config{Addr: a.cfg.Server.Addr},
		handler.NewHealthHandler(deps.Checks, a.logger), a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

func (a *App) notify(ctx context.Context, n *notify.Notifier, event, title, message string) {
	if !n.Enabled() {
		return
	}
	if err := n.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// ingestSink distributes ingested events. Every destination is optional.
type ingestSink struct {
	recorder *recorder.Recorder
	bus      domain.SignalBus
	channel  string
	stream   string
	prices   domain.PriceCache
	book     domain.OfferBook
	logger   *slog.Logger
}

// Run consumes events until in is closed or ctx ends, then finishes the
// recorder segment.
func (s *ingestSink) Run(ctx context.Context, in <-chan domain.Event) error {
	if s.recorder != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := s.recorder.Close(closeCtx); err != nil {
				s.logger.Error("close recorder failed", slog.String("error", err.Error()))
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// handle fails only on recorder errors; losing the durable record is fatal,
// cache and bus errors are logged.
func (s *ingestSink) handle(ctx context.Context, ev domain.Event) error {
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, ev); err != nil {
			return err
		}
	}

	if s.bus != nil {
		payload, err := codec.Marshal(ev)
		if err != nil {
			s.logger.Warn("encode event failed", slog.String("error", err.Error()))
		} else {
			if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
				s.logger.Warn("publish failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
				s.logger.Warn("stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	switch ev.Type {
	case domain.EventOfferAdded:
		o := ev.Offer
		if s.prices != nil {
			if err := s.prices.SetPrice(ctx, o.Pair, o.Side, o.Price, o.Date); err != nil {
				s.logger.Warn("price cache update failed", slog.String("error", err.Error()))
			}
		}
		if s.book != nil {
			if err := s.book.Add(ctx, o); err != nil {
				s.logger.Warn("offer book add failed", slog.String("error", err.Error()))
			}
		}
	case domain.EventOfferRemoved:
		if s.book != nil {
			if err := s.book.Remove(ctx, ev.Removal.OrderID); err != nil {
				s.logger.Warn("offer book remove failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// memorySnapshotStore keeps the latest snapshot of a replayed trader.
type memorySnapshotStore struct {
	mu    sync.Mutex
	snap  *domain.Snapshot
	saves int
}

func (m *memorySnapshotStore) Load(context.Context) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *m.snap, nil
}

func (m *memorySnapshotStore) Save(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	m.saves++
	return nil
}

// Saves returns how many snapshots were written.
func (m *memorySnapshotStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
