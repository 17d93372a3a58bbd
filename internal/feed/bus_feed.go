package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/gannbot/internal/codec"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Default signal-bus names shared by the ingest and trade modes.
const (
	DefaultEventChannel = "gannbot:events"
	DefaultEventStream  = "gannbot:events:stream"
)

// BusFeed reads codec-encoded events published by an ingest process. With
// a stream name it reads the durable stream, otherwise the pub/sub channel.
type BusFeed struct {
	bus          domain.SignalBus
	channel      string
	stream       string
	lastID       string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewBusFeed creates a pub/sub feed on channel.
func NewBusFeed(bus domain.SignalBus, channel string, logger *slog.Logger) *BusFeed {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &BusFeed{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "bus_feed")),
	}
}

// NewStreamFeed creates a feed reading stream from after startID ("0" for
// the beginning, "$" for new entries only).
func NewStreamFeed(bus domain.SignalBus, stream, startID string, logger *slog.Logger) *BusFeed {
	if stream == "" {
		stream = DefaultEventStream
	}
	if startID == "" {
		startID = "$"
	}
	return &BusFeed{
		bus:          bus,
		stream:       stream,
		lastID:       startID,
		pollInterval: 500 * time.Millisecond,
		logger:       logger.With(slog.String("component", "stream_feed")),
	}
}

// Run emits decoded events until ctx is cancelled.
func (f *BusFeed) Run(ctx context.Context, out chan<- domain.Event) error {
	if f.stream != "" {
		return f.runStream(ctx, out)
	}

	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("bus feed started", slog.String("channel", f.channel))
	defer f.logger.Info("bus feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.emit(ctx, data, out); err != nil {
				return err
			}
		}
	}
}

func (f *BusFeed) runStream(ctx context.Context, out chan<- domain.Event) error {
	f.logger.Info("stream feed started", slog.String("stream", f.stream), slog.String("from", f.lastID))
	defer f.logger.Info("stream feed stopped")

	for {
		msgs, err := f.bus.StreamRead(ctx, f.stream, f.lastID, 100)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, m := range msgs {
			if err := f.emit(ctx, m.Payload, out); err != nil {
				return err
			}
			f.lastID = m.ID
		}
		if len(msgs) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.pollInterval):
		}
	}
}

// emit decodes one payload. Undecodable payloads are logged and skipped.
func (f *BusFeed) emit(ctx context.Context, data []byte, out chan<- domain.Event) error {
	ev, err := codec.Unmarshal(data)
	if err != nil {
		f.logger.Warn("bus feed dropped payload",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return nil
	}
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
