// Package feed turns marketplace sources into an ordered channel of events.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/gannbot/internal/domain"
	"github.com/alanyoungcy/gannbot/internal/platform/bitcoinde"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultReconnectDelay is the fixed pause before redialing.
	DefaultReconnectDelay = 2 * time.Second
)

// Source emits marketplace events into out until ctx is cancelled or the
// source is exhausted.
type Source interface {
	Run(ctx context.Context, out chan<- domain.Event) error
}

// MarketFeed connects to the marketplace websocket order stream and emits
// every offer and removal it carries. It redials after a disconnect.
type MarketFeed struct {
	wsURL          string
	reconnectDelay time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewMarketFeed creates a feed for the given websocket URL.
func NewMarketFeed(wsURL string, reconnectDelay time.Duration, logger *slog.Logger) *MarketFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &MarketFeed{
		wsURL:          wsURL,
		reconnectDelay: reconnectDelay,
		now:            time.Now,
		logger:         logger.With(slog.String("component", "market_feed")),
	}
}

// Run connects and emits events until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context, out chan<- domain.Event) error {
	for {
		err := f.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", f.reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *MarketFeed) runConnection(ctx context.Context, out chan<- domain.Event) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-done:
		}
	}()

	f.logger.Info("market ws connected", slog.String("url", f.wsURL))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}

		ev, ok, err := bitcoinde.ParseMessage(raw, f.now().Truncate(time.Second))
		if err != nil {
			if errors.Is(err, domain.ErrUnknownEvent) {
				f.logger.Debug("ignoring message", slog.String("error", err.Error()))
			} else {
				f.logger.Warn("dropping malformed message",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(raw)),
				)
			}
			continue
		}
		if !ok {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop sends periodic ping messages to keep the websocket alive.
func (f *MarketFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
