// Package notify tells operators about trades. Notifications go to every
// registered sender (Telegram, Discord) and can be filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Event types.
const (
	EventTradeExecuted = "trade_executed"
	EventTraderStarted = "trader_started"
	EventFeedStopped   = "feed_stopped"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards allowed event types; an empty allow list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeExecuted announces an accepted trade.
func (n *Notifier) TradeExecuted(ctx context.Context, fill domain.Fill) error {
	return n.Notify(ctx, EventTradeExecuted, TradeTitle(fill), TradeMessage(fill))
}

// TradeTitle is the one-line summary of a fill.
func TradeTitle(fill domain.Fill) string {
	return fmt.Sprintf("%s %s %s", fill.Trader, fill.Action, fill.Pair)
}

// TradeMessage renders the details of a fill. Money is shown in major units.
func TradeMessage(fill domain.Fill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "offer #%s at %s\n", fill.OrderID, major(fill.Price))
	fmt.Fprintf(&b, "quantity %s (requested %s)\n", fill.Filled, fill.Requested)
	if fill.Action == domain.ActionBought {
		fmt.Fprintf(&b, "paid %s, cash left %s", major(fill.Cash), major(fill.CashAfter))
	} else {
		fmt.Fprintf(&b, "received %s, cash now %s", major(fill.Cash), major(fill.CashAfter))
	}
	return b.String()
}

func major(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
