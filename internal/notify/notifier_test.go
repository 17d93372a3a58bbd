package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleFill() domain.Fill {
	return domain.Fill{
		Trader:    "alpha",
		OrderID:   "Q1",
		Pair:      domain.PairBTCEUR,
		Action:    domain.ActionSold,
		Price:     6000_00,
		Requested: decimal.RequireFromString("0.01"),
		Filled:    decimal.RequireFromString("0.01"),
		Cash:      60_00,
		CashAfter: 1060_05,
	}
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventTradeExecuted}, discard())

	if err := n.Notify(context.Background(), EventFeedStopped, "x", "y"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.TradeExecuted(context.Background(), sampleFill()); err != nil {
		t.Fatalf("trade executed: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "alpha sold btceur" {
		t.Fatalf("unexpected titles %v", s.titles)
	}
}

func TestNotifyContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "any", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("expected combined error, got %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("good sender was skipped")
	}
}

func TestTradeMessage(t *testing.T) {
	msg := TradeMessage(sampleFill())
	for _, want := range []string{"#Q1", "6000.00", "received 60.00", "cash now 1060.05"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q lacks %q", msg, want)
		}
	}
	if major(-5) != "-0.05" {
		t.Fatalf("major(-5) = %s", major(-5))
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	if err := s.Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*title*\nbody" {
		t.Fatalf("unexpected payload %v", got)
	}

	bad := NewTelegramSender(srv.URL, "WRONG", "42")
	if err := bad.Send(context.Background(), "t", "m"); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL, "gannbot").Send(context.Background(), "t", "m"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["username"] != "gannbot" || !strings.HasPrefix(got["content"], "**t**") {
		t.Fatalf("unexpected payload %v", got)
	}
}
