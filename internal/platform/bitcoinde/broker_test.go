package bitcoinde

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/crypto"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

type fakeMarket struct {
	t          *testing.T
	auth       *crypto.HMACAuth
	postStatus int
	detail     string
	posted     url.Values
	nonces     []string
}

func (m *fakeMarket) handler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(crypto.HeaderAPIKey) != "key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	m.nonces = append(m.nonces, r.Header.Get(crypto.HeaderNonce))

	uri := "http://" + r.Host + r.URL.Path
	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		params, err := url.ParseQuery(string(body))
		if err != nil {
			m.t.Errorf("parse form: %v", err)
		}
		m.posted = params
		m.verify(r, uri, params)
		w.WriteHeader(m.postStatus)
	case http.MethodGet:
		m.verify(r, uri, nil)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, m.detail)
	}
}

// verify recomputes the signature with the nonce the client sent.
func (m *fakeMarket) verify(r *http.Request, uri string, params url.Values) {
	var nonce int64
	for _, c := range r.Header.Get(crypto.HeaderNonce) {
		nonce = nonce*10 + int64(c-'0')
	}
	want := m.auth.HeadersAt(r.Method, uri, params, nonce)[crypto.HeaderSignature]
	if got := r.Header.Get(crypto.HeaderSignature); got != want {
		m.t.Errorf("signature = %s, want %s", got, want)
	}
}

func newTestBroker(t *testing.T, m *fakeMarket) *Broker {
	t.Helper()
	m.t = t
	m.auth = crypto.NewHMACAuthAt("key", "secret", 0)
	srv := httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(srv.Close)
	return NewBroker(crypto.NewHMACAuthAt("key", "secret", 100), Options{
		BaseURL:        srv.URL,
		RequestsPerSec: 1000,
		Burst:          10,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sellOffer() domain.Offer {
	return domain.Offer{
		OrderID:       "ABC123",
		Amount:        decimal.RequireFromString("1"),
		MinAmount:     decimal.RequireFromString("0.1"),
		Price:         100_00,
		Side:          domain.SideSell,
		Pair:          domain.PairBTGEUR,
		PaymentOption: domain.PaymentSepaOnly,
	}
}

func buyOffer() domain.Offer {
	o := sellOffer()
	o.Side = domain.SideBuy
	return o
}

func TestBuyReturnsCoinsAfterFee(t *testing.T) {
	m := &fakeMarket{postStatus: http.StatusCreated, detail: `{"trade":{"amount_currency_to_trade_after_fee":"0.0009"}}`}
	b := newTestBroker(t, m)

	got, err := b.Buy(context.Background(), sellOffer(), decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.0009")) {
		t.Fatalf("coins = %s", got)
	}
	if m.posted.Get("type") != "buy" || m.posted.Get("payment_option") != "2" ||
		m.posted.Get("amount_currency_to_trade") != "0.001" {
		t.Fatalf("unexpected form %v", m.posted)
	}
	if len(m.nonces) != 2 || m.nonces[0] != "101" || m.nonces[1] != "102" {
		t.Fatalf("nonces = %v", m.nonces)
	}
}

func TestSellReturnsMinorUnits(t *testing.T) {
	m := &fakeMarket{postStatus: http.StatusCreated, detail: `{"trade":{"volume_currency_to_pay_after_fee":90}}`}
	b := newTestBroker(t, m)

	got, err := b.Sell(context.Background(), buyOffer(), decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got != 90_00 {
		t.Fatalf("proceeds = %d", got)
	}
	if m.posted.Get("type") != "sell" || m.posted.Get("payment_option") != "1" {
		t.Fatalf("unexpected form %v", m.posted)
	}
}

func TestBuyRejectsImplausibleDetail(t *testing.T) {
	for _, detail := range []string{
		`{"trade":{"amount_currency_to_trade_after_fee":"-0.1"}}`,
		`{"trade":{"amount_currency_to_trade_after_fee":"2"}}`,
		`{"trade":{}}`,
	} {
		m := &fakeMarket{postStatus: http.StatusCreated, detail: detail}
		b := newTestBroker(t, m)
		if _, err := b.Buy(context.Background(), sellOffer(), decimal.RequireFromString("0.5")); !errors.Is(err, domain.ErrExecution) {
			t.Fatalf("detail %s: expected ErrExecution, got %v", detail, err)
		}
	}
}

func TestSellRejectsImplausibleDetail(t *testing.T) {
	m := &fakeMarket{postStatus: http.StatusCreated, detail: `{"trade":{"volume_currency_to_pay_after_fee":"100.01"}}`}
	b := newTestBroker(t, m)
	if _, err := b.Sell(context.Background(), buyOffer(), decimal.RequireFromString("1")); !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
}

func TestTradeRequiresCreated(t *testing.T) {
	m := &fakeMarket{postStatus: http.StatusOK}
	b := newTestBroker(t, m)
	if _, err := b.Buy(context.Background(), sellOffer(), decimal.RequireFromString("0.5")); !errors.Is(err, domain.ErrExecution) {
		t.Fatalf("expected ErrExecution for 200 OK, got %v", err)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		m := &fakeMarket{postStatus: tt.status}
		b := newTestBroker(t, m)
		_, err := b.Sell(context.Background(), buyOffer(), decimal.RequireFromString("0.5"))
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestBrokerRejectsWrongSide(t *testing.T) {
	b := NewBroker(crypto.NewHMACAuth("k", "s"), Options{}, nil)
	if _, err := b.Buy(context.Background(), buyOffer(), decimal.NewFromInt(1)); !errors.Is(err, domain.ErrInvalidOffer) {
		t.Fatalf("expected ErrInvalidOffer, got %v", err)
	}
	if _, err := b.Sell(context.Background(), sellOffer(), decimal.NewFromInt(1)); !errors.Is(err, domain.ErrInvalidOffer) {
		t.Fatalf("expected ErrInvalidOffer, got %v", err)
	}
}

func TestDryRunBroker(t *testing.T) {
	d := NewDryRunBroker(decimal.RequireFromString("0.01"), nil)
	coins, err := d.Buy(context.Background(), sellOffer(), decimal.RequireFromString("0.5"))
	if err != nil || !coins.Equal(decimal.RequireFromString("0.495")) {
		t.Fatalf("buy = %s, %v", coins, err)
	}
	money, err := d.Sell(context.Background(), buyOffer(), decimal.RequireFromString("0.5"))
	if err != nil || money != 4950 {
		t.Fatalf("sell = %d, %v", money, err)
	}
}
