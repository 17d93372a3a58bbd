// Package bitcoinde talks to the bitcoin.de marketplace: the authenticated
// trading API (v4) and the parsing of its websocket order stream.
package bitcoinde

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/gannbot/internal/crypto"
	"github.com/alanyoungcy/gannbot/internal/domain"
)

// DefaultBaseURL is the root of the trading API.
const DefaultBaseURL = "https://api.bitcoin.de/v4"

// Options tune a Broker. Zero values select the defaults.
type Options struct {
	BaseURL        string
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Broker executes trades against existing marketplace offers.
type Broker struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewBroker creates a REST broker signing its requests with auth.
func NewBroker(auth *crypto.HMACAuth, opts Options, logger *slog.Logger) *Broker {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: client,
		auth:       auth,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		logger:     logger.With(slog.String("component", "bitcoinde_broker")),
	}
}

// tradeDetail is the response of GET /{pair}/trades/{id}.
type tradeDetail struct {
	Trade struct {
		AmountAfterFee decimal.NullDecimal `json:"amount_currency_to_trade_after_fee"`
		VolumeAfterFee decimal.NullDecimal `json:"volume_currency_to_pay_after_fee"`
	} `json:"trade"`
}

// Buy takes a sell offer and returns the coins received after fees.
func (b *Broker) Buy(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (decimal.Decimal, error) {
	if offer.Side != domain.SideSell {
		return decimal.Zero, fmt.Errorf("bitcoinde: buy from %s offer %s: %w", offer.Side, offer.OrderID, domain.ErrInvalidOffer)
	}
	params := url.Values{}
	params.Set("type", "buy")
	params.Set("payment_option", strconv.Itoa(int(offer.PaymentOption)))
	params.Set("amount_currency_to_trade", quantity.String())

	if err := b.executeTrade(ctx, offer, params); err != nil {
		return decimal.Zero, fmt.Errorf("bitcoinde: buy %s of %s: %w", quantity, offer.OrderID, err)
	}

	detail, err := b.tradeDetail(ctx, offer)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bitcoinde: buy %s: %w", offer.OrderID, err)
	}
	coins := detail.Trade.AmountAfterFee
	if !coins.Valid || coins.Decimal.IsNegative() || coins.Decimal.GreaterThan(offer.Amount) {
		return decimal.Zero, fmt.Errorf("bitcoinde: buy %s: %w: implausible coins after fee %v",
			offer.OrderID, domain.ErrExecution, coins.Decimal)
	}
	return domain.NormalizeQuantity(coins.Decimal), nil
}

// Sell serves a buy offer and returns the money received after fees in
// minor units.
func (b *Broker) Sell(ctx context.Context, offer domain.Offer, quantity decimal.Decimal) (int64, error) {
	if offer.Side != domain.SideBuy {
		return 0, fmt.Errorf("bitcoinde: sell to %s offer %s: %w", offer.Side, offer.OrderID, domain.ErrInvalidOffer)
	}
	params := url.Values{}
	params.Set("type", "sell")
	params.Set("payment_option", strconv.Itoa(int(domain.PaymentExpressOnly)))
	params.Set("amount_currency_to_trade", quantity.String())

	if err := b.executeTrade(ctx, offer, params); err != nil {
		return 0, fmt.Errorf("bitcoinde: sell %s to %s: %w", quantity, offer.OrderID, err)
	}

	detail, err := b.tradeDetail(ctx, offer)
	if err != nil {
		return 0, fmt.Errorf("bitcoinde: sell %s: %w", offer.OrderID, err)
	}
	volume := detail.Trade.VolumeAfterFee
	if !volume.Valid {
		return 0, fmt.Errorf("bitcoinde: sell %s: %w: missing volume after fee", offer.OrderID, domain.ErrExecution)
	}
	proceeds := volume.Decimal.Shift(2)
	if proceeds.IsNegative() || proceeds.GreaterThan(offer.Notional(offer.Amount)) {
		return 0, fmt.Errorf("bitcoinde: sell %s: %w: implausible volume after fee %s",
			offer.OrderID, domain.ErrExecution, volume.Decimal)
	}
	return proceeds.IntPart(), nil
}

func (b *Broker) tradeURL(offer domain.Offer) string {
	return b.baseURL + "/" + string(offer.Pair) + "/trades/" + url.PathEscape(offer.OrderID)
}

// executeTrade posts the trade and expects 201 Created.
func (b *Broker) executeTrade(ctx context.Context, offer domain.Offer, params url.Values) error {
	status, body, err := b.do(ctx, http.MethodPost, b.tradeURL(offer), params)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrExecution, status, body)
	}
	b.logger.InfoContext(ctx, "trade executed",
		slog.String("offer_id", offer.OrderID),
		slog.String("type", params.Get("type")),
		slog.String("amount", params.Get("amount_currency_to_trade")),
	)
	return nil
}

func (b *Broker) tradeDetail(ctx context.Context, offer domain.Offer) (tradeDetail, error) {
	var detail tradeDetail
	_, body, err := b.do(ctx, http.MethodGet, b.tradeURL(offer), nil)
	if err != nil {
		return detail, fmt.Errorf("get trade detail: %w", err)
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return detail, fmt.Errorf("decode trade detail: %w", err)
	}
	return detail, nil
}

// do builds, signs, sends, and reads an HTTP request. It returns the status
// code and the raw body of any 2xx response.
func (b *Broker) do(ctx context.Context, method, uri string, params url.Values) (int, []byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if method == http.MethodPost {
		bodyReader = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range b.auth.Headers(method, uri, params) {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
