package bitcoinde

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// Websocket event names.
const (
	EventAddOrder             = "add_order"
	EventRemoveOrder          = "remove_order"
	EventRefreshExpressOption = "refresh_express_option"
)

// Message is the envelope of a websocket order-stream message.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// orderData holds the fields of add_order and remove_order payloads. The
// stream sends numbers as strings; decimal accepts both.
type orderData struct {
	OrderID       string              `json:"order_id"`
	OrderType     string              `json:"order_type"`
	TradingPair   string              `json:"trading_pair"`
	Price         decimal.NullDecimal `json:"price"`
	Amount        decimal.NullDecimal `json:"amount"`
	MinAmount     decimal.NullDecimal `json:"min_amount"`
	PaymentOption decimal.NullDecimal `json:"payment_option"`
	Reason        string              `json:"reason"`
}

// ParseMessage converts a raw websocket message into an event stamped with
// now in UTC. ok is false for well-formed messages that carry no event of
// interest.
func ParseMessage(raw []byte, now time.Time) (ev domain.Event, ok bool, err error) {
	now = now.UTC()
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Event{}, false, fmt.Errorf("bitcoinde: decode message: %w", err)
	}

	switch msg.Event {
	case EventAddOrder:
		var d orderData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return domain.Event{}, false, fmt.Errorf("bitcoinde: decode add_order: %w", err)
		}
		o, err := d.offer(now)
		if err != nil {
			return domain.Event{}, false, err
		}
		return domain.OfferAdded(o), true, nil

	case EventRemoveOrder:
		var d orderData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return domain.Event{}, false, fmt.Errorf("bitcoinde: decode remove_order: %w", err)
		}
		r, err := d.removal(now)
		if err != nil {
			return domain.Event{}, false, err
		}
		return domain.OfferRemoved(r), true, nil

	case EventRefreshExpressOption:
		return domain.Event{}, false, nil
	}
	return domain.Event{}, false, fmt.Errorf("bitcoinde: %w: %q", domain.ErrUnknownEvent, msg.Event)
}

// toMinorUnits converts a price in major units to cents.
func toMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func (d orderData) offer(now time.Time) (domain.Offer, error) {
	if d.OrderID == "" {
		return domain.Offer{}, fmt.Errorf("bitcoinde: add_order: %w: missing order_id", domain.ErrInvalidOffer)
	}
	side, err := domain.ParseSide(d.OrderType)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("bitcoinde: add_order %s: %w: %w", d.OrderID, domain.ErrInvalidOffer, err)
	}
	if !d.Price.Valid || !d.Amount.Valid {
		return domain.Offer{}, fmt.Errorf("bitcoinde: add_order %s: %w: missing price or amount", d.OrderID, domain.ErrInvalidOffer)
	}
	price := toMinorUnits(d.Price.Decimal)
	if price <= 0 {
		return domain.Offer{}, fmt.Errorf("bitcoinde: add_order %s: %w: price %s below one cent",
			d.OrderID, domain.ErrInvalidOffer, d.Price.Decimal)
	}
	minAmount := decimal.Zero
	if d.MinAmount.Valid {
		minAmount = d.MinAmount.Decimal
	}
	payment := domain.PaymentNA
	if d.PaymentOption.Valid {
		payment = domain.PaymentOption(d.PaymentOption.Decimal.IntPart())
		if !payment.Valid() {
			return domain.Offer{}, fmt.Errorf("bitcoinde: add_order %s: %w: payment option %s",
				d.OrderID, domain.ErrInvalidOffer, d.PaymentOption.Decimal)
		}
	}

	return domain.Offer{
		OrderID:       d.OrderID,
		Amount:        domain.NormalizeQuantity(d.Amount.Decimal),
		MinAmount:     domain.NormalizeQuantity(minAmount),
		Price:         price,
		Side:          side,
		Pair:          domain.ParseTradingPair(d.TradingPair),
		Date:          now,
		PaymentOption: payment,
	}, nil
}

func (d orderData) removal(now time.Time) (domain.Removal, error) {
	if d.OrderID == "" {
		return domain.Removal{}, fmt.Errorf("bitcoinde: remove_order: %w: missing order_id", domain.ErrInvalidOffer)
	}
	side, err := domain.ParseSide(d.OrderType)
	if err != nil {
		return domain.Removal{}, fmt.Errorf("bitcoinde: remove_order %s: %w: %w", d.OrderID, domain.ErrInvalidOffer, err)
	}
	r := domain.Removal{
		OrderID: d.OrderID,
		Side:    side,
		Reason:  d.Reason,
		Date:    now,
	}
	if d.Price.Valid {
		r.Price = toMinorUnits(d.Price.Decimal)
	}
	if d.Amount.Valid {
		q := domain.NormalizeQuantity(d.Amount.Decimal)
		r.Amount = &q
	}
	return r, nil
}
