package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the number of decimal places coin quantities are
// normalized to (satoshi resolution).
const QuantityPlaces int32 = 8

// NormalizeQuantity truncates q to QuantityPlaces decimal places.
func NormalizeQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(QuantityPlaces)
}

// Side is the side stated by the creator of an offer. A buy offer means
// someone wants to buy coins from us; a sell offer means someone wants to
// sell coins to us.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// sides lists the sides in wire-index order.
var sides = []Side{SideBuy, SideSell}

// Index returns the position of s in the wire enumeration, or -1.
func (s Side) Index() int {
	for i, v := range sides {
		if v == s {
			return i
		}
	}
	return -1
}

// SideByIndex resolves a wire index to a Side.
func SideByIndex(i int) (Side, error) {
	if i < 0 || i >= len(sides) {
		return "", fmt.Errorf("side index %d out of range", i)
	}
	return sides[i], nil
}

// ParseSide parses the marketplace's order_type value.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// TradingPair identifies the market an offer belongs to.
type TradingPair string

const (
	PairBTCEUR  TradingPair = "btceur"
	PairETHEUR  TradingPair = "etheur"
	PairBSVEUR  TradingPair = "bsveur"
	PairBCHEUR  TradingPair = "bcheur"
	PairBTGEUR  TradingPair = "btgeur"
	PairLTCEUR  TradingPair = "ltceur"
	PairXRPEUR  TradingPair = "xrpeur"
	PairDOGEEUR TradingPair = "dogeeur"
	PairUnknown TradingPair = "unknown"
)

// pairs lists the trading pairs in wire-index order. Append only.
var pairs = []TradingPair{
	PairBTCEUR, PairETHEUR, PairBSVEUR, PairBCHEUR, PairBTGEUR,
	PairLTCEUR, PairXRPEUR, PairDOGEEUR, PairUnknown,
}

// Index returns the position of p in the wire enumeration, or -1.
func (p TradingPair) Index() int {
	for i, v := range pairs {
		if v == p {
			return i
		}
	}
	return -1
}

// PairByIndex resolves a wire index to a TradingPair.
func PairByIndex(i int) (TradingPair, error) {
	if i < 0 || i >= len(pairs) {
		return "", fmt.Errorf("trading pair index %d out of range", i)
	}
	return pairs[i], nil
}

// ParseTradingPair maps an unrecognized pair to PairUnknown.
func ParseTradingPair(s string) TradingPair {
	p := TradingPair(s)
	if p.Index() < 0 {
		return PairUnknown
	}
	return p
}

// PaymentOption is the payment method accepted by the offer creator.
type PaymentOption int

const (
	PaymentNA PaymentOption = iota
	PaymentExpressOnly
	PaymentSepaOnly
	PaymentExpressSepa
)

// Valid reports whether p is a known payment option.
func (p PaymentOption) Valid() bool {
	return p >= PaymentNA && p <= PaymentExpressSepa
}

// Offer is an offer to buy or sell coins published on the marketplace.
type Offer struct {
	OrderID       string
	Amount        decimal.Decimal // coins offered or asked for
	MinAmount     decimal.Decimal // minimum the creator is willing to trade
	Price         int64           // per coin, minor currency units (cents)
	Side          Side
	Pair          TradingPair
	Date          time.Time // UTC, whole seconds once recorded
	PaymentOption PaymentOption
}

// Notional returns price * quantity in minor units.
func (o Offer) Notional(quantity decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(o.Price).Mul(quantity)
}

func (o Offer) String() string {
	return fmt.Sprintf("#%s %4s %s(%s) for %.2f of %s",
		o.OrderID, o.Side, o.Amount.StringFixed(6), o.MinAmount.StringFixed(6),
		float64(o.Price)/100.0, o.Pair)
}

// Removal describes an offer which has been withdrawn or taken.
type Removal struct {
	OrderID string
	Side    Side
	Reason  string
	Price   int64            // realized price in minor units, 0 when not sold
	Amount  *decimal.Decimal // realized amount, nil when not sold
	Date    time.Time        // UTC
}

func (r Removal) String() string {
	return fmt.Sprintf("removal #%s %4s %s", r.OrderID, r.Side, r.Reason)
}

// EventType tags a marketplace event.
type EventType int32

const (
	EventOfferAdded   EventType = 0
	EventOfferRemoved EventType = 1
)

// Event is a single marketplace event. Exactly one of Offer or Removal is
// meaningful, selected by Type.
type Event struct {
	Type    EventType
	Offer   Offer
	Removal Removal
}

// OfferAdded wraps an offer in an Event.
func OfferAdded(o Offer) Event {
	return Event{Type: EventOfferAdded, Offer: o}
}

// OfferRemoved wraps a removal in an Event.
func OfferRemoved(r Removal) Event {
	return Event{Type: EventOfferRemoved, Removal: r}
}
