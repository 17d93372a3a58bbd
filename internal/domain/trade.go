package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is what the trader did with an offer.
type Action string

const (
	ActionBought Action = "bought"
	ActionSold   Action = "sold"
)

// Fill is the record of an accepted and executed trade.
type Fill struct {
	ID         string
	Trader     string
	OrderID    string
	Pair       TradingPair
	Action     Action
	Price      int64           // offer price, minor units
	Requested  decimal.Decimal // quantity sent to the broker
	Filled     decimal.Decimal // quantity credited (buys) or sold (sells)
	Cash       int64           // debited notional (buys) or credited proceeds (sells)
	CashAfter  int64
	ExecutedAt time.Time
}
