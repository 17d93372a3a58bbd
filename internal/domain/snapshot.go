package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one ledger entry: coins acquired at Price.
type Tier struct {
	Price    int64           `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Snapshot is the persisted state of a single trader.
type Snapshot struct {
	Trader             string    `json:"trader"`
	Cash               int64     `json:"money"`
	Ledger             []Tier    `json:"depot"`
	HighestPriceBuying int64     `json:"highest_price_buying"`
	LowestPriceSelling int64     `json:"lowest_price_selling"`
	UpdatedAt          time.Time `json:"updated_at"`
}
