package trader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gannbot/internal/domain"
)

// ProfitKind selects how a ProfitRule threshold is interpreted.
type ProfitKind int

const (
	// ProfitFixed is an absolute threshold in minor units per configured spend.
	ProfitFixed ProfitKind = iota
	// ProfitPercentage is a markup in percentage points over the cost basis.
	ProfitPercentage
)

// ProfitRule is the minimum profit a sale must generate.
type ProfitRule struct {
	Kind  ProfitKind
	Value int64
}

// Fixed returns an absolute profit rule in minor units.
func Fixed(minorUnits int64) ProfitRule {
	return ProfitRule{Kind: ProfitFixed, Value: minorUnits}
}

// Percentage returns a markup profit rule in percentage points.
func Percentage(points int64) ProfitRule {
	return ProfitRule{Kind: ProfitPercentage, Value: points}
}

// ParseProfitRule parses "10%" as a percentage and "1000" as a fixed amount.
func ParseProfitRule(s string) (ProfitRule, error) {
	s = strings.TrimSpace(s)
	kind := ProfitFixed
	if strings.HasSuffix(s, "%") {
		kind = ProfitPercentage
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ProfitRule{}, fmt.Errorf("%w: %q", domain.ErrInvalidProfit, s)
	}
	return ProfitRule{Kind: kind, Value: v}, nil
}

func (r ProfitRule) String() string {
	if r.Kind == ProfitPercentage {
		return strconv.FormatInt(r.Value, 10) + "%"
	}
	return strconv.FormatInt(r.Value, 10)
}

// Policy describes how a trader responds to offers. It is a value type;
// copies are independent.
type Policy struct {
	Spend           int64 // minor units to spend per purchase
	Tolerance       int64 // allowed deviation from Spend
	StepPrice       int64 // decline required between consecutive purchases
	TurnaroundPrice int64 // pullback from the peak required after a full exit
	Decimals        int32 // rounding precision of purchase quantities
	Pair            domain.TradingPair
	Profit          ProfitRule
}

// DefaultPolicy returns a fresh policy with the stock values.
func DefaultPolicy() Policy {
	return Policy{
		Spend:           100_00,
		Tolerance:       20_00,
		StepPrice:       10_00,
		TurnaroundPrice: 10_00,
		Decimals:        4,
		Pair:            domain.PairBTCEUR,
		Profit:          Fixed(10_00),
	}
}

// NewPolicy builds a validated policy from configuration values. profit is
// parsed with ParseProfitRule.
func NewPolicy(spend, tolerance, step, turnaround int64, decimals int32, pair, profit string) (Policy, error) {
	rule, err := ParseProfitRule(profit)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{
		Spend:           spend,
		Tolerance:       tolerance,
		StepPrice:       step,
		TurnaroundPrice: turnaround,
		Decimals:        decimals,
		Pair:            domain.ParseTradingPair(pair),
		Profit:          rule,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects policies the decision algorithms cannot work with.
func (p Policy) Validate() error {
	switch {
	case p.Spend <= 0:
		return fmt.Errorf("%w: spend must be > 0, got %d", domain.ErrInvalidPolicy, p.Spend)
	case p.Tolerance < 0:
		return fmt.Errorf("%w: tolerance must be >= 0, got %d", domain.ErrInvalidPolicy, p.Tolerance)
	case p.Decimals < 0:
		return fmt.Errorf("%w: decimals must be >= 0, got %d", domain.ErrInvalidPolicy, p.Decimals)
	case p.Pair.Index() < 0 || p.Pair == domain.PairUnknown:
		return fmt.Errorf("%w: unknown trading pair %q", domain.ErrInvalidPolicy, p.Pair)
	}
	return nil
}

// MaxNotional is the most a single purchase may cost.
func (p Policy) MaxNotional() int64 {
	return p.Spend + p.Tolerance
}

// MinNotional is the least a single purchase must cost.
func (p Policy) MinNotional() int64 {
	return p.Spend - p.Tolerance
}

// IsProfitable reports whether selling quantity to offer for an initial cost
// of costBasis satisfies the profit rule. A fixed threshold is scaled by
// costBasis/Spend so that it grows with the position being sold.
func (p Policy) IsProfitable(quantity decimal.Decimal, offer domain.Offer, costBasis decimal.Decimal) bool {
	revenue := offer.Notional(quantity)
	if p.Profit.Kind == ProfitPercentage {
		// revenue >= cost * (1 + markup/100)
		lhs := revenue.Mul(decimal.NewFromInt(100))
		rhs := costBasis.Mul(decimal.NewFromInt(100 + p.Profit.Value))
		return lhs.GreaterThanOrEqual(rhs)
	}
	// revenue >= cost * (1 + fixed/spend)
	lhs := revenue.Mul(decimal.NewFromInt(p.Spend))
	rhs := costBasis.Mul(decimal.NewFromInt(p.Spend + p.Profit.Value))
	return lhs.GreaterThanOrEqual(rhs)
}
