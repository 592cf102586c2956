package domain

import "github.com/shopspring/decimal"

// ──────────────────────────────────────────────────────────────────────────────
// Offers & allocations
// ──────────────────────────────────────────────────────────────────────────────

// Offer is a single lending order ready for submission: lend Amount at the
// daily Rate for Period days.
type Offer struct {
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
	Period int             `json:"period"` // days
}

// Allocation is one sized entry of an allocation plan. Offers derived from it
// carry the same rate/amount/period; ExpectedReturn and Confidence are kept
// for reporting.
type Allocation struct {
	Rate           decimal.Decimal `json:"rate"`
	Amount         decimal.Decimal `json:"amount"`
	Period         int             `json:"period"`
	ExpectedReturn decimal.Decimal `json:"expected_return"` // daily, amount-weighted
	Confidence     float64         `json:"confidence"`      // fill probability estimate
}

// Offer converts the allocation into a submittable offer.
func (a Allocation) Offer() Offer {
	return Offer{Rate: a.Rate, Amount: a.Amount, Period: a.Period}
}

// Plan is an ordered list of allocations produced for one cycle. Consumed
// immediately by order submission; only the resulting orders are persisted.
type Plan []Allocation

// Total returns the sum of all allocated amounts.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p {
		total = total.Add(a.Amount)
	}
	return total
}

// ──────────────────────────────────────────────────────────────────────────────
// Period selection
// ──────────────────────────────────────────────────────────────────────────────

// Period bucket boundaries. Boundaries are inclusive on the lower side:
// a rate of exactly 0.10 takes the short bucket, exactly 0.08 the mid bucket.
var (
	periodRateShort = decimal.NewFromFloat(0.10)
	periodRateMid   = decimal.NewFromFloat(0.08)
)

// OptimalPeriod picks a lending period for a rate: high rates lock funds for
// a short period to stay able to re-price, low rates lock longer to ride the
// yield.
//
//	rate ≥ 0.10         → 2 days
//	0.08 ≤ rate < 0.10  → 7 days
//	rate < 0.08         → 30 days
func OptimalPeriod(rate decimal.Decimal) int {
	switch {
	case rate.GreaterThanOrEqual(periodRateShort):
		return 2
	case rate.GreaterThanOrEqual(periodRateMid):
		return 7
	default:
		return 30
	}
}
