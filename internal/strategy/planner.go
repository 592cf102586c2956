package strategy

import (
	"sort"

	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Planner — size orders across ranked opportunities
// ──────────────────────────────────────────────────────────────────────────────

const (
	// maxPlanEntries caps how many opportunities a single plan spreads across.
	maxPlanEntries = 10

	// referenceReturn is the expected return that earns a neutral quality
	// multiplier of 1.0.
	referenceReturn = 0.08

	daysPerYear = 365
)

var (
	qualityFloor   = decimal.NewFromFloat(0.5)
	qualityCeiling = decimal.NewFromFloat(2.0)
	refReturn      = decimal.NewFromFloat(referenceReturn)
)

// Planner distributes a balance across scored opportunities. Better
// opportunities receive more than an even share, worse ones less, and no
// single order may take more than MaxSingleRatio of what is still
// undeployed.
type Planner struct {
	TargetUtilization decimal.Decimal
	MaxSingleRatio    decimal.Decimal
	MinOrderAmount    decimal.Decimal
}

// Plan sizes orders over the top-ranked opportunities. It returns
// domain.ErrNoOpportunities when there is nothing worth allocating to, so the
// caller can fall back to an even split.
//
// The plan never totals more than availableBalance and every entry meets the
// minimum order amount.
func (p Planner) Plan(availableBalance decimal.Decimal, opportunities []domain.Opportunity) (domain.Plan, error) {
	if len(opportunities) == 0 {
		return nil, domain.ErrNoOpportunities
	}
	if len(opportunities) > maxPlanEntries {
		opportunities = opportunities[:maxPlanEntries]
	}

	target := availableBalance.Mul(p.TargetUtilization)
	remaining := target
	plan := make(domain.Plan, 0, len(opportunities))

	for i, opp := range opportunities {
		if remaining.LessThan(p.MinOrderAmount) {
			break
		}

		// Even share of what is left, tilted by opportunity quality and risk.
		baseAllocation := remaining.Div(decimal.NewFromInt(int64(len(opportunities) - i)))
		quality := clampDecimal(opp.ExpectedReturn.Div(refReturn), qualityFloor, qualityCeiling)
		riskMult := decimal.NewFromFloat(1 - opp.RiskScore*0.5)
		adjusted := baseAllocation.Mul(quality).Mul(riskMult)

		cap := remaining.Mul(p.MaxSingleRatio)
		amount := decimal.Max(p.MinOrderAmount, decimal.Min(adjusted, cap))

		remaining = remaining.Sub(amount)
		plan = append(plan, domain.Allocation{
			Rate:           opp.Rate,
			Amount:         amount,
			Period:         domain.OptimalPeriod(opp.Rate),
			ExpectedReturn: amount.Mul(opp.ExpectedReturn).Div(decimal.NewFromInt(daysPerYear)),
			Confidence:     opp.FillProbability,
		})
	}

	if len(plan) == 0 {
		return nil, domain.ErrNoOpportunities
	}

	// The per-order minimum can push the total past the balance; scale the
	// whole plan back down and drop entries the scaling pushed under the
	// minimum.
	if total := plan.Total(); total.GreaterThan(availableBalance) {
		factor := availableBalance.Div(total)
		scaled := plan[:0]
		for _, a := range plan {
			a.Amount = a.Amount.Mul(factor)
			a.ExpectedReturn = a.ExpectedReturn.Mul(factor)
			if a.Amount.GreaterThanOrEqual(p.MinOrderAmount) {
				scaled = append(scaled, a)
			}
		}
		plan = scaled
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Rate.GreaterThan(plan[j].Rate)
	})
	return plan, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Fallback plan
// ──────────────────────────────────────────────────────────────────────────────

const (
	fallbackMaxOrders  = 5
	fallbackPeriodDays = 7
	fallbackConfidence = 0.7
)

var fallbackRateStep = decimal.NewFromFloat(0.001)

// FallbackPlan is the conservative even split used when opportunity analysis
// produces nothing usable: up to five equal orders, each stepped slightly
// above the market average rate. An empty plan means the balance cannot fund
// even one minimum-size order.
func (p Planner) FallbackPlan(availableBalance, avgRate decimal.Decimal) domain.Plan {
	if !availableBalance.IsPositive() {
		return nil
	}
	orderCount := int(availableBalance.Div(p.MinOrderAmount).IntPart())
	if orderCount > fallbackMaxOrders {
		orderCount = fallbackMaxOrders
	}
	if orderCount == 0 {
		return nil
	}

	amount := availableBalance.Div(decimal.NewFromInt(int64(orderCount)))
	plan := make(domain.Plan, 0, orderCount)
	for i := 0; i < orderCount; i++ {
		rate := avgRate.Add(fallbackRateStep.Mul(decimal.NewFromInt(int64(i))))
		plan = append(plan, domain.Allocation{
			Rate:           rate,
			Amount:         amount,
			Period:         fallbackPeriodDays,
			ExpectedReturn: amount.Mul(rate).Div(decimal.NewFromInt(daysPerYear)),
			Confidence:     fallbackConfidence,
		})
	}
	return plan
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
