package strategy

import (
	"errors"
	"fmt"

	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// OptimalAllocation — score the book, then size across the best of it
// ──────────────────────────────────────────────────────────────────────────────

// OptimalAllocation is the default strategy. It scores the bid side of the
// book into ranked opportunities and lets the planner size orders across the
// best of them. When the book yields no usable opportunity it degrades to the
// planner's even-split fallback instead of sitting out the cycle.
type OptimalAllocation struct {
	base
	baseRate decimal.Decimal
	planner  Planner
}

func (o *OptimalAllocation) Name() string { return string(KindOptimalAllocation) }

func (o *OptimalAllocation) GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error) {
	plan, err := o.PlanAllocations(availableBalance, snapshot)
	if err != nil {
		return nil, err
	}

	offers := make([]domain.Offer, 0, len(plan))
	for _, a := range plan {
		if o.ValidateOrderAmount(a.Amount) {
			offers = append(offers, a.Offer())
		}
	}
	return offers, nil
}

// PlanAllocations exposes the full plan, confidence and expected return
// included, for cycle reporting.
func (o *OptimalAllocation) PlanAllocations(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) (domain.Plan, error) {
	if snapshot == nil || len(snapshot.Book) == 0 {
		return nil, domain.ErrMarketDataUnavailable
	}

	opportunities := domain.AnalyzeBook(snapshot.Bids(), snapshot.Top.AvgRate, o.baseRate)
	plan, err := o.planner.Plan(availableBalance, opportunities)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, domain.ErrNoOpportunities) {
		return nil, fmt.Errorf("strategy.OptimalAllocation: %w", err)
	}

	return o.planner.FallbackPlan(availableBalance, snapshot.Top.AvgRate), nil
}
