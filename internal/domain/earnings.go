package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// SettlementStatus is the state of one (date, currency) settlement run.
//
//	PENDING → IN_PROGRESS → {COMPLETED | FAILED}
//
// FAILED may re-enter IN_PROGRESS via the explicit retry operation; COMPLETED
// is terminal except for manual reprocessing.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementInProgress SettlementStatus = "IN_PROGRESS"
	SettlementCompleted  SettlementStatus = "COMPLETED"
	SettlementFailed     SettlementStatus = "FAILED"
)

var daysPerYear = decimal.NewFromInt(365)

var hundred = decimal.NewFromInt(100)

// ──────────────────────────────────────────────────────────────────────────────
// DailyEarnings
// ──────────────────────────────────────────────────────────────────────────────

// DailyEarnings is the aggregated daily performance record — the snapshot the
// new store keeps one row of per (date, currency). Recomputation upserts the
// row, so settlement is idempotent by that key.
type DailyEarnings struct {
	ID                    int64            `json:"id"                     db:"id"`
	Date                  time.Time        `json:"date"                   db:"date"`
	Currency              string           `json:"currency"               db:"currency"`
	TotalInterest         decimal.Decimal  `json:"total_interest"         db:"total_interest"`
	DeployedAmount        decimal.Decimal  `json:"deployed_amount"        db:"deployed_amount"`
	AvailableAmount       decimal.Decimal  `json:"available_amount"       db:"available_amount"`
	WeightedAvgRate       decimal.Decimal  `json:"weighted_avg_rate"      db:"weighted_avg_rate"`
	UtilizationRate       decimal.Decimal  `json:"utilization_rate"       db:"utilization_rate"` // percent
	DailyReturnRate       decimal.Decimal  `json:"daily_return_rate"      db:"daily_return_rate"`
	AnnualizedReturn      decimal.Decimal  `json:"annualized_return"      db:"annualized_return"` // percent
	PrimaryStrategy       string           `json:"primary_strategy"       db:"primary_strategy"`
	TotalOrders           int              `json:"total_orders"           db:"total_orders"`
	SuccessRate           decimal.Decimal  `json:"success_rate"           db:"success_rate"` // percent
	MarketAvgRate         *decimal.Decimal `json:"market_avg_rate"        db:"market_avg_rate"`
	MarketCompetitiveness *decimal.Decimal `json:"market_competitiveness" db:"market_competitiveness"`
	SettlementStatus      SettlementStatus `json:"settlement_status"      db:"settlement_status"`
	SettledAt             *time.Time       `json:"settled_at"             db:"settled_at"`
	CreatedAt             time.Time        `json:"created_at"             db:"created_at"`
}

// TotalBalance returns deployed + available funds for the settled day.
func (e *DailyEarnings) TotalBalance() decimal.Decimal {
	return e.DeployedAmount.Add(e.AvailableAmount)
}

// BalanceConsistent verifies the balance invariant within tolerance:
// deployed + available must equal the given total for the date.
func (e *DailyEarnings) BalanceConsistent(total, tolerance decimal.Decimal) bool {
	return e.TotalBalance().Sub(total).Abs().LessThanOrEqual(tolerance)
}

// ──────────────────────────────────────────────────────────────────────────────
// Derived metrics — shared by the settlement calculator and both read paths
// ──────────────────────────────────────────────────────────────────────────────

// UtilizationRate returns deployed/(deployed+available)·100, or zero when
// the denominator is zero.
func UtilizationRate(deployed, available decimal.Decimal) decimal.Decimal {
	total := deployed.Add(available)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return deployed.Div(total).Mul(hundred)
}

// WeightedAvgRate returns Σ(amount·rate)/Σamount over the positions, or zero
// when nothing is deployed.
func WeightedAvgRate(positions []*Position) decimal.Decimal {
	weighted := decimal.Zero
	total := decimal.Zero
	for _, p := range positions {
		weighted = weighted.Add(p.Amount.Mul(p.Rate))
		total = total.Add(p.Amount)
	}
	if !total.IsPositive() {
		return decimal.Zero
	}
	return weighted.Div(total)
}

// AnnualizedReturn converts a daily return rate into an annualized percentage.
func AnnualizedReturn(dailyReturnRate decimal.Decimal) decimal.Decimal {
	return dailyReturnRate.Mul(daysPerYear).Mul(hundred)
}

// MarketCompetitiveness returns ourRate/marketRate·100, or nil when the
// market rate is zero (nothing to compare against).
func MarketCompetitiveness(ourRate, marketRate decimal.Decimal) *decimal.Decimal {
	if !marketRate.IsPositive() {
		return nil
	}
	v := ourRate.Div(marketRate).Mul(hundred)
	return &v
}

// ──────────────────────────────────────────────────────────────────────────────
// AccountStatus — the dual-write read model
// ──────────────────────────────────────────────────────────────────────────────

// AccountStatus is the aggregated account view served by the dual-write
// coordinator. Both the legacy aggregation and the new snapshot store can
// produce one; Source records which system answered.
type AccountStatus struct {
	TotalBalance    decimal.Decimal `json:"total_balance"`
	MoneyWorking    decimal.Decimal `json:"money_working"`
	MoneyIdle       decimal.Decimal `json:"money_idle"`
	UtilizationRate decimal.Decimal `json:"utilization_rate"` // percent
	DailyEarnings   decimal.Decimal `json:"daily_earnings"`
	AnnualRate      decimal.Decimal `json:"annual_rate"` // percent
	ActiveOrders    int             `json:"active_orders"`
	AvgLendingRate  decimal.Decimal `json:"avg_lending_rate"` // percent
	LastUpdated     time.Time       `json:"last_updated"`
	Source          string          `json:"source"` // "legacy" | "snapshot"
}
