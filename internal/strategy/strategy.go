// Package strategy implements the lending strategies that turn an available
// balance and a market snapshot into funding offers. The set of strategies is
// closed: adding one means adding a Kind constant and a case in New.
package strategy

import (
	"fmt"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Kind — the closed strategy enum
// ──────────────────────────────────────────────────────────────────────────────

// Kind identifies one of the built-in strategies.
type Kind string

const (
	KindLadder            Kind = "ladder"
	KindAdaptiveLadder    Kind = "adaptive_ladder"
	KindSpreadFiller      Kind = "spread_filler"
	KindMarketTaker       Kind = "market_taker"
	KindOptimalAllocation Kind = "optimal_allocation"
)

// ParseKind validates a configured strategy name.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindLadder, KindAdaptiveLadder, KindSpreadFiller, KindMarketTaker, KindOptimalAllocation:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("unknown strategy %q", name)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Strategy contract
// ──────────────────────────────────────────────────────────────────────────────

// Strategy generates funding offers for one allocation cycle.
//
// Implementations must return only offers whose amount passes
// ValidateOrderAmount; offers that cannot meet the minimum are omitted rather
// than shrunk below it. A nil offer slice with a nil error means "nothing to
// do this cycle" and is not a failure.
type Strategy interface {
	GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error)
	ValidateOrderAmount(amount decimal.Decimal) bool
	Name() string
}

// RateHistory supplies recent market rates to the adaptive ladder. The market
// log repository implements it.
type RateHistory interface {
	RecentBidRates(period int, lookback time.Duration) ([]decimal.Decimal, error)
}

// New builds the strategy selected by kind. The adaptive ladder requires a
// RateHistory; passing nil for any other kind is fine.
func New(kind Kind, cfg *config.StrategyConfig, history RateHistory) (Strategy, error) {
	b := newBase(cfg)
	switch kind {
	case KindLadder:
		return &Ladder{base: b, count: cfg.LadderCount, spread: decimal.NewFromFloat(cfg.LadderRateSpread)}, nil
	case KindAdaptiveLadder:
		if history == nil {
			return nil, fmt.Errorf("strategy.New: adaptive_ladder requires a rate history")
		}
		return &AdaptiveLadder{
			base:     b,
			count:    cfg.LadderCount,
			volMult:  decimal.NewFromFloat(cfg.VolatilityMult),
			lookback: time.Duration(cfg.LookbackHours) * time.Hour,
			history:  history,
		}, nil
	case KindSpreadFiller:
		return &SpreadFiller{
			base:         b,
			ratio:        decimal.NewFromFloat(cfg.SpreadRatio),
			minThreshold: decimal.NewFromFloat(cfg.MinSpreadThreshold),
		}, nil
	case KindMarketTaker:
		return &MarketTaker{base: b, percentage: decimal.NewFromFloat(cfg.TakerPercentage)}, nil
	case KindOptimalAllocation:
		return &OptimalAllocation{
			base:     b,
			baseRate: decimal.NewFromFloat(cfg.BaseRate),
			planner: Planner{
				TargetUtilization: decimal.NewFromFloat(cfg.TargetUtilization),
				MaxSingleRatio:    decimal.NewFromFloat(cfg.MaxSingleRatio),
				MinOrderAmount:    decimal.NewFromFloat(cfg.MinOrderAmount),
			},
		}, nil
	default:
		return nil, fmt.Errorf("strategy.New: unknown kind %q", kind)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared base
// ──────────────────────────────────────────────────────────────────────────────

// base carries the settings every strategy shares.
type base struct {
	minOrder decimal.Decimal
	period   int // configured lending period in days
}

func newBase(cfg *config.StrategyConfig) base {
	return base{
		minOrder: decimal.NewFromFloat(cfg.MinOrderAmount),
		period:   cfg.LendingPeriodDays,
	}
}

// ValidateOrderAmount reports whether amount meets the venue minimum.
func (b base) ValidateOrderAmount(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(b.minOrder)
}
