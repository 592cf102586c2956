package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// SettlementPositionStore is the minimal position access settlement needs.
type SettlementPositionStore interface {
	GetExecutedOnDate(ctx context.Context, date time.Time) ([]*domain.Position, error)
	CountOrdersOnDate(ctx context.Context, date time.Time) (total, executed int, err error)
}

// EarningsStore persists the aggregated daily record.
type EarningsStore interface {
	Upsert(ctx context.Context, e *domain.DailyEarnings) error
	GetByDate(ctx context.Context, currency string, date time.Time) (*domain.DailyEarnings, error)
	UpdateSettlementStatus(ctx context.Context, currency string, date time.Time, status domain.SettlementStatus) error
}

// InterestSource reports interest received during a window. The exchange
// ledger is the primary source, the local ledger table the fallback.
type InterestSource interface {
	LedgerEntries(ctx context.Context, since time.Time) ([]domain.LedgerEntry, error)
}

// LocalInterestStore is the fallback when the venue ledger call fails.
type LocalInterestStore interface {
	SumInterestForDate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error)
}

// MarketRateSource supplies the top-of-book rates for competitiveness.
type MarketRateSource interface {
	GetOrderBook(ctx context.Context) (*domain.MarketSnapshot, error)
}

// SettlementVenue bundles the three venue calls settlement collects from.
type SettlementVenue interface {
	InterestSource
	MarketRateSource
	BalanceProvider
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementResult
// ──────────────────────────────────────────────────────────────────────────────

// SettlementResult is the structured outcome of one settlement run. Failures
// are reported here, not raised: the row is marked FAILED and the caller sees
// Success=false with the reason.
type SettlementResult struct {
	Success      bool                  `json:"success"`
	Earnings     *domain.DailyEarnings `json:"earnings,omitempty"`
	ErrorMessage string                `json:"error,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService aggregates one day's positions, interest payments, wallet
// balances and market rates into a DailyEarnings record.
//
// State machine per (date, currency): PENDING → IN_PROGRESS → COMPLETED or
// FAILED. FAILED re-enters IN_PROGRESS via RetryFailedSettlement; COMPLETED
// days may be recomputed, the upsert keyed on (date, currency) keeps that
// idempotent.
type SettlementService struct {
	positions    SettlementPositionStore
	earnings     EarningsStore
	venue        SettlementVenue
	localLedger  LocalInterestStore
	currency     string
	strategyName string
	logger       *slog.Logger
}

// NewSettlementService builds a SettlementService.
func NewSettlementService(
	positions SettlementPositionStore,
	earnings EarningsStore,
	venue SettlementVenue,
	localLedger LocalInterestStore,
	currency, strategyName string,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		positions:    positions,
		earnings:     earnings,
		venue:        venue,
		localLedger:  localLedger,
		currency:     currency,
		strategyName: strategyName,
		logger:       logger,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// SettleDay
// ──────────────────────────────────────────────────────────────────────────────

// SettleDay runs the settlement for one calendar day. Any collection failure
// marks the row FAILED; nothing partial is ever persisted as COMPLETED.
func (s *SettlementService) SettleDay(ctx context.Context, date time.Time) SettlementResult {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	// Mark the day IN_PROGRESS first so operators see the run. A rerun over
	// an existing row must only move its status — if it then fails, the last
	// good figures survive. The skeleton row is created only for a day that
	// has never been settled.
	if err := s.earnings.UpdateSettlementStatus(ctx, s.currency, day, domain.SettlementInProgress); err != nil {
		if !errors.Is(err, domain.ErrEarningsNotFound) {
			return SettlementResult{Success: false, ErrorMessage: fmt.Sprintf("settlement: mark in-progress: %v", err)}
		}
		skeleton := &domain.DailyEarnings{
			Date:             day,
			Currency:         s.currency,
			PrimaryStrategy:  s.strategyName,
			SettlementStatus: domain.SettlementInProgress,
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.earnings.Upsert(ctx, skeleton); err != nil {
			return SettlementResult{Success: false, ErrorMessage: fmt.Sprintf("settlement: create day record: %v", err)}
		}
	}

	inputs, warnings, err := s.collect(ctx, day)
	if err != nil {
		if stErr := s.earnings.UpdateSettlementStatus(ctx, s.currency, day, domain.SettlementFailed); stErr != nil {
			s.logger.Error("settlement: could not mark day FAILED", "date", day, "err", stErr)
		}
		return SettlementResult{
			Success:      false,
			ErrorMessage: err.Error(),
			Warnings:     warnings,
		}
	}

	record := s.compute(day, inputs)
	if err := s.earnings.Upsert(ctx, record); err != nil {
		if stErr := s.earnings.UpdateSettlementStatus(ctx, s.currency, day, domain.SettlementFailed); stErr != nil {
			s.logger.Error("settlement: could not mark day FAILED", "date", day, "err", stErr)
		}
		return SettlementResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("settlement: persist: %v", err),
			Warnings:     warnings,
		}
	}

	s.logger.Info("settlement completed",
		"date", day.Format("2006-01-02"),
		"total_interest", record.TotalInterest,
		"utilization_pct", record.UtilizationRate,
		"annualized_pct", record.AnnualizedReturn)
	return SettlementResult{Success: true, Earnings: record, Warnings: warnings}
}

// RetryFailedSettlement re-runs a day only when its current status is FAILED.
func (s *SettlementService) RetryFailedSettlement(ctx context.Context, date time.Time) (SettlementResult, error) {
	existing, err := s.earnings.GetByDate(ctx, s.currency, date)
	if err != nil {
		if errors.Is(err, domain.ErrEarningsNotFound) {
			return SettlementResult{}, fmt.Errorf("settlement.Retry: %w", domain.ErrSettlementNotFailed)
		}
		return SettlementResult{}, fmt.Errorf("settlement.Retry: %w", err)
	}
	if existing.SettlementStatus != domain.SettlementFailed {
		return SettlementResult{}, fmt.Errorf("settlement.Retry: status is %s: %w",
			existing.SettlementStatus, domain.ErrSettlementNotFailed)
	}
	return s.SettleDay(ctx, date), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Collection — four independent inputs, fetched in parallel
// ──────────────────────────────────────────────────────────────────────────────

type settlementInputs struct {
	interest       decimal.Decimal
	available      decimal.Decimal
	marketAvg      decimal.Decimal // zero when the book fetch failed upstream
	positions      []*domain.Position
	totalOrders    int
	executedOrders int
}

// collect fans out the four data-collection calls and joins them. The first
// hard failure wins; the interest collector degrades to the local ledger
// before it counts as failed.
func (s *SettlementService) collect(ctx context.Context, day time.Time) (*settlementInputs, []string, error) {
	type outcome struct {
		name    string
		warning string
		err     error
		apply   func(*settlementInputs)
	}

	collectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, 4)

	go func() {
		interest, warning, err := s.collectInterest(collectCtx, day)
		results <- outcome{name: "interest", warning: warning, err: err,
			apply: func(in *settlementInputs) { in.interest = interest }}
	}()
	go func() {
		available, err := s.venue.GetAvailableBalance(collectCtx)
		results <- outcome{name: "balance", err: err,
			apply: func(in *settlementInputs) { in.available = available }}
	}()
	go func() {
		snap, err := s.venue.GetOrderBook(collectCtx)
		var avg decimal.Decimal
		if err == nil {
			avg = snap.Top.AvgRate
		}
		results <- outcome{name: "market rates", err: err,
			apply: func(in *settlementInputs) { in.marketAvg = avg }}
	}()
	go func() {
		positions, err := s.positions.GetExecutedOnDate(collectCtx, day)
		var total, executed int
		if err == nil {
			total, executed, err = s.positions.CountOrdersOnDate(collectCtx, day)
		}
		results <- outcome{name: "positions", err: err,
			apply: func(in *settlementInputs) {
				in.positions = positions
				in.totalOrders = total
				in.executedOrders = executed
			}}
	}()

	inputs := &settlementInputs{}
	var warnings []string
	var firstErr error
	for i := 0; i < 4; i++ {
		r := <-results
		if r.warning != "" {
			warnings = append(warnings, r.warning)
		}
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %v", domain.ErrDataCollection, r.name, r.err)
				cancel() // no point finishing the others
			}
			continue
		}
		r.apply(inputs)
	}
	if firstErr != nil {
		return nil, warnings, firstErr
	}
	return inputs, warnings, nil
}

// collectInterest asks the venue ledger first and falls back to locally
// stored payment rows when the remote call fails.
func (s *SettlementService) collectInterest(ctx context.Context, day time.Time) (decimal.Decimal, string, error) {
	dayEnd := day.Add(24 * time.Hour)

	entries, err := s.venue.LedgerEntries(ctx, day)
	if err == nil {
		total := decimal.Zero
		for _, e := range entries {
			if !e.ReceivedAt.Before(day) && e.ReceivedAt.Before(dayEnd) {
				total = total.Add(e.Amount)
			}
		}
		return total, "", nil
	}

	local, ferr := s.localLedger.SumInterestForDate(ctx, s.currency, day)
	if ferr != nil {
		return decimal.Zero, "", fmt.Errorf("venue ledger: %v; local fallback: %w", err, ferr)
	}
	return local, fmt.Sprintf("venue ledger unavailable (%v), interest taken from local ledger", err), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Aggregation math
// ──────────────────────────────────────────────────────────────────────────────

func (s *SettlementService) compute(day time.Time, in *settlementInputs) *domain.DailyEarnings {
	deployed := decimal.Zero
	for _, p := range in.positions {
		deployed = deployed.Add(p.Amount)
	}

	weightedRate := domain.WeightedAvgRate(in.positions)

	dailyReturn := decimal.Zero
	if deployed.IsPositive() {
		dailyReturn = in.interest.Div(deployed)
	}

	successRate := decimal.Zero
	if in.totalOrders > 0 {
		successRate = decimal.NewFromInt(int64(in.executedOrders)).
			Div(decimal.NewFromInt(int64(in.totalOrders))).
			Mul(decimal.NewFromInt(100))
	}

	var marketAvg *decimal.Decimal
	if in.marketAvg.IsPositive() {
		avg := in.marketAvg
		marketAvg = &avg
	}

	now := time.Now().UTC()
	return &domain.DailyEarnings{
		Date:                  day,
		Currency:              s.currency,
		TotalInterest:         in.interest,
		DeployedAmount:        deployed,
		AvailableAmount:       in.available,
		WeightedAvgRate:       weightedRate,
		UtilizationRate:       domain.UtilizationRate(deployed, in.available),
		DailyReturnRate:       dailyReturn,
		AnnualizedReturn:      domain.AnnualizedReturn(dailyReturn),
		PrimaryStrategy:       primaryStrategy(in.positions, s.strategyName),
		TotalOrders:           in.totalOrders,
		SuccessRate:           successRate,
		MarketAvgRate:         marketAvg,
		MarketCompetitiveness: domain.MarketCompetitiveness(weightedRate, in.marketAvg),
		SettlementStatus:      domain.SettlementCompleted,
		SettledAt:             &now,
		CreatedAt:             now,
	}
}

// primaryStrategy is the mode of strategy names across the day's positions;
// the configured strategy when there were none.
func primaryStrategy(positions []*domain.Position, fallback string) string {
	if len(positions) == 0 {
		return fallback
	}
	counts := make(map[string]int)
	best, bestCount := fallback, 0
	for _, p := range positions {
		counts[p.StrategyName]++
		if counts[p.StrategyName] > bestCount {
			best, bestCount = p.StrategyName, counts[p.StrategyName]
		}
	}
	return best
}
