package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// OrderStore is the minimal interface the coordinator needs from the legacy
// per-order store.
type OrderStore interface {
	Create(ctx context.Context, p *domain.Position) error
	GetActive(ctx context.Context, currency string) ([]*domain.Position, error)
}

// SnapshotStore is the minimal interface the coordinator needs from the new
// aggregated-snapshot store.
type SnapshotStore interface {
	Insert(ctx context.Context, currency string, s *domain.AccountStatus) error
	Latest(ctx context.Context, currency string) (*domain.AccountStatus, error)
}

// BalanceProvider supplies the undeployed wallet balance.
type BalanceProvider interface {
	GetAvailableBalance(ctx context.Context) (decimal.Decimal, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Stats
// ──────────────────────────────────────────────────────────────────────────────

// DualWriteStats are process-lifetime counters; they reset on restart and
// drive the cutover decision.
type DualWriteStats struct {
	DualWrites          int64   `json:"dual_writes"`
	WriteErrors         int64   `json:"write_errors"`
	ComparisonChecks    int64   `json:"comparison_checks"`
	DataInconsistencies int64   `json:"data_inconsistencies"`
	NewSystemErrors     int64   `json:"new_system_errors"`
	NewSystemErrorRate  float64 `json:"new_system_error_rate"`  // percent
	InconsistencyRate   float64 `json:"inconsistency_rate"`     // percent
	NewSystemRead       bool    `json:"new_system_read_enabled"`
	ComparisonEnabled   bool    `json:"comparison_enabled"`
}

// utilization difference, in percentage points, above which a comparison
// check counts as an inconsistency.
var inconsistencyThreshold = decimal.NewFromInt(5)

const (
	maxErrorRatePct         = 5.0  // new-system error rate gate for cutover
	maxInconsistencyRatePct = 10.0 // inconsistency rate gate for cutover
)

// ──────────────────────────────────────────────────────────────────────────────
// DualWriteService
// ──────────────────────────────────────────────────────────────────────────────

// DualWriteService routes order writes to the legacy per-order store and the
// new aggregated-snapshot store during the migration window, compares the two
// after each write, and decides when reads can cut over.
//
// The legacy store stays the source of truth: a legacy write failure fails
// the caller, a new-store failure only bumps a counter.
type DualWriteService struct {
	orders    OrderStore
	snapshots SnapshotStore
	balances  BalanceProvider
	currency  string
	logger    *slog.Logger

	mu                sync.Mutex
	newSystemWrite    bool
	newSystemRead     bool
	comparisonEnabled bool
	stats             DualWriteStats
}

// NewDualWriteService builds a coordinator with flags seeded from config.
func NewDualWriteService(
	orders OrderStore,
	snapshots SnapshotStore,
	balances BalanceProvider,
	currency string,
	cfg *config.DualWriteConfig,
	logger *slog.Logger,
) *DualWriteService {
	return &DualWriteService{
		orders:            orders,
		snapshots:         snapshots,
		balances:          balances,
		currency:          currency,
		logger:            logger,
		newSystemWrite:    cfg.NewSystemWrite,
		newSystemRead:     cfg.NewSystemRead,
		comparisonEnabled: cfg.Comparison,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// WriteOrder persists a new position. Legacy first; only a legacy failure is
// returned to the caller. When new-system writes are on, the refreshed
// aggregate view is appended to the snapshot store and, if comparison is
// still enabled, checked against the legacy aggregation.
func (s *DualWriteService) WriteOrder(ctx context.Context, p *domain.Position) error {
	s.mu.Lock()
	s.stats.DualWrites++
	newWrite, compare := s.newSystemWrite, s.comparisonEnabled
	s.mu.Unlock()

	if err := s.orders.Create(ctx, p); err != nil {
		s.mu.Lock()
		s.stats.WriteErrors++
		s.mu.Unlock()
		return fmt.Errorf("dualwrite.WriteOrder: legacy store: %w", err)
	}

	if !newWrite {
		return nil
	}

	legacy, err := s.legacyStatus(ctx)
	if err != nil {
		s.recordNewSystemError("aggregate for snapshot", err)
		return nil
	}
	if err := s.snapshots.Insert(ctx, s.currency, legacy); err != nil {
		s.recordNewSystemError("snapshot insert", err)
		return nil
	}

	if compare {
		s.compareSystems(ctx, legacy)
	}
	return nil
}

func (s *DualWriteService) recordNewSystemError(op string, err error) {
	s.mu.Lock()
	s.stats.NewSystemErrors++
	s.mu.Unlock()
	s.logger.Warn("new-system write failed, legacy unaffected", "op", op, "err", err)
}

// compareSystems checks the utilization rate reported by both stores and
// records an inconsistency when they diverge by more than the threshold.
// Never surfaces an error to the write caller.
func (s *DualWriteService) compareSystems(ctx context.Context, legacy *domain.AccountStatus) {
	stored, err := s.snapshots.Latest(ctx, s.currency)
	if err != nil {
		s.recordNewSystemError("comparison read", err)
		return
	}

	s.mu.Lock()
	s.stats.ComparisonChecks++
	diff := legacy.UtilizationRate.Sub(stored.UtilizationRate).Abs()
	inconsistent := diff.GreaterThan(inconsistencyThreshold)
	if inconsistent {
		s.stats.DataInconsistencies++
	}
	s.mu.Unlock()

	if inconsistent {
		s.logger.Warn("dual-write consistency violation",
			"legacy_utilization", legacy.UtilizationRate,
			"snapshot_utilization", stored.UtilizationRate,
			"diff_pp", diff)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

// ReadAccountStatus returns the account view from whichever system is active.
// A new-system read failure falls back to the legacy aggregation for that
// single read instead of surfacing the error.
func (s *DualWriteService) ReadAccountStatus(ctx context.Context) (*domain.AccountStatus, error) {
	s.mu.Lock()
	useNew := s.newSystemRead
	s.mu.Unlock()

	if useNew {
		status, err := s.snapshots.Latest(ctx, s.currency)
		if err == nil {
			return status, nil
		}
		s.recordNewSystemError("read", err)
	}
	return s.legacyStatus(ctx)
}

// legacyStatus aggregates the per-order store into the account view.
func (s *DualWriteService) legacyStatus(ctx context.Context) (*domain.AccountStatus, error) {
	positions, err := s.orders.GetActive(ctx, s.currency)
	if err != nil {
		return nil, fmt.Errorf("dualwrite.legacyStatus: positions: %w", err)
	}
	idle, err := s.balances.GetAvailableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("dualwrite.legacyStatus: balance: %w", err)
	}

	working := decimal.Zero
	daily := decimal.Zero
	for _, p := range positions {
		working = working.Add(p.Amount)
		daily = daily.Add(p.DailyInterest())
	}
	total := working.Add(idle)

	annualRate := decimal.Zero
	if total.IsPositive() {
		annualRate = daily.Div(total).Mul(decimal.NewFromInt(365)).Mul(decimal.NewFromInt(100))
	}

	return &domain.AccountStatus{
		TotalBalance:    total,
		MoneyWorking:    working,
		MoneyIdle:       idle,
		UtilizationRate: domain.UtilizationRate(working, idle),
		DailyEarnings:   daily,
		AnnualRate:      annualRate,
		ActiveOrders:    len(positions),
		AvgLendingRate:  domain.WeightedAvgRate(positions).Mul(decimal.NewFromInt(100)),
		LastUpdated:     time.Now().UTC(),
		Source:          "legacy",
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Cutover
// ──────────────────────────────────────────────────────────────────────────────

// FullCutover flips reads to the new system once its track record is clean
// enough: new-system error rate at most 5% of dual writes and inconsistencies
// at most 10% of comparison checks. A refusal changes no state. A successful
// cutover also disables further comparison.
func (s *DualWriteService) FullCutover() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorRate := percentOf(s.stats.NewSystemErrors, s.stats.DualWrites)
	inconsistencyRate := percentOf(s.stats.DataInconsistencies, s.stats.ComparisonChecks)

	if errorRate > maxErrorRatePct {
		return false, fmt.Sprintf("new system error rate %.1f%% exceeds %.0f%%", errorRate, maxErrorRatePct)
	}
	if inconsistencyRate > maxInconsistencyRatePct {
		return false, fmt.Sprintf("inconsistency rate %.1f%% exceeds %.0f%%", inconsistencyRate, maxInconsistencyRatePct)
	}

	s.newSystemRead = true
	s.comparisonEnabled = false
	s.logger.Info("dual-write cutover complete, reads now served from snapshots",
		"error_rate_pct", errorRate, "inconsistency_rate_pct", inconsistencyRate)
	return true, ""
}

func percentOf(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// Stats returns a copy of the counters with the derived rates filled in.
func (s *DualWriteService) Stats() DualWriteStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.NewSystemErrorRate = percentOf(s.stats.NewSystemErrors, s.stats.DualWrites)
	out.InconsistencyRate = percentOf(s.stats.DataInconsistencies, s.stats.ComparisonChecks)
	out.NewSystemRead = s.newSystemRead
	out.ComparisonEnabled = s.comparisonEnabled
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────────────────────────────────

// HealthState is the coordinator's summary for the health endpoint.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"  // both systems readable, sane balances
	HealthDegraded HealthState = "degraded" // one system unreadable
	HealthCritical HealthState = "critical" // neither system readable
)

// HealthCheck samples a read from each system. Healthy requires both to
// answer with non-negative balances.
func (s *DualWriteService) HealthCheck(ctx context.Context) HealthState {
	legacyOK := false
	if status, err := s.legacyStatus(ctx); err == nil && !status.TotalBalance.IsNegative() {
		legacyOK = true
	}

	newOK := false
	if status, err := s.snapshots.Latest(ctx, s.currency); err == nil && !status.TotalBalance.IsNegative() {
		newOK = true
	} else if domain.IsNotFound(err) {
		// An empty snapshot store before the first dual write is not a fault.
		newOK = true
	}

	switch {
	case legacyOK && newOK:
		return HealthHealthy
	case legacyOK || newOK:
		return HealthDegraded
	default:
		return HealthCritical
	}
}
