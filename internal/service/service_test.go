package service_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/evetabi/lending/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── In-memory fakes ───────────────────────────────────────────────────────────

type fakeVenue struct {
	balance    decimal.Decimal
	balanceErr error
	snap       *domain.MarketSnapshot
	snapErr    error
	ledger     []domain.LedgerEntry
	ledgerErr  error
	live       map[int64]bool
	liveErr    error

	nextOrderID int64
	submitted   []domain.Offer
	cancelled   int
}

func (v *fakeVenue) GetAvailableBalance(context.Context) (decimal.Decimal, error) {
	return v.balance, v.balanceErr
}

func (v *fakeVenue) GetOrderBook(context.Context) (*domain.MarketSnapshot, error) {
	return v.snap, v.snapErr
}

func (v *fakeVenue) LedgerEntries(context.Context, time.Time) ([]domain.LedgerEntry, error) {
	return v.ledger, v.ledgerErr
}

func (v *fakeVenue) ActiveOfferIDs(context.Context) (map[int64]bool, error) {
	return v.live, v.liveErr
}

func (v *fakeVenue) SubmitOffer(_ context.Context, offer domain.Offer) (int64, error) {
	v.nextOrderID++
	v.submitted = append(v.submitted, offer)
	return v.nextOrderID, nil
}

func (v *fakeVenue) CancelAllOffers(context.Context) (int, error) {
	return v.cancelled, nil
}

type fakePositions struct {
	mu        sync.Mutex
	created   []*domain.Position
	active    []*domain.Position
	onDate    []*domain.Position
	open      []*domain.Position
	byVenueID map[int64]*domain.Position
	total     int
	executed  int
	createErr error
}

func (f *fakePositions) Create(_ context.Context, p *domain.Position) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	return nil
}

func (f *fakePositions) GetActive(context.Context, string) ([]*domain.Position, error) {
	return f.active, nil
}

func (f *fakePositions) GetExecutedOnDate(context.Context, time.Time) ([]*domain.Position, error) {
	return f.onDate, nil
}

func (f *fakePositions) CountOrdersOnDate(context.Context, time.Time) (int, int, error) {
	return f.total, f.executed, nil
}

func (f *fakePositions) GetOpen(context.Context) ([]*domain.Position, error) {
	return f.open, nil
}

func (f *fakePositions) GetByVenueOrderID(_ context.Context, id int64) (*domain.Position, error) {
	if p, ok := f.byVenueID[id]; ok {
		return p, nil
	}
	return nil, domain.ErrPositionNotFound
}

func (f *fakePositions) Update(_ context.Context, p *domain.Position) error {
	return nil
}

type fakeEarnings struct {
	mu   sync.Mutex
	rows map[string]*domain.DailyEarnings
}

func newFakeEarnings() *fakeEarnings {
	return &fakeEarnings{rows: make(map[string]*domain.DailyEarnings)}
}

func earningsKey(currency string, date time.Time) string {
	return currency + "|" + date.Format("2006-01-02")
}

func (f *fakeEarnings) Upsert(_ context.Context, e *domain.DailyEarnings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.rows[earningsKey(e.Currency, e.Date)] = &cp
	return nil
}

func (f *fakeEarnings) GetByDate(_ context.Context, currency string, date time.Time) (*domain.DailyEarnings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.rows[earningsKey(currency, date)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, domain.ErrEarningsNotFound
}

func (f *fakeEarnings) UpdateSettlementStatus(_ context.Context, currency string, date time.Time, status domain.SettlementStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[earningsKey(currency, date)]
	if !ok {
		return domain.ErrEarningsNotFound
	}
	e.SettlementStatus = status
	return nil
}

type fakeSnapshots struct {
	rows      []*domain.AccountStatus
	insertErr error
	latestErr error
}

func (f *fakeSnapshots) Insert(_ context.Context, _ string, s *domain.AccountStatus) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *s
	cp.Source = "snapshot"
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeSnapshots) Latest(context.Context, string) (*domain.AccountStatus, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	if len(f.rows) == 0 {
		return nil, domain.ErrEarningsNotFound
	}
	cp := *f.rows[len(f.rows)-1]
	return &cp, nil
}

type fakeLedgerStore struct {
	sum     decimal.Decimal
	sumErr  error
	entries []*domain.LedgerEntry
	paid    map[int64]bool
}

func (f *fakeLedgerStore) SumInterestForDate(context.Context, string, time.Time) (decimal.Decimal, error) {
	return f.sum, f.sumErr
}

func (f *fakeLedgerStore) Insert(_ context.Context, e *domain.LedgerEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLedgerStore) HasPaymentForOrder(_ context.Context, venueOrderID int64) (bool, error) {
	return f.paid[venueOrderID], nil
}

func executedPosition(amount, rate float64, strategyName string) *domain.Position {
	return &domain.Position{
		ID:           uuid.New(),
		Currency:     "USD",
		Amount:       decimal.NewFromFloat(amount),
		Rate:         decimal.NewFromFloat(rate),
		Period:       2,
		Status:       domain.PositionActive,
		OrderStatus:  domain.OrderExecuted,
		StrategyName: strategyName,
	}
}

// ── Settlement ────────────────────────────────────────────────────────────────

// TestSettlementScenario runs the reference day:
//
//	deployed = 3000, available = 2000, interest = 0.8
//	utilization      = 3000/5000 × 100       = 60.0
//	daily return     = 0.8/3000              ≈ 0.0002667
//	annualized       = daily × 365 × 100     ≈ 9.7333
func TestSettlementScenario(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	venue := &fakeVenue{
		balance: decimal.NewFromInt(2000),
		snap:    &domain.MarketSnapshot{Top: domain.TopRates{AvgRate: decimal.NewFromFloat(0.07)}},
		ledger: []domain.LedgerEntry{{
			Amount:     decimal.NewFromFloat(0.8),
			ReceivedAt: day.Add(6 * time.Hour),
		}},
	}
	positions := &fakePositions{
		onDate: []*domain.Position{
			executedPosition(1000, 0.08, "optimal_allocation"),
			executedPosition(2000, 0.075, "optimal_allocation"),
		},
		total:    3,
		executed: 2,
	}
	earnings := newFakeEarnings()

	svc := service.NewSettlementService(positions, earnings, venue, &fakeLedgerStore{},
		"USD", "optimal_allocation", slog.Default())

	result := svc.SettleDay(context.Background(), day)
	require.True(t, result.Success, "settlement should succeed: %s", result.ErrorMessage)
	require.NotNil(t, result.Earnings)

	e := result.Earnings
	assert.True(t, e.UtilizationRate.Equal(decimal.NewFromInt(60)),
		"utilization = %s, want 60", e.UtilizationRate)
	assert.InDelta(t, 0.0002667, e.DailyReturnRate.InexactFloat64(), 0.0000001)
	assert.InDelta(t, 9.7333, e.AnnualizedReturn.InexactFloat64(), 0.001)
	assert.Equal(t, domain.SettlementCompleted, e.SettlementStatus)
	assert.True(t, e.TotalInterest.Equal(decimal.NewFromFloat(0.8)))

	// Balance invariant: deployed + available = total within tolerance.
	assert.True(t, e.BalanceConsistent(decimal.NewFromInt(5000), decimal.NewFromFloat(0.01)))

	// Round-trip: the stored row carries the same key and figures.
	stored, err := earnings.GetByDate(context.Background(), "USD", day)
	require.NoError(t, err)
	assert.True(t, stored.Date.Equal(e.Date))
	assert.Equal(t, e.Currency, stored.Currency)
	assert.True(t, stored.TotalInterest.Equal(e.TotalInterest))
	assert.True(t, stored.DeployedAmount.Equal(e.DeployedAmount))
	assert.True(t, stored.UtilizationRate.Equal(e.UtilizationRate))
}

func TestSettlementIdempotent(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	venue := &fakeVenue{
		balance: decimal.NewFromInt(2000),
		snap:    &domain.MarketSnapshot{Top: domain.TopRates{AvgRate: decimal.NewFromFloat(0.07)}},
		ledger: []domain.LedgerEntry{{
			Amount:     decimal.NewFromFloat(0.8),
			ReceivedAt: day.Add(time.Hour),
		}},
	}
	positions := &fakePositions{
		onDate:   []*domain.Position{executedPosition(3000, 0.08, "ladder")},
		total:    1,
		executed: 1,
	}
	earnings := newFakeEarnings()
	svc := service.NewSettlementService(positions, earnings, venue, &fakeLedgerStore{},
		"USD", "ladder", slog.Default())

	first := svc.SettleDay(context.Background(), day)
	second := svc.SettleDay(context.Background(), day)
	require.True(t, first.Success)
	require.True(t, second.Success)

	assert.True(t, first.Earnings.TotalInterest.Equal(second.Earnings.TotalInterest))
	assert.True(t, first.Earnings.DeployedAmount.Equal(second.Earnings.DeployedAmount))
	assert.True(t, first.Earnings.UtilizationRate.Equal(second.Earnings.UtilizationRate))
	assert.True(t, first.Earnings.WeightedAvgRate.Equal(second.Earnings.WeightedAvgRate))
	assert.True(t, first.Earnings.AnnualizedReturn.Equal(second.Earnings.AnnualizedReturn))
}

func TestSettlementLedgerFallback(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	venue := &fakeVenue{
		balance:   decimal.NewFromInt(1000),
		snap:      &domain.MarketSnapshot{Top: domain.TopRates{AvgRate: decimal.NewFromFloat(0.07)}},
		ledgerErr: errors.New("venue ledger down"),
	}
	positions := &fakePositions{
		onDate:   []*domain.Position{executedPosition(500, 0.08, "ladder")},
		total:    1,
		executed: 1,
	}
	local := &fakeLedgerStore{sum: decimal.NewFromFloat(0.11)}
	earnings := newFakeEarnings()
	svc := service.NewSettlementService(positions, earnings, venue, local,
		"USD", "ladder", slog.Default())

	result := svc.SettleDay(context.Background(), day)
	require.True(t, result.Success, "local ledger fallback should keep settlement alive")
	assert.True(t, result.Earnings.TotalInterest.Equal(decimal.NewFromFloat(0.11)))
	assert.NotEmpty(t, result.Warnings, "the fallback must be surfaced as a warning")
}

func TestSettlementFailureMarksFailed(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	venue := &fakeVenue{
		balanceErr: errors.New("balance endpoint down"),
		snap:       &domain.MarketSnapshot{},
		ledger:     nil,
	}
	earnings := newFakeEarnings()
	svc := service.NewSettlementService(&fakePositions{}, earnings, venue, &fakeLedgerStore{},
		"USD", "ladder", slog.Default())

	result := svc.SettleDay(context.Background(), day)
	require.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)

	stored, err := earnings.GetByDate(context.Background(), "USD", day)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, stored.SettlementStatus)
}

func TestFailedRerunKeepsPreviousFigures(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	earnings := newFakeEarnings()
	require.NoError(t, earnings.Upsert(context.Background(), &domain.DailyEarnings{
		Date:             day,
		Currency:         "USD",
		TotalInterest:    decimal.NewFromFloat(0.8),
		DeployedAmount:   decimal.NewFromInt(3000),
		AvailableAmount:  decimal.NewFromInt(2000),
		SettlementStatus: domain.SettlementCompleted,
	}))

	// Rerun the already-settled day against a broken venue.
	venue := &fakeVenue{
		balanceErr: errors.New("balance endpoint down"),
		snap:       &domain.MarketSnapshot{},
	}
	svc := service.NewSettlementService(&fakePositions{}, earnings, venue, &fakeLedgerStore{},
		"USD", "ladder", slog.Default())

	result := svc.SettleDay(context.Background(), day)
	require.False(t, result.Success)

	// The failure only moves the status; the last good aggregate survives.
	stored, err := earnings.GetByDate(context.Background(), "USD", day)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, stored.SettlementStatus)
	assert.True(t, stored.TotalInterest.Equal(decimal.NewFromFloat(0.8)),
		"interest = %s", stored.TotalInterest)
	assert.True(t, stored.DeployedAmount.Equal(decimal.NewFromInt(3000)))
	assert.True(t, stored.AvailableAmount.Equal(decimal.NewFromInt(2000)))
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	earnings := newFakeEarnings()
	require.NoError(t, earnings.Upsert(context.Background(), &domain.DailyEarnings{
		Date:             day,
		Currency:         "USD",
		SettlementStatus: domain.SettlementCompleted,
	}))

	venue := &fakeVenue{snap: &domain.MarketSnapshot{}}
	svc := service.NewSettlementService(&fakePositions{}, earnings, venue, &fakeLedgerStore{},
		"USD", "ladder", slog.Default())

	_, err := svc.RetryFailedSettlement(context.Background(), day)
	assert.ErrorIs(t, err, domain.ErrSettlementNotFailed)

	// Unknown day is equally not retryable.
	_, err = svc.RetryFailedSettlement(context.Background(), day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, domain.ErrSettlementNotFailed)
}

// ── Dual-write coordinator ────────────────────────────────────────────────────

func dualWriteConfig() *config.DualWriteConfig {
	return &config.DualWriteConfig{NewSystemWrite: true, NewSystemRead: false, Comparison: true}
}

func TestDualWriteLegacyFailureIsHard(t *testing.T) {
	positions := &fakePositions{createErr: errors.New("legacy db down")}
	venue := &fakeVenue{balance: decimal.NewFromInt(1000)}
	svc := service.NewDualWriteService(positions, &fakeSnapshots{}, venue, "USD",
		dualWriteConfig(), slog.Default())

	err := svc.WriteOrder(context.Background(), executedPosition(200, 0.08, "ladder"))
	require.Error(t, err, "legacy write failure must fail the caller")

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.DualWrites)
	assert.Equal(t, int64(1), stats.WriteErrors)
}

func TestDualWriteNewSystemFailureIsSoft(t *testing.T) {
	positions := &fakePositions{active: []*domain.Position{executedPosition(400, 0.08, "ladder")}}
	venue := &fakeVenue{balance: decimal.NewFromInt(600)}
	snapshots := &fakeSnapshots{insertErr: errors.New("snapshot db down")}
	svc := service.NewDualWriteService(positions, snapshots, venue, "USD",
		dualWriteConfig(), slog.Default())

	err := svc.WriteOrder(context.Background(), executedPosition(200, 0.08, "ladder"))
	require.NoError(t, err, "new-system failure must not reach the caller")

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.DualWrites)
	assert.Equal(t, int64(0), stats.WriteErrors)
	assert.Equal(t, int64(1), stats.NewSystemErrors)
}

func TestDualWriteComparisonCounts(t *testing.T) {
	positions := &fakePositions{active: []*domain.Position{executedPosition(400, 0.08, "ladder")}}
	venue := &fakeVenue{balance: decimal.NewFromInt(600)}
	snapshots := &fakeSnapshots{}
	svc := service.NewDualWriteService(positions, snapshots, venue, "USD",
		dualWriteConfig(), slog.Default())

	require.NoError(t, svc.WriteOrder(context.Background(), executedPosition(200, 0.08, "ladder")))

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.ComparisonChecks)
	assert.Equal(t, int64(0), stats.DataInconsistencies,
		"snapshot derived from the same aggregation must agree with legacy")
	require.Len(t, snapshots.rows, 1)
	// 400 working / 1000 total → 40% utilization in the written snapshot.
	assert.True(t, snapshots.rows[0].UtilizationRate.Equal(decimal.NewFromInt(40)),
		"snapshot utilization = %s", snapshots.rows[0].UtilizationRate)
}

func TestReadFallsBackToLegacy(t *testing.T) {
	positions := &fakePositions{active: []*domain.Position{executedPosition(400, 0.08, "ladder")}}
	venue := &fakeVenue{balance: decimal.NewFromInt(600)}
	snapshots := &fakeSnapshots{latestErr: errors.New("snapshot db down")}

	cfg := dualWriteConfig()
	cfg.NewSystemRead = true
	svc := service.NewDualWriteService(positions, snapshots, venue, "USD", cfg, slog.Default())

	status, err := svc.ReadAccountStatus(context.Background())
	require.NoError(t, err, "read must fall back, not fail")
	assert.Equal(t, "legacy", status.Source)
	assert.True(t, status.MoneyWorking.Equal(decimal.NewFromInt(400)))
	assert.True(t, status.TotalBalance.Equal(decimal.NewFromInt(1000)))
}

func TestHealthCheckStates(t *testing.T) {
	positions := &fakePositions{}
	venue := &fakeVenue{balance: decimal.NewFromInt(100)}

	// Empty snapshot store before the first write is still healthy.
	svc := service.NewDualWriteService(positions, &fakeSnapshots{}, venue, "USD",
		dualWriteConfig(), slog.Default())
	assert.Equal(t, service.HealthHealthy, svc.HealthCheck(context.Background()))

	// Snapshot store erroring degrades but does not go critical while the
	// legacy side still answers.
	svc = service.NewDualWriteService(positions, &fakeSnapshots{latestErr: errors.New("down")},
		venue, "USD", dualWriteConfig(), slog.Default())
	assert.Equal(t, service.HealthDegraded, svc.HealthCheck(context.Background()))

	// Both sides down is critical.
	badVenue := &fakeVenue{balanceErr: errors.New("down")}
	svc = service.NewDualWriteService(positions, &fakeSnapshots{latestErr: errors.New("down")},
		badVenue, "USD", dualWriteConfig(), slog.Default())
	assert.Equal(t, service.HealthCritical, svc.HealthCheck(context.Background()))
}

// ── Order sync ────────────────────────────────────────────────────────────────

func TestSyncAssumesVanishedOrdersExecuted(t *testing.T) {
	pending := executedPosition(500, 0.08, "ladder")
	pending.VenueOrderID = 11
	pending.OrderStatus = domain.OrderPending

	vanished := executedPosition(700, 0.09, "ladder")
	vanished.VenueOrderID = 12
	vanished.OrderStatus = domain.OrderActive

	venue := &fakeVenue{live: map[int64]bool{11: true}}
	positions := &fakePositions{open: []*domain.Position{pending, vanished}}
	svc := service.NewSyncService(venue, positions, &fakeLedgerStore{}, slog.Default())

	require.NoError(t, svc.SyncOrders(context.Background()))

	assert.Equal(t, domain.OrderActive, pending.OrderStatus,
		"order still on the book moves PENDING→ACTIVE")
	assert.Equal(t, domain.OrderExecuted, vanished.OrderStatus,
		"order missing from the live list is assumed executed")
	assert.NotNil(t, vanished.CompletedAt)
	assert.Nil(t, vanished.ExecutedAmount, "heuristic fill carries no executed amount")
}

func TestSyncVanishedOrderWithPaymentIsConfirmed(t *testing.T) {
	vanished := executedPosition(700, 0.09, "ladder")
	vanished.VenueOrderID = 12
	vanished.OrderStatus = domain.OrderActive

	venue := &fakeVenue{live: map[int64]bool{}}
	ledger := &fakeLedgerStore{paid: map[int64]bool{12: true}}
	positions := &fakePositions{open: []*domain.Position{vanished}}
	svc := service.NewSyncService(venue, positions, ledger, slog.Default())

	require.NoError(t, svc.SyncOrders(context.Background()))

	assert.Equal(t, domain.OrderExecuted, vanished.OrderStatus)
	require.NotNil(t, vanished.ExecutedAmount,
		"a stored payment upgrades the vanish to a confirmed fill")
	assert.True(t, vanished.ExecutedAmount.Equal(decimal.NewFromInt(700)))
}

func TestLedgerImportConfirmsExecution(t *testing.T) {
	orderID := int64(42)
	p := executedPosition(500, 0.08, "ladder")
	p.VenueOrderID = orderID
	p.OrderStatus = domain.OrderActive

	venue := &fakeVenue{ledger: []domain.LedgerEntry{{
		ID:           uuid.New(),
		VenueID:      9001,
		VenueOrderID: &orderID,
		Currency:     "USD",
		Amount:       decimal.NewFromFloat(0.11),
		ReceivedAt:   time.Now().UTC(),
	}}}
	ledger := &fakeLedgerStore{}
	positions := &fakePositions{byVenueID: map[int64]*domain.Position{orderID: p}}
	svc := service.NewSyncService(venue, positions, ledger, slog.Default())

	require.NoError(t, svc.ImportLedger(context.Background()))
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, domain.OrderExecuted, p.OrderStatus,
		"payment referencing the order confirms execution")
	assert.NotNil(t, p.ExecutedAmount)
}

// ── Allocation cycle ──────────────────────────────────────────────────────────

type fakeStrategy struct {
	offers []domain.Offer
	err    error
	min    decimal.Decimal
}

func (f *fakeStrategy) GenerateOffers(decimal.Decimal, *domain.MarketSnapshot) ([]domain.Offer, error) {
	return f.offers, f.err
}
func (f *fakeStrategy) ValidateOrderAmount(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(f.min)
}
func (f *fakeStrategy) Name() string { return "fake" }

type captureHub struct {
	reports []service.CycleReport
}

func (h *captureHub) BroadcastCycleReport(r service.CycleReport) {
	h.reports = append(h.reports, r)
}

func TestCycleSubmitsAndRecords(t *testing.T) {
	venue := &fakeVenue{
		balance:   decimal.NewFromInt(1000),
		snap:      &domain.MarketSnapshot{Currency: "USD", FetchedAt: time.Now()},
		cancelled: 2,
	}
	strat := &fakeStrategy{
		min: decimal.NewFromInt(100),
		offers: []domain.Offer{
			{Rate: decimal.NewFromFloat(0.08), Amount: decimal.NewFromInt(400), Period: 2},
			{Rate: decimal.NewFromFloat(0.081), Amount: decimal.NewFromInt(50), Period: 2}, // below min, dropped
			{Rate: decimal.NewFromFloat(0.082), Amount: decimal.NewFromInt(300), Period: 2},
		},
	}
	positions := &fakePositions{}
	hub := &captureHub{}
	svc := service.NewAllocationService(venue, strat,
		service.NewDualWriteService(positions, &fakeSnapshots{}, venue, "USD", dualWriteConfig(), slog.Default()),
		nil, hub, "USD", decimal.NewFromInt(100), slog.Default())

	svc.RunCycle(context.Background())

	assert.Len(t, venue.submitted, 2, "the invalid offer is dropped, the rest submitted")
	assert.Len(t, positions.created, 2, "every submitted offer is recorded")
	require.Len(t, hub.reports, 1)
	r := hub.reports[0]
	assert.False(t, r.Skipped)
	assert.Equal(t, 2, r.CancelledOffers)
	assert.Equal(t, 2, r.SubmittedOffers)
	assert.Equal(t, 1, r.DroppedOffers)
	assert.True(t, r.TotalAllocated.Equal(decimal.NewFromInt(700)))
}

func TestCycleSkipsOnLowBalance(t *testing.T) {
	venue := &fakeVenue{balance: decimal.NewFromInt(40), snap: &domain.MarketSnapshot{}}
	strat := &fakeStrategy{min: decimal.NewFromInt(100)}
	hub := &captureHub{}
	svc := service.NewAllocationService(venue, strat, nil, nil, hub,
		"USD", decimal.NewFromInt(100), slog.Default())

	svc.RunCycle(context.Background())

	require.Len(t, hub.reports, 1)
	assert.True(t, hub.reports[0].Skipped)
	assert.Empty(t, venue.submitted)
}

func TestCycleSurvivesStrategyError(t *testing.T) {
	venue := &fakeVenue{balance: decimal.NewFromInt(1000), snap: &domain.MarketSnapshot{}}
	strat := &fakeStrategy{min: decimal.NewFromInt(100), err: fmt.Errorf("strategy blew up")}
	hub := &captureHub{}
	svc := service.NewAllocationService(venue, strat, nil, nil, hub,
		"USD", decimal.NewFromInt(100), slog.Default())

	// Must not panic or propagate; the report carries the reason.
	svc.RunCycle(context.Background())
	require.Len(t, hub.reports, 1)
	assert.True(t, hub.reports[0].Skipped)
	assert.Contains(t, hub.reports[0].SkipReason, "strategy")
}
