package strategy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/domain"
	"github.com/evetabi/lending/internal/strategy"
	"github.com/shopspring/decimal"
)

func testConfig() *config.StrategyConfig {
	return &config.StrategyConfig{
		Name:               "optimal_allocation",
		MinOrderAmount:     100,
		LendingPeriodDays:  2,
		TargetUtilization:  0.96,
		MaxSingleRatio:     0.15,
		BaseRate:           0.08,
		LadderCount:        5,
		LadderRateSpread:   0.0001,
		VolatilityMult:     1.5,
		LookbackHours:      24,
		SpreadRatio:        0.5,
		MinSpreadThreshold: 0.0001,
		TakerPercentage:    0.995,
	}
}

func snapshotWithBids(bids ...domain.BookEntry) *domain.MarketSnapshot {
	avg := decimal.Zero
	for _, b := range bids {
		avg = avg.Add(b.Rate)
	}
	if len(bids) > 0 {
		avg = avg.Div(decimal.NewFromInt(int64(len(bids))))
	}
	return &domain.MarketSnapshot{
		Currency:  "USD",
		Book:      bids,
		Top:       domain.TopRates{TopRate: avg, AvgRate: avg},
		FetchedAt: time.Now(),
	}
}

func bid(rate, volume float64, period int) domain.BookEntry {
	return domain.BookEntry{
		Rate:   decimal.NewFromFloat(rate),
		Volume: decimal.NewFromFloat(volume),
		Period: period,
		Side:   domain.SideBid,
	}
}

// ── Kind dispatch ─────────────────────────────────────────────────────────────

func TestParseKind(t *testing.T) {
	for _, name := range []string{"ladder", "adaptive_ladder", "spread_filler", "market_taker", "optimal_allocation"} {
		if _, err := strategy.ParseKind(name); err != nil {
			t.Errorf("ParseKind(%q) = %v, want nil", name, err)
		}
	}
	if _, err := strategy.ParseKind("martingale"); err == nil {
		t.Error("ParseKind should reject unknown strategy names")
	}
}

func TestNewRejectsAdaptiveWithoutHistory(t *testing.T) {
	if _, err := strategy.New(strategy.KindAdaptiveLadder, testConfig(), nil); err == nil {
		t.Error("adaptive_ladder without a rate history should fail construction")
	}
}

// ── Planner ───────────────────────────────────────────────────────────────────

// TestPlannerSingleOpportunity walks the canonical sizing scenario by hand:
//
//	balance = 10 000, target utilization = 0.96  → target = 9 600
//	one opportunity at rate 0.085
//	min order = 100, max single ratio = 0.15     → cap = 1 440
//
// The plan must hold exactly one order with 100 ≤ amount ≤ 1 440.
func TestPlannerSingleOpportunity(t *testing.T) {
	p := strategy.Planner{
		TargetUtilization: decimal.NewFromFloat(0.96),
		MaxSingleRatio:    decimal.NewFromFloat(0.15),
		MinOrderAmount:    decimal.NewFromInt(100),
	}
	opp := domain.Opportunity{
		Rate:            decimal.NewFromFloat(0.085),
		Volume:          decimal.NewFromInt(50000),
		ExpectedReturn:  decimal.NewFromFloat(0.085 * 0.9),
		FillProbability: 0.9,
		RiskScore:       0.1,
	}

	plan, err := p.Plan(decimal.NewFromInt(10000), []domain.Opportunity{opp})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("plan entries = %d, want 1", len(plan))
	}
	got := plan[0].Amount
	if got.LessThan(decimal.NewFromInt(100)) || got.GreaterThan(decimal.NewFromInt(1440)) {
		t.Errorf("amount = %s, want within [100, 1440]", got)
	}
	if plan[0].Period != 2 {
		t.Errorf("period = %d, want 2 for a rate above the short-period threshold", plan[0].Period)
	}
}

// TestPlannerInvariants sweeps balances and opportunity sets and checks the
// two guarantees every plan must hold: the total never exceeds the balance,
// and every entry meets the minimum order amount.
func TestPlannerInvariants(t *testing.T) {
	p := strategy.Planner{
		TargetUtilization: decimal.NewFromFloat(0.96),
		MaxSingleRatio:    decimal.NewFromFloat(0.15),
		MinOrderAmount:    decimal.NewFromInt(150),
	}

	balances := []int64{150, 500, 1000, 3000, 12345, 100000, 999999}
	for _, bal := range balances {
		balance := decimal.NewFromInt(bal)

		// Deterministic spread of opportunities of varying quality.
		var opps []domain.Opportunity
		for i := 0; i < 15; i++ {
			rate := 0.02 + float64(i)*0.011
			fill := 0.10 + float64(i%9)*0.1
			opps = append(opps, domain.Opportunity{
				Rate:            decimal.NewFromFloat(rate),
				Volume:          decimal.NewFromInt(int64(1000 * (i + 1))),
				ExpectedReturn:  decimal.NewFromFloat(rate * fill),
				FillProbability: fill,
				RiskScore:       1 - fill,
			})
		}

		plan, err := p.Plan(balance, opps)
		if err != nil {
			t.Fatalf("balance %d: Plan: %v", bal, err)
		}
		if plan.Total().GreaterThan(balance) {
			t.Errorf("balance %d: plan total %s exceeds balance", bal, plan.Total())
		}
		for i, a := range plan {
			if a.Amount.LessThan(p.MinOrderAmount) {
				t.Errorf("balance %d: entry %d amount %s below minimum", bal, i, a.Amount)
			}
		}
		for i := 1; i < len(plan); i++ {
			if plan[i].Rate.GreaterThan(plan[i-1].Rate) {
				t.Errorf("balance %d: plan not sorted by rate descending", bal)
			}
		}
	}
}

func TestPlannerNoOpportunities(t *testing.T) {
	p := strategy.Planner{
		TargetUtilization: decimal.NewFromFloat(0.96),
		MaxSingleRatio:    decimal.NewFromFloat(0.15),
		MinOrderAmount:    decimal.NewFromInt(150),
	}
	if _, err := p.Plan(decimal.NewFromInt(10000), nil); !errors.Is(err, domain.ErrNoOpportunities) {
		t.Errorf("empty opportunity set: err = %v, want ErrNoOpportunities", err)
	}
}

func TestFallbackPlan(t *testing.T) {
	p := strategy.Planner{MinOrderAmount: decimal.NewFromInt(150)}
	avgRate := decimal.NewFromFloat(0.05)

	plan := p.FallbackPlan(decimal.NewFromInt(1000), avgRate)
	if len(plan) != 5 {
		t.Fatalf("orders = %d, want 5 for a balance that funds more than five minimums", len(plan))
	}
	if !plan.Total().Equal(decimal.NewFromInt(1000)) {
		t.Errorf("fallback total = %s, want the full balance", plan.Total())
	}
	for i, a := range plan {
		wantRate := avgRate.Add(decimal.NewFromFloat(0.001).Mul(decimal.NewFromInt(int64(i))))
		if !a.Rate.Equal(wantRate) {
			t.Errorf("order %d rate = %s, want %s", i, a.Rate, wantRate)
		}
		if a.Period != 7 {
			t.Errorf("order %d period = %d, want 7", i, a.Period)
		}
		if a.Confidence != 0.7 {
			t.Errorf("order %d confidence = %v, want 0.7", i, a.Confidence)
		}
	}

	// 400 / 150 → only two orders fit.
	if got := len(p.FallbackPlan(decimal.NewFromInt(400), avgRate)); got != 2 {
		t.Errorf("orders = %d, want 2", got)
	}
	// Below one minimum → nothing.
	if got := len(p.FallbackPlan(decimal.NewFromInt(149), avgRate)); got != 0 {
		t.Errorf("orders = %d, want 0 when the balance is below one minimum", got)
	}
}

// ── OptimalAllocation ─────────────────────────────────────────────────────────

func TestOptimalAllocationGeneratesValidOffers(t *testing.T) {
	s, err := strategy.New(strategy.KindOptimalAllocation, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := snapshotWithBids(
		bid(0.085, 20000, 2),
		bid(0.082, 15000, 2),
		bid(0.079, 30000, 7),
		bid(0.051, 8000, 30),
	)
	balance := decimal.NewFromInt(10000)

	offers, err := s.GenerateOffers(balance, snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) == 0 {
		t.Fatal("expected offers from a healthy book")
	}
	total := decimal.Zero
	for _, o := range offers {
		if !s.ValidateOrderAmount(o.Amount) {
			t.Errorf("offer amount %s below minimum", o.Amount)
		}
		total = total.Add(o.Amount)
	}
	if total.GreaterThan(balance) {
		t.Errorf("offers total %s exceeds balance %s", total, balance)
	}
}

func TestOptimalAllocationFallsBackOnEmptyBook(t *testing.T) {
	s, err := strategy.New(strategy.KindOptimalAllocation, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.GenerateOffers(decimal.NewFromInt(10000), snapshotWithBids())
	if !errors.Is(err, domain.ErrMarketDataUnavailable) {
		t.Errorf("empty book: err = %v, want ErrMarketDataUnavailable", err)
	}
}

// ── Ladder ────────────────────────────────────────────────────────────────────

func TestLadderSlicesAndShrinks(t *testing.T) {
	s, err := strategy.New(strategy.KindLadder, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := snapshotWithBids(bid(0.06, 10000, 2))

	// 1000 / 5 = 200 per slice, all clear the 100 minimum.
	offers, err := s.GenerateOffers(decimal.NewFromInt(1000), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 5 {
		t.Fatalf("offers = %d, want 5", len(offers))
	}
	step := decimal.NewFromFloat(0.0001)
	for i, o := range offers {
		wantRate := decimal.NewFromFloat(0.06).Add(step.Mul(decimal.NewFromInt(int64(i))))
		if !o.Rate.Equal(wantRate) {
			t.Errorf("rung %d rate = %s, want %s", i, o.Rate, wantRate)
		}
		if !o.Amount.Equal(decimal.NewFromInt(200)) {
			t.Errorf("rung %d amount = %s, want 200", i, o.Amount)
		}
	}

	// 300 / 5 = 60 per slice, below the minimum; shrink to 3 slices of 100.
	offers, err = s.GenerateOffers(decimal.NewFromInt(300), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 3 {
		t.Fatalf("offers = %d, want 3 after shrinking", len(offers))
	}

	// Below a single minimum → no offers, no error.
	offers, err = s.GenerateOffers(decimal.NewFromInt(99), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("offers = %d, want 0 for a balance below one minimum", len(offers))
	}
}

// ── AdaptiveLadder ────────────────────────────────────────────────────────────

type stubHistory struct {
	rates []decimal.Decimal
	err   error
}

func (s stubHistory) RecentBidRates(int, time.Duration) ([]decimal.Decimal, error) {
	return s.rates, s.err
}

func TestAdaptiveLadderUsesHistoricalBase(t *testing.T) {
	history := stubHistory{rates: []decimal.Decimal{
		decimal.NewFromFloat(0.08),
		decimal.NewFromFloat(0.09),
		decimal.NewFromFloat(0.10),
	}}
	s, err := strategy.New(strategy.KindAdaptiveLadder, testConfig(), history)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Best bid 0.06 is below the 0.09 historical average; the ladder must
	// start from the average, not chase the momentarily depressed bid.
	snap := snapshotWithBids(bid(0.06, 10000, 2))
	offers, err := s.GenerateOffers(decimal.NewFromInt(1000), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) == 0 {
		t.Fatal("expected offers")
	}
	if offers[0].Rate.LessThan(decimal.NewFromFloat(0.09)) {
		t.Errorf("first rung rate = %s, want >= historical average 0.09", offers[0].Rate)
	}
}

func TestAdaptiveLadderNoHistoryData(t *testing.T) {
	s, err := strategy.New(strategy.KindAdaptiveLadder, testConfig(), stubHistory{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.GenerateOffers(decimal.NewFromInt(1000), snapshotWithBids(bid(0.06, 10000, 2)))
	if !errors.Is(err, domain.ErrMarketDataUnavailable) {
		t.Errorf("no history: err = %v, want ErrMarketDataUnavailable", err)
	}
}

// ── SpreadFiller ──────────────────────────────────────────────────────────────

func TestSpreadFillerPositionsInsideSpread(t *testing.T) {
	s, err := strategy.New(strategy.KindSpreadFiller, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ask := domain.BookEntry{
		Rate:   decimal.NewFromFloat(0.07),
		Volume: decimal.NewFromInt(5000),
		Period: 2,
		Side:   domain.SideOffer,
	}
	snap := snapshotWithBids(bid(0.06, 10000, 2))
	snap.Book = append(snap.Book, ask)

	offers, err := s.GenerateOffers(decimal.NewFromInt(1000), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	// Midpoint of 0.06/0.07 with ratio 0.5.
	if !offers[0].Rate.Equal(decimal.NewFromFloat(0.065)) {
		t.Errorf("rate = %s, want 0.065", offers[0].Rate)
	}
	if !offers[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("amount = %s, want the full balance", offers[0].Amount)
	}
}

func TestSpreadFillerNarrowSpreadSitsAtBid(t *testing.T) {
	s, err := strategy.New(strategy.KindSpreadFiller, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ask := domain.BookEntry{
		Rate:   decimal.NewFromFloat(0.06005),
		Volume: decimal.NewFromInt(5000),
		Period: 2,
		Side:   domain.SideOffer,
	}
	snap := snapshotWithBids(bid(0.06, 10000, 2))
	snap.Book = append(snap.Book, ask)

	offers, err := s.GenerateOffers(decimal.NewFromInt(1000), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	if !offers[0].Rate.Equal(decimal.NewFromFloat(0.06)) {
		t.Errorf("rate = %s, want the best bid when the spread is below threshold", offers[0].Rate)
	}
}

// ── MarketTaker ───────────────────────────────────────────────────────────────

func TestMarketTakerOffersAtBestBid(t *testing.T) {
	s, err := strategy.New(strategy.KindMarketTaker, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := snapshotWithBids(bid(0.055, 10000, 2))

	offers, err := s.GenerateOffers(decimal.NewFromInt(2000), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	if !offers[0].Rate.Equal(decimal.NewFromFloat(0.055)) {
		t.Errorf("rate = %s, want the best bid", offers[0].Rate)
	}
	if !offers[0].Amount.Equal(decimal.NewFromFloat(1990)) {
		t.Errorf("amount = %s, want 2000 × 0.995 = 1990", offers[0].Amount)
	}

	// Deployable share below the minimum → stand aside.
	offers, err = s.GenerateOffers(decimal.NewFromInt(100), snap)
	if err != nil {
		t.Fatalf("GenerateOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("offers = %d, want 0 when the deployable amount misses the minimum", len(offers))
	}
}
