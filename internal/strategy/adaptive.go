package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// AdaptiveLadder — ladder spread scaled by recent rate volatility
// ──────────────────────────────────────────────────────────────────────────────

// AdaptiveLadder is a ladder whose rung spacing follows the market: the spread
// between slices is the standard deviation of recent bid rates scaled by a
// configured multiplier, and the ladder starts at whichever is higher, the
// current best bid or the recent average.
type AdaptiveLadder struct {
	base
	count    int
	volMult  decimal.Decimal
	lookback time.Duration
	history  RateHistory
}

func (a *AdaptiveLadder) Name() string { return string(KindAdaptiveLadder) }

func (a *AdaptiveLadder) GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error) {
	bestBid, ok := snapshot.BestBid(a.period)
	if !ok || !bestBid.IsPositive() {
		return nil, domain.ErrMarketDataUnavailable
	}

	rates, err := a.history.RecentBidRates(a.period, a.lookback)
	if err != nil {
		return nil, fmt.Errorf("strategy.AdaptiveLadder: rate history: %w", err)
	}
	if len(rates) == 0 {
		return nil, domain.ErrMarketDataUnavailable
	}

	avg, stdDev := rateStats(rates)
	startRate := decimal.Max(bestBid, avg)
	spread := stdDev.Mul(a.volMult)

	return ladderOffers(availableBalance, startRate, spread, a.count, a.minOrder, a.period), nil
}

// rateStats returns the mean and sample standard deviation of rates.
// Volatility is a statistical measure, not a money amount, so the deviation is
// computed in float64 and converted back.
func rateStats(rates []decimal.Decimal) (avg, stdDev decimal.Decimal) {
	sum := decimal.Zero
	for _, r := range rates {
		sum = sum.Add(r)
	}
	n := decimal.NewFromInt(int64(len(rates)))
	avg = sum.Div(n)

	if len(rates) < 2 {
		return avg, decimal.Zero
	}
	mean := avg.InexactFloat64()
	var sqSum float64
	for _, r := range rates {
		d := r.InexactFloat64() - mean
		sqSum += d * d
	}
	return avg, decimal.NewFromFloat(math.Sqrt(sqSum / float64(len(rates)-1)))
}
