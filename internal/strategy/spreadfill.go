package strategy

import (
	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// SpreadFiller — one order inside the bid/ask spread
// ──────────────────────────────────────────────────────────────────────────────

// SpreadFiller places the entire balance as a single offer positioned inside
// the bid/ask spread. When the spread is narrower than the configured
// threshold there is nothing to capture and the offer sits at the best bid.
type SpreadFiller struct {
	base
	ratio        decimal.Decimal // position inside the spread, 0 = at bid, 1 = at ask
	minThreshold decimal.Decimal
}

func (s *SpreadFiller) Name() string { return string(KindSpreadFiller) }

func (s *SpreadFiller) GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error) {
	quote, ok := snapshot.QuoteByPeriod()[s.period]
	if !ok || quote.Bid == nil || quote.Ask == nil {
		return nil, domain.ErrMarketDataUnavailable
	}
	bid, ask := *quote.Bid, *quote.Ask
	if !bid.IsPositive() || !ask.IsPositive() {
		return nil, domain.ErrMarketDataUnavailable
	}

	if !s.ValidateOrderAmount(availableBalance) {
		return nil, nil
	}

	rate := bid
	if spread := ask.Sub(bid); spread.GreaterThanOrEqual(s.minThreshold) {
		rate = bid.Add(spread.Mul(s.ratio))
	}

	return []domain.Offer{{
		Rate:   rate,
		Amount: availableBalance,
		Period: s.period,
	}}, nil
}
