package strategy

import (
	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketTaker — lend almost everything at the going rate
// ──────────────────────────────────────────────────────────────────────────────

// MarketTaker prioritises fill speed over rate: it offers nearly the whole
// balance directly at the best bid so it matches the demand already on the
// book. A small fraction is held back to absorb fee rounding.
type MarketTaker struct {
	base
	percentage decimal.Decimal // share of the balance to deploy
}

func (m *MarketTaker) Name() string { return string(KindMarketTaker) }

func (m *MarketTaker) GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error) {
	bestBid, ok := snapshot.BestBid(m.period)
	if !ok || !bestBid.IsPositive() {
		return nil, domain.ErrMarketDataUnavailable
	}

	amount := availableBalance.Mul(m.percentage)
	if !m.ValidateOrderAmount(amount) {
		return nil, nil
	}

	return []domain.Offer{{
		Rate:   bestBid,
		Amount: amount,
		Period: m.period,
	}}, nil
}
