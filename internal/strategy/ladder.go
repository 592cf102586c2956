package strategy

import (
	"github.com/evetabi/lending/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ladder — equal slices stepped above the best bid
// ──────────────────────────────────────────────────────────────────────────────

// Ladder splits the balance into equal slices and places each slice one rate
// step above the last, starting at the current best bid. When the balance is
// too small for the configured slice count, the count shrinks until every
// slice clears the minimum order amount.
type Ladder struct {
	base
	count  int
	spread decimal.Decimal // rate step between rungs
}

func (l *Ladder) Name() string { return string(KindLadder) }

func (l *Ladder) GenerateOffers(availableBalance decimal.Decimal, snapshot *domain.MarketSnapshot) ([]domain.Offer, error) {
	bestBid, ok := snapshot.BestBid(l.period)
	if !ok || !bestBid.IsPositive() {
		return nil, domain.ErrMarketDataUnavailable
	}
	return ladderOffers(availableBalance, bestBid, l.spread, l.count, l.minOrder, l.period), nil
}

// ladderOffers is shared with the adaptive ladder. It returns nil when even a
// single slice cannot meet the minimum.
func ladderOffers(balance, startRate, spread decimal.Decimal, count int, minOrder decimal.Decimal, period int) []domain.Offer {
	if count <= 0 || !balance.IsPositive() {
		return nil
	}
	sliceAmount := balance.Div(decimal.NewFromInt(int64(count)))
	if sliceAmount.LessThan(minOrder) {
		count = int(balance.Div(minOrder).IntPart())
		if count == 0 {
			return nil
		}
		sliceAmount = balance.Div(decimal.NewFromInt(int64(count)))
	}

	offers := make([]domain.Offer, 0, count)
	for i := 0; i < count; i++ {
		rate := startRate.Add(spread.Mul(decimal.NewFromInt(int64(i))))
		offers = append(offers, domain.Offer{
			Rate:   rate,
			Amount: sliceAmount,
			Period: period,
		})
	}
	return offers
}
