package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scoring constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	// maxBookDepth caps how many book levels are scored per cycle.
	maxBookDepth = 20

	// Composite score weights: rate 40%, depth 30%, book position 20%,
	// fixed risk component 10%.
	weightRate     = 0.4
	weightVolume   = 0.3
	weightPosition = 0.2
	weightRisk     = 0.1

	// riskComponent is the fixed risk contribution to the composite score.
	riskComponent = 0.8

	// marketActivity is the assumed activity factor in the fill estimate.
	marketActivity = 0.8

	// Fill probability is clamped to [minFillProbability, maxFillProbability],
	// which bounds the derived risk score to [0.05, 0.9].
	minFillProbability = 0.10
	maxFillProbability = 0.95
)

// volumeScoreScale and fillVolumeScale normalize book volume into [0, 1].
var (
	volumeScoreScale = decimal.NewFromInt(10000)
	fillVolumeScale  = decimal.NewFromInt(5000)
)

// ──────────────────────────────────────────────────────────────────────────────
// Opportunity
// ──────────────────────────────────────────────────────────────────────────────

// Opportunity is one scored lending opportunity derived from a funding-book
// level. Recomputed every cycle; never persisted.
type Opportunity struct {
	Rate           decimal.Decimal `json:"rate"`
	Volume         decimal.Decimal `json:"volume"`
	BookPosition   int             `json:"book_position"`
	Score          float64         `json:"score"`
	FillProbability float64        `json:"fill_probability"` // always in [0.10, 0.95]
	ExpectedReturn decimal.Decimal `json:"expected_return"`  // rate × fill probability
	RiskScore      float64         `json:"risk_score"`       // 1 - fill probability
}

// AnalyzeBook scores and ranks bid-side book entries into lending
// opportunities. Only the first maxBookDepth entries are considered; entries
// with a non-positive rate or volume are skipped. The result is sorted by
// expected return, best first. Pure function: no side effects, empty input
// yields an empty result.
func AnalyzeBook(bids []BookEntry, avgRate, baseRate decimal.Decimal) []Opportunity {
	if len(bids) > maxBookDepth {
		bids = bids[:maxBookDepth]
	}

	opportunities := make([]Opportunity, 0, len(bids))
	for i, bid := range bids {
		if !bid.Rate.IsPositive() || !bid.Volume.IsPositive() {
			continue
		}

		fill := FillProbability(bid.Rate, bid.Volume, avgRate)
		opportunities = append(opportunities, Opportunity{
			Rate:            bid.Rate,
			Volume:          bid.Volume,
			BookPosition:    i,
			Score:           OpportunityScore(bid.Rate, bid.Volume, i, baseRate),
			FillProbability: fill,
			ExpectedReturn:  bid.Rate.Mul(decimal.NewFromFloat(fill)),
			RiskScore:       1 - fill,
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].ExpectedReturn.GreaterThan(opportunities[j].ExpectedReturn)
	})
	return opportunities
}

// OpportunityScore computes the composite quality score of a book level.
//
//	rateScore     = min(rate / baseRate, 1.5)
//	volumeScore   = min(volume / 10000, 1.0)
//	positionScore = max(0, 1 - position/20)
//	score         = 0.4·rateScore + 0.3·volumeScore + 0.2·positionScore + 0.1·0.8
//
// A zero baseRate contributes a zero rate score rather than dividing by zero.
func OpportunityScore(rate, volume decimal.Decimal, position int, baseRate decimal.Decimal) float64 {
	var rateScore float64
	if baseRate.IsPositive() {
		rateScore = rate.Div(baseRate).InexactFloat64()
		if rateScore > 1.5 {
			rateScore = 1.5
		}
	}

	volumeScore := volume.Div(volumeScoreScale).InexactFloat64()
	if volumeScore > 1.0 {
		volumeScore = 1.0
	}

	positionScore := 1 - float64(position)/float64(maxBookDepth)
	if positionScore < 0 {
		positionScore = 0
	}

	return rateScore*weightRate +
		volumeScore*weightVolume +
		positionScore*weightPosition +
		riskComponent*weightRisk
}

// FillProbability estimates how likely an offer at the given rate fills.
//
//	rateFactor   = max(0.1, 1 - 2·|rate-avgRate|/avgRate)
//	volumeFactor = min(1.0, volume/5000)
//	p            = clamp(0.5·rateFactor + 0.3·volumeFactor + 0.2·0.8, 0.10, 0.95)
//
// When avgRate is zero there is nothing to score against and the floor
// probability 0.10 is returned.
func FillProbability(rate, volume, avgRate decimal.Decimal) float64 {
	if !avgRate.IsPositive() {
		return minFillProbability
	}

	rateDiff := rate.Sub(avgRate).Abs().Div(avgRate).InexactFloat64()
	rateFactor := 1 - rateDiff*2
	if rateFactor < 0.1 {
		rateFactor = 0.1
	}

	volumeFactor := volume.Div(fillVolumeScale).InexactFloat64()
	if volumeFactor > 1.0 {
		volumeFactor = 1.0
	}

	p := rateFactor*0.5 + volumeFactor*0.3 + marketActivity*0.2
	return clampFloat(p, minFillProbability, maxFillProbability)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
