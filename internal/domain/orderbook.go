// Package domain defines the core business entities and types for the
// funding allocation and daily settlement system.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// BookSide distinguishes borrower bids from lender offers in the funding book.
type BookSide string

const (
	SideBid   BookSide = "bid"   // borrower demand: rate they will pay
	SideOffer BookSide = "offer" // lender supply: rate they ask
)

// BookEntry is a single normalized funding-book level.
// Volume is always positive; the side carries the direction.
type BookEntry struct {
	Rate   decimal.Decimal `json:"rate"`
	Volume decimal.Decimal `json:"volume"`
	Period int             `json:"period"` // days
	Side   BookSide        `json:"side"`
}

// TopRates is the summary view of the top of the funding book.
type TopRates struct {
	TopRate decimal.Decimal `json:"top_rate"` // best bid
	AvgRate decimal.Decimal `json:"avg_rate"` // average of the top bids
}

// PeriodQuote holds the best bid and best ask for one lending period.
// A nil pointer means no entry exists on that side of the book.
type PeriodQuote struct {
	Bid *decimal.Decimal
	Ask *decimal.Decimal
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketSnapshot
// ──────────────────────────────────────────────────────────────────────────────

// MarketSnapshot is one cycle's view of the funding market: the raw book plus
// the top-of-book rate summary. It is consumed by strategies and never persisted.
type MarketSnapshot struct {
	Currency  string      `json:"currency"`
	Book      []BookEntry `json:"book"`
	Top       TopRates    `json:"top"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Bids returns only the bid-side entries, preserving book order.
func (s *MarketSnapshot) Bids() []BookEntry {
	var bids []BookEntry
	for _, e := range s.Book {
		if e.Side == SideBid {
			bids = append(bids, e)
		}
	}
	return bids
}

// QuoteByPeriod folds the book into per-period best bid / best ask quotes.
// The best bid is the highest bid rate for the period; the best ask is the
// lowest offer rate. Entries with zero volume are skipped.
func (s *MarketSnapshot) QuoteByPeriod() map[int]PeriodQuote {
	quotes := make(map[int]PeriodQuote)
	for _, e := range s.Book {
		if e.Volume.IsZero() {
			continue
		}
		q := quotes[e.Period]
		switch e.Side {
		case SideBid:
			if q.Bid == nil || e.Rate.GreaterThan(*q.Bid) {
				r := e.Rate
				q.Bid = &r
			}
		case SideOffer:
			if q.Ask == nil || e.Rate.LessThan(*q.Ask) {
				r := e.Rate
				q.Ask = &r
			}
		}
		quotes[e.Period] = q
	}
	return quotes
}

// BestBid returns the best bid rate for the given period and whether one exists.
func (s *MarketSnapshot) BestBid(period int) (decimal.Decimal, bool) {
	q, ok := s.QuoteByPeriod()[period]
	if !ok || q.Bid == nil {
		return decimal.Zero, false
	}
	return *q.Bid, true
}
