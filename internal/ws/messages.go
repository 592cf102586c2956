// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to operator dashboards.
package ws

import (
	"time"

	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeCycleReport    MsgType = "cycle_report"
	MsgTypeSettlementDone MsgType = "settlement_done"
	MsgTypeError          MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// CycleReportMessage — sent after every allocation cycle.
// ──────────────────────────────────────────────────────────────────────────────

// CycleReportMessage summarizes what one allocation cycle did with the book.
type CycleReportMessage struct {
	Type             MsgType         `json:"type"`
	Strategy         string          `json:"strategy"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	CancelledOffers  int             `json:"cancelled_offers"`
	SubmittedOffers  int             `json:"submitted_offers"`
	DroppedOffers    int             `json:"dropped_offers"`
	TotalAllocated   decimal.Decimal `json:"total_allocated"`
	Skipped          bool            `json:"skipped"`
	SkipReason       string          `json:"skip_reason,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementDoneMessage — sent after the daily settlement completes.
// ──────────────────────────────────────────────────────────────────────────────

// SettlementDoneMessage carries the headline figures of a settled day.
type SettlementDoneMessage struct {
	Type             MsgType         `json:"type"`
	Date             string          `json:"date"` // YYYY-MM-DD
	Currency         string          `json:"currency"`
	TotalInterest    decimal.Decimal `json:"total_interest"`
	UtilizationRate  decimal.Decimal `json:"utilization_rate"`  // percent
	AnnualizedReturn decimal.Decimal `json:"annualized_return"` // percent
	Warnings         []string        `json:"warnings,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// ErrorMessage is sent to a single client on a protocol error.
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
