package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// PositionStatus represents the lifecycle state of a lending position.
type PositionStatus string

const (
	PositionActive  PositionStatus = "ACTIVE"  // funds deployed, accruing interest
	PositionClosing PositionStatus = "CLOSING" // return in flight
	PositionClosed  PositionStatus = "CLOSED"  // funds returned, actual return known
)

// OrderStatus represents the venue-side lifecycle of the lending offer that
// opened a position.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderActive          OrderStatus = "ACTIVE"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderExecuted        OrderStatus = "EXECUTED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal returns true once the order can no longer change on the venue.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderExecuted || s == OrderCancelled || s == OrderExpired
}

// OrderStatusFromVenue maps the venue's status string onto the internal enum.
// Unknown strings map to PENDING.
func OrderStatusFromVenue(s string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return OrderActive
	case "EXECUTED":
		return OrderExecuted
	case "PARTIALLY FILLED", "PARTIALLY_FILLED":
		return OrderPartiallyFilled
	case "CANCELED", "CANCELLED":
		return OrderCancelled
	case "EXPIRED":
		return OrderExpired
	default:
		return OrderPending
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is one lending order and the funds it deploys. Created on order
// submission, updated by the order sync, read by the daily settlement.
type Position struct {
	ID             uuid.UUID        `json:"id"              db:"id"`
	VenueOrderID   int64            `json:"venue_order_id"  db:"venue_order_id"`
	Currency       string           `json:"currency"        db:"currency"`
	Amount         decimal.Decimal  `json:"amount"          db:"amount"`
	Rate           decimal.Decimal  `json:"rate"            db:"rate"`
	Period         int              `json:"period"          db:"period"`
	Status         PositionStatus   `json:"status"          db:"status"`
	OrderStatus    OrderStatus      `json:"order_status"    db:"order_status"`
	StrategyName   string           `json:"strategy_name"   db:"strategy_name"`
	ExpectedReturn decimal.Decimal  `json:"expected_return" db:"expected_return"`
	ActualReturn   *decimal.Decimal `json:"actual_return"   db:"actual_return"`
	ExecutedAmount *decimal.Decimal `json:"executed_amount" db:"executed_amount"`
	ExecutedRate   *decimal.Decimal `json:"executed_rate"   db:"executed_rate"`
	OpenedAt       time.Time        `json:"opened_at"       db:"opened_at"`
	CompletedAt    *time.Time       `json:"completed_at"    db:"completed_at"`
	CreatedAt      time.Time        `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"      db:"updated_at"`
}

// IsActive returns true while the position's funds are deployed.
func (p *Position) IsActive() bool {
	return p.Status == PositionActive
}

// MarkExecuted records a confirmed venue execution.
func (p *Position) MarkExecuted(amount, rate decimal.Decimal, at time.Time) {
	p.OrderStatus = OrderExecuted
	p.ExecutedAmount = &amount
	p.ExecutedRate = &rate
	p.CompletedAt = &at
}

// AssumeExecuted applies the documented reconciliation heuristic: an order
// that has vanished from the venue's live offer list, and is not already in a
// terminal state, is treated as executed. The venue exposes no per-order
// history endpoint, so "gone" is ambiguous between executed, cancelled and
// expired; a later interest payment for the order confirms the assumption.
// This is a heuristic, not ground truth — competitiveness metrics downstream
// should treat assumed executions with that caveat.
func (p *Position) AssumeExecuted(at time.Time) bool {
	if p.OrderStatus.IsTerminal() {
		return false
	}
	p.OrderStatus = OrderExecuted
	p.CompletedAt = &at
	return true
}

// DailyInterest returns the expected interest for one day at the position's
// annual rate, based on the executed amount and rate when known.
func (p *Position) DailyInterest() decimal.Decimal {
	amount := p.Amount
	if p.ExecutedAmount != nil {
		amount = *p.ExecutedAmount
	}
	rate := p.Rate
	if p.ExecutedRate != nil {
		rate = *p.ExecutedRate
	}
	return amount.Mul(rate).Div(daysPerYear)
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerEntry
// ──────────────────────────────────────────────────────────────────────────────

// LedgerEntry is one raw interest-payment record, either fetched from the
// venue ledger or stored locally as the settlement fallback source.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"             db:"id"`
	VenueID      int64           `json:"venue_id"       db:"venue_id"`
	VenueOrderID *int64          `json:"venue_order_id" db:"venue_order_id"`
	Currency     string          `json:"currency"       db:"currency"`
	Amount       decimal.Decimal `json:"amount"         db:"amount"`
	Description  string          `json:"description"    db:"description"`
	ReceivedAt   time.Time       `json:"received_at"    db:"received_at"`
	CreatedAt    time.Time       `json:"created_at"     db:"created_at"`
}
