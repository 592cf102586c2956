package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Allocation cycle errors
var (
	// ErrInsufficientBalance is returned when the available balance is below
	// the minimum order amount. The cycle is skipped; not fatal.
	ErrInsufficientBalance = errors.New("available balance is below the minimum order amount")

	// ErrInvalidOrder is returned when a computed offer fails validation
	// (amount, rate or period out of range). Only the offending offer is
	// dropped; the cycle continues.
	ErrInvalidOrder = errors.New("offer failed validation")

	// ErrMarketDataUnavailable is returned when the funding book or rate
	// summary cannot be fetched. The cycle is skipped and retried on the
	// next tick.
	ErrMarketDataUnavailable = errors.New("market data unavailable")

	// ErrNoOpportunities is returned by the planner when the analyzer found
	// nothing allocatable; callers fall back to the even-split plan.
	ErrNoOpportunities = errors.New("no allocatable opportunities")
)

// Settlement errors
var (
	// ErrDataCollection is returned when any of the four settlement inputs
	// (exchange interest, wallet balances, market rates, positions) cannot be
	// gathered. Recoverable: retry on the next invocation.
	ErrDataCollection = errors.New("settlement data collection failed")

	// ErrSettlementNotFailed is returned when a retry is requested for a
	// settlement that is not currently in the FAILED state.
	ErrSettlementNotFailed = errors.New("settlement is not in FAILED state")

	// ErrEarningsNotFound is returned when no daily-earnings row exists for
	// the requested (date, currency).
	ErrEarningsNotFound = errors.New("daily earnings record not found")
)

// Store errors
var (
	// ErrPositionNotFound is returned when no position matches the given key.
	ErrPositionNotFound = errors.New("position not found")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating to HTTP 404 responses.
func IsNotFound(err error) bool {
	notFound := []error{
		ErrEarningsNotFound,
		ErrPositionNotFound,
	}
	for _, target := range notFound {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRecoverable returns true for errors that the scheduler should absorb and
// retry on the next tick rather than escalate.
func IsRecoverable(err error) bool {
	recoverable := []error{
		ErrInsufficientBalance,
		ErrMarketDataUnavailable,
		ErrDataCollection,
	}
	for _, target := range recoverable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
