package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerRepository stores funding payment entries pulled from the venue
// ledger. Settlement reads interest from here when position-level returns are
// incomplete.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Insert stores a ledger entry. Entries are keyed by the venue's ledger id,
// so re-importing an overlapping window is a no-op for rows already seen.
func (r *LedgerRepository) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
			(id, venue_id, venue_order_id, currency, amount, description, received_at, created_at)
		VALUES
			(:id, :venue_id, :venue_order_id, :currency, :amount, :description, :received_at, :created_at)
		ON CONFLICT (venue_id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("ledger_repo.Insert: %w", err)
	}
	return nil
}

// SumInterestForDate totals all funding payments received during the given
// calendar day.
func (r *LedgerRepository) SumInterestForDate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE currency = $1 AND received_at >= $2 AND received_at < $3`,
		currency, dayStart, dayEnd)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_repo.SumInterestForDate: %w", err)
	}
	return total, nil
}

// HasPaymentForOrder reports whether an interest payment referencing the
// given venue order has arrived. The sync job uses this to confirm positions
// that vanished from the open-offer list.
func (r *LedgerRepository) HasPaymentForOrder(ctx context.Context, venueOrderID int64) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM ledger_entries WHERE venue_order_id = $1`, venueOrderID)
	if err != nil {
		return false, fmt.Errorf("ledger_repo.HasPaymentForOrder: %w", err)
	}
	return count > 0, nil
}
