package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/jmoiron/sqlx"
)

// EarningsRepository stores the daily settlement records.
type EarningsRepository struct {
	db *sqlx.DB
}

// NewEarningsRepository creates a new EarningsRepository.
func NewEarningsRepository(db *sqlx.DB) *EarningsRepository {
	return &EarningsRepository{db: db}
}

// Upsert writes the settlement record for a (date, currency) pair. Re-running
// a settlement overwrites the previous figures, which keeps the job
// idempotent.
func (r *EarningsRepository) Upsert(ctx context.Context, e *domain.DailyEarnings) error {
	query := `
		INSERT INTO daily_earnings
			(date, currency, total_interest, deployed_amount, available_amount,
			 weighted_avg_rate, utilization_rate, daily_return_rate, annualized_return,
			 primary_strategy, total_orders, success_rate, market_avg_rate,
			 market_competitiveness, settlement_status, settled_at, created_at)
		VALUES
			(:date, :currency, :total_interest, :deployed_amount, :available_amount,
			 :weighted_avg_rate, :utilization_rate, :daily_return_rate, :annualized_return,
			 :primary_strategy, :total_orders, :success_rate, :market_avg_rate,
			 :market_competitiveness, :settlement_status, :settled_at, :created_at)
		ON CONFLICT (date, currency) DO UPDATE SET
			total_interest         = EXCLUDED.total_interest,
			deployed_amount        = EXCLUDED.deployed_amount,
			available_amount       = EXCLUDED.available_amount,
			weighted_avg_rate      = EXCLUDED.weighted_avg_rate,
			utilization_rate       = EXCLUDED.utilization_rate,
			daily_return_rate      = EXCLUDED.daily_return_rate,
			annualized_return      = EXCLUDED.annualized_return,
			primary_strategy       = EXCLUDED.primary_strategy,
			total_orders           = EXCLUDED.total_orders,
			success_rate           = EXCLUDED.success_rate,
			market_avg_rate        = EXCLUDED.market_avg_rate,
			market_competitiveness = EXCLUDED.market_competitiveness,
			settlement_status      = EXCLUDED.settlement_status,
			settled_at             = EXCLUDED.settled_at`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("earnings_repo.Upsert: %w", err)
	}
	return nil
}

// GetByDate fetches the settlement record for one day.
func (r *EarningsRepository) GetByDate(ctx context.Context, currency string, date time.Time) (*domain.DailyEarnings, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var e domain.DailyEarnings
	err := r.db.GetContext(ctx, &e,
		`SELECT * FROM daily_earnings WHERE currency = $1 AND date = $2`, currency, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEarningsNotFound
		}
		return nil, fmt.Errorf("earnings_repo.GetByDate: %w", err)
	}
	return &e, nil
}

// UpdateSettlementStatus moves a day's record through the settlement state
// machine without touching the figures.
func (r *EarningsRepository) UpdateSettlementStatus(ctx context.Context, currency string, date time.Time, status domain.SettlementStatus) error {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	res, err := r.db.ExecContext(ctx,
		`UPDATE daily_earnings SET settlement_status = $3 WHERE currency = $1 AND date = $2`,
		currency, day, status)
	if err != nil {
		return fmt.Errorf("earnings_repo.UpdateSettlementStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEarningsNotFound
	}
	return nil
}

// ListRange returns settlement records between two dates inclusive, newest
// first.
func (r *EarningsRepository) ListRange(ctx context.Context, currency string, from, to time.Time) ([]*domain.DailyEarnings, error) {
	var list []*domain.DailyEarnings
	err := r.db.SelectContext(ctx, &list,
		`SELECT * FROM daily_earnings
		 WHERE currency = $1 AND date >= $2 AND date <= $3
		 ORDER BY date DESC`,
		currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("earnings_repo.ListRange: %w", err)
	}
	return list, nil
}
