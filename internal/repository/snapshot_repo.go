package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SnapshotRepository is the new-system store the dual-write manager migrates
// reads toward: a denormalized account snapshot appended after each
// allocation cycle.
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type snapshotRow struct {
	ID              int64           `db:"id"`
	Currency        string          `db:"currency"`
	TotalBalance    decimal.Decimal `db:"total_balance"`
	MoneyWorking    decimal.Decimal `db:"money_working"`
	MoneyIdle       decimal.Decimal `db:"money_idle"`
	UtilizationRate decimal.Decimal `db:"utilization_rate"`
	DailyEarnings   decimal.Decimal `db:"daily_earnings"`
	AnnualRate      decimal.Decimal `db:"annual_rate"`
	ActiveOrders    int             `db:"active_orders"`
	AvgLendingRate  decimal.Decimal `db:"avg_lending_rate"`
	CreatedAt       time.Time       `db:"created_at"`
}

// Insert appends an account snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, currency string, s *domain.AccountStatus) error {
	row := snapshotRow{
		Currency:        currency,
		TotalBalance:    s.TotalBalance,
		MoneyWorking:    s.MoneyWorking,
		MoneyIdle:       s.MoneyIdle,
		UtilizationRate: s.UtilizationRate,
		DailyEarnings:   s.DailyEarnings,
		AnnualRate:      s.AnnualRate,
		ActiveOrders:    s.ActiveOrders,
		AvgLendingRate:  s.AvgLendingRate,
		CreatedAt:       s.LastUpdated,
	}
	query := `
		INSERT INTO account_snapshots
			(currency, total_balance, money_working, money_idle, utilization_rate,
			 daily_earnings, annual_rate, active_orders, avg_lending_rate, created_at)
		VALUES
			(:currency, :total_balance, :money_working, :money_idle, :utilization_rate,
			 :daily_earnings, :annual_rate, :active_orders, :avg_lending_rate, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("snapshot_repo.Insert: %w", err)
	}
	return nil
}

// Latest fetches the most recent snapshot for a currency.
func (r *SnapshotRepository) Latest(ctx context.Context, currency string) (*domain.AccountStatus, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM account_snapshots WHERE currency = $1 ORDER BY created_at DESC LIMIT 1`,
		currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEarningsNotFound
		}
		return nil, fmt.Errorf("snapshot_repo.Latest: %w", err)
	}
	return &domain.AccountStatus{
		TotalBalance:    row.TotalBalance,
		MoneyWorking:    row.MoneyWorking,
		MoneyIdle:       row.MoneyIdle,
		UtilizationRate: row.UtilizationRate,
		DailyEarnings:   row.DailyEarnings,
		AnnualRate:      row.AnnualRate,
		ActiveOrders:    row.ActiveOrders,
		AvgLendingRate:  row.AvgLendingRate,
		LastUpdated:     row.CreatedAt,
		Source:          "snapshot",
	}, nil
}
