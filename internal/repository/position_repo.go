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

// PositionRepository handles all database operations for funding positions.
// This table is the legacy system of record; the dual-write manager treats a
// failed write here as a hard failure.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new position.
func (r *PositionRepository) Create(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, venue_order_id, currency, amount, rate, period, status, order_status,
			 strategy_name, expected_return, opened_at, created_at, updated_at)
		VALUES
			(:id, :venue_order_id, :currency, :amount, :rate, :period, :status, :order_status,
			 :strategy_name, :expected_return, :opened_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("position_repo.Create: %w", err)
	}
	return nil
}

// GetByVenueOrderID fetches a position by the venue's order identifier.
func (r *PositionRepository) GetByVenueOrderID(ctx context.Context, venueOrderID int64) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE venue_order_id = $1`, venueOrderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetByVenueOrderID: %w", err)
	}
	return &p, nil
}

// GetOpen returns every position whose order is not yet terminal, oldest
// first. The sync job reconciles these against the venue.
func (r *PositionRepository) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions
		 WHERE order_status NOT IN ('EXECUTED', 'CANCELLED', 'EXPIRED')
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetOpen: %w", err)
	}
	return positions, nil
}

// GetActive returns every position currently deployed and accruing interest.
// The dual-write coordinator aggregates these into the legacy account view.
func (r *PositionRepository) GetActive(ctx context.Context, currency string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions
		 WHERE currency = $1 AND status = 'ACTIVE' AND order_status = 'EXECUTED'
		 ORDER BY opened_at ASC`,
		currency)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetActive: %w", err)
	}
	return positions, nil
}

// GetExecutedOnDate returns positions that were earning during the given
// calendar day: executed before the day ended and not completed before it
// began.
func (r *PositionRepository) GetExecutedOnDate(ctx context.Context, date time.Time) ([]*domain.Position, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions,
		`SELECT * FROM positions
		 WHERE order_status = 'EXECUTED'
		   AND opened_at < $2
		   AND (completed_at IS NULL OR completed_at >= $1)
		 ORDER BY opened_at ASC`,
		dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("position_repo.GetExecutedOnDate: %w", err)
	}
	return positions, nil
}

// Update persists status, order status and execution fields of a position.
func (r *PositionRepository) Update(ctx context.Context, p *domain.Position) error {
	query := `
		UPDATE positions SET
			status = :status,
			order_status = :order_status,
			actual_return = :actual_return,
			executed_amount = :executed_amount,
			executed_rate = :executed_rate,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return fmt.Errorf("position_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// CountOrdersOnDate returns how many orders were placed on the given day and
// how many of those ended up executed. Used for the settlement success rate.
func (r *PositionRepository) CountOrdersOnDate(ctx context.Context, date time.Time) (total, executed int, err error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	row := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE order_status = 'EXECUTED')
		 FROM positions
		 WHERE opened_at >= $1 AND opened_at < $2`,
		dayStart, dayEnd)
	if err = row.Scan(&total, &executed); err != nil {
		return 0, 0, fmt.Errorf("position_repo.CountOrdersOnDate: %w", err)
	}
	return total, executed, nil
}
