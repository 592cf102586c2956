package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// MarketLogRepository records one row per allocation cycle with the best
// bid/ask observed per period. The adaptive ladder reads its rate history
// from here.
type MarketLogRepository struct {
	db *sqlx.DB
}

// NewMarketLogRepository creates a new MarketLogRepository.
func NewMarketLogRepository(db *sqlx.DB) *MarketLogRepository {
	return &MarketLogRepository{db: db}
}

// MarketLogRow is the stored shape of one observation.
type MarketLogRow struct {
	ID         int64            `db:"id"`
	Currency   string           `db:"currency"`
	Period     int              `db:"period"`
	BestBid    *decimal.Decimal `db:"best_bid"`
	BestAsk    *decimal.Decimal `db:"best_ask"`
	AvgRate    decimal.Decimal  `db:"avg_rate"`
	ObservedAt time.Time        `db:"observed_at"`
}

// Insert stores one observation.
func (r *MarketLogRepository) Insert(ctx context.Context, row *MarketLogRow) error {
	query := `
		INSERT INTO market_log (currency, period, best_bid, best_ask, avg_rate, observed_at)
		VALUES (:currency, :period, :best_bid, :best_ask, :avg_rate, :observed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("marketlog_repo.Insert: %w", err)
	}
	return nil
}

// RecentBidRates returns the best-bid rates observed for a period within the
// lookback window, oldest first. Satisfies strategy.RateHistory.
func (r *MarketLogRepository) RecentBidRates(period int, lookback time.Duration) ([]decimal.Decimal, error) {
	since := time.Now().UTC().Add(-lookback)

	var rates []decimal.Decimal
	err := r.db.Select(&rates,
		`SELECT best_bid FROM market_log
		 WHERE period = $1 AND best_bid IS NOT NULL AND observed_at >= $2
		 ORDER BY observed_at ASC`,
		period, since)
	if err != nil {
		return nil, fmt.Errorf("marketlog_repo.RecentBidRates: %w", err)
	}
	return rates, nil
}
