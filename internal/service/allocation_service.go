package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/evetabi/lending/internal/repository"
	"github.com/evetabi/lending/internal/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// AllocationVenue is what one allocation cycle needs from the exchange.
type AllocationVenue interface {
	BalanceProvider
	MarketRateSource
	CancelAllOffers(ctx context.Context) (int, error)
	SubmitOffer(ctx context.Context, offer domain.Offer) (int64, error)
}

// OrderWriter records a submitted order; the dual-write coordinator
// implements it.
type OrderWriter interface {
	WriteOrder(ctx context.Context, p *domain.Position) error
}

// MarketLogger records per-cycle market observations.
type MarketLogger interface {
	Insert(ctx context.Context, row *repository.MarketLogRow) error
}

// Broadcaster is the minimal interface the cycle needs from the WS hub.
type Broadcaster interface {
	BroadcastCycleReport(report CycleReport)
}

// CycleReport summarizes one allocation cycle for operator dashboards.
type CycleReport struct {
	Timestamp        time.Time       `json:"timestamp"`
	Strategy         string          `json:"strategy"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	CancelledOffers  int             `json:"cancelled_offers"`
	SubmittedOffers  int             `json:"submitted_offers"`
	DroppedOffers    int             `json:"dropped_offers"`
	TotalAllocated   decimal.Decimal `json:"total_allocated"`
	Skipped          bool            `json:"skipped"`
	SkipReason       string          `json:"skip_reason,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AllocationService
// ──────────────────────────────────────────────────────────────────────────────

// AllocationService runs the periodic lending cycle: cancel whatever is still
// resting on the book, re-read the balance, snapshot the market, let the
// active strategy produce offers, submit them, and record each fill intent
// through the dual-write coordinator.
//
// The first three steps are strictly sequential: cancellation returns funds
// that the balance read must see, and the balance must be known before any
// planning runs.
type AllocationService struct {
	venue     AllocationVenue
	strat     strategy.Strategy
	writer    OrderWriter
	marketLog MarketLogger
	hub       Broadcaster
	currency  string
	minOrder  decimal.Decimal
	logger    *slog.Logger
}

// NewAllocationService builds an AllocationService.
func NewAllocationService(
	venue AllocationVenue,
	strat strategy.Strategy,
	writer OrderWriter,
	marketLog MarketLogger,
	hub Broadcaster,
	currency string,
	minOrder decimal.Decimal,
	logger *slog.Logger,
) *AllocationService {
	return &AllocationService{
		venue:     venue,
		strat:     strat,
		writer:    writer,
		marketLog: marketLog,
		hub:       hub,
		currency:  currency,
		minOrder:  minOrder,
		logger:    logger,
	}
}

// RunCycle executes one allocation cycle. Errors are absorbed here: a failed
// cycle is logged and reported, never propagated into the scheduling loop.
func (s *AllocationService) RunCycle(ctx context.Context) {
	report := CycleReport{
		Timestamp: time.Now().UTC(),
		Strategy:  s.strat.Name(),
	}
	defer func() {
		if s.hub != nil {
			s.hub.BroadcastCycleReport(report)
		}
	}()

	// Step 1: clear the book so stale rates never linger.
	cancelled, err := s.venue.CancelAllOffers(ctx)
	if err != nil {
		s.skip(&report, fmt.Sprintf("cancel offers: %v", err))
		return
	}
	report.CancelledOffers = cancelled

	// Step 2: balance, after cancellation has returned funds.
	balance, err := s.venue.GetAvailableBalance(ctx)
	if err != nil {
		s.skip(&report, fmt.Sprintf("read balance: %v", err))
		return
	}
	report.AvailableBalance = balance

	if balance.LessThan(s.minOrder) {
		s.skip(&report, fmt.Sprintf("balance %s below minimum order %s: %v",
			balance, s.minOrder, domain.ErrInsufficientBalance))
		return
	}

	// Step 3: market snapshot.
	snap, err := s.venue.GetOrderBook(ctx)
	if err != nil {
		s.skip(&report, fmt.Sprintf("fetch order book: %v", err))
		return
	}
	s.logMarket(ctx, snap)

	// Step 4: strategy.
	offers, err := s.strat.GenerateOffers(balance, snap)
	if err != nil {
		if errors.Is(err, domain.ErrMarketDataUnavailable) {
			s.skip(&report, fmt.Sprintf("strategy %s: %v", s.strat.Name(), err))
		} else {
			s.skip(&report, fmt.Sprintf("strategy %s failed: %v", s.strat.Name(), err))
		}
		return
	}
	if len(offers) == 0 {
		s.skip(&report, "strategy produced no offers")
		return
	}

	// Steps 5-7: validate, submit, record. One bad offer drops that offer,
	// not the cycle.
	now := time.Now().UTC()
	for _, offer := range offers {
		if err := s.validateOffer(offer); err != nil {
			report.DroppedOffers++
			s.logger.Warn("offer dropped", "rate", offer.Rate, "amount", offer.Amount, "err", err)
			continue
		}

		orderID, err := s.venue.SubmitOffer(ctx, offer)
		if err != nil {
			report.DroppedOffers++
			s.logger.Warn("offer rejected by venue", "rate", offer.Rate, "amount", offer.Amount, "err", err)
			continue
		}

		position := &domain.Position{
			ID:             uuid.New(),
			VenueOrderID:   orderID,
			Currency:       s.currency,
			Amount:         offer.Amount,
			Rate:           offer.Rate,
			Period:         offer.Period,
			Status:         domain.PositionActive,
			OrderStatus:    domain.OrderPending,
			StrategyName:   s.strat.Name(),
			ExpectedReturn: offer.Amount.Mul(offer.Rate).Div(decimal.NewFromInt(365)),
			OpenedAt:       now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.writer.WriteOrder(ctx, position); err != nil {
			// The venue already holds the offer; losing the record is worse
			// than a dropped offer, so this is an error, not a warning.
			s.logger.Error("order submitted but not recorded",
				"venue_order_id", orderID, "err", err)
			continue
		}

		report.SubmittedOffers++
		report.TotalAllocated = report.TotalAllocated.Add(offer.Amount)
	}

	s.logger.Info("allocation cycle complete",
		"strategy", s.strat.Name(),
		"balance", balance,
		"cancelled", report.CancelledOffers,
		"submitted", report.SubmittedOffers,
		"dropped", report.DroppedOffers,
		"allocated", report.TotalAllocated)
}

func (s *AllocationService) skip(report *CycleReport, reason string) {
	report.Skipped = true
	report.SkipReason = reason
	s.logger.Warn("allocation cycle skipped", "reason", reason)
}

func (s *AllocationService) validateOffer(offer domain.Offer) error {
	if !s.strat.ValidateOrderAmount(offer.Amount) {
		return fmt.Errorf("%w: amount %s below minimum", domain.ErrInvalidOrder, offer.Amount)
	}
	if !offer.Rate.IsPositive() {
		return fmt.Errorf("%w: non-positive rate %s", domain.ErrInvalidOrder, offer.Rate)
	}
	if offer.Period <= 0 {
		return fmt.Errorf("%w: non-positive period %d", domain.ErrInvalidOrder, offer.Period)
	}
	return nil
}

// logMarket stores one observation per period so the adaptive ladder has a
// rate history to read. Best effort; a logging failure never skips a cycle.
func (s *AllocationService) logMarket(ctx context.Context, snap *domain.MarketSnapshot) {
	if s.marketLog == nil {
		return
	}
	for period, quote := range snap.QuoteByPeriod() {
		row := &repository.MarketLogRow{
			Currency:   snap.Currency,
			Period:     period,
			BestBid:    quote.Bid,
			BestAsk:    quote.Ask,
			AvgRate:    snap.Top.AvgRate,
			ObservedAt: snap.FetchedAt,
		}
		if err := s.marketLog.Insert(ctx, row); err != nil {
			s.logger.Warn("market log insert failed", "period", period, "err", err)
		}
	}
}
