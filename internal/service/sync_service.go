package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/lending/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// SyncVenue is what order reconciliation needs from the exchange.
type SyncVenue interface {
	InterestSource
	ActiveOfferIDs(ctx context.Context) (map[int64]bool, error)
}

// SyncPositionStore is the position access reconciliation needs.
type SyncPositionStore interface {
	GetOpen(ctx context.Context) ([]*domain.Position, error)
	GetByVenueOrderID(ctx context.Context, venueOrderID int64) (*domain.Position, error)
	Update(ctx context.Context, p *domain.Position) error
}

// SyncLedgerStore is the local ledger access reconciliation needs: storing
// imported payment rows and answering whether an order has been paid.
type SyncLedgerStore interface {
	Insert(ctx context.Context, e *domain.LedgerEntry) error
	HasPaymentForOrder(ctx context.Context, venueOrderID int64) (bool, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// SyncService
// ──────────────────────────────────────────────────────────────────────────────

// SyncService reconciles locally tracked orders against the venue.
//
// Orders still resting on the book move PENDING→ACTIVE. Orders that vanished
// from the live list are assumed executed — the venue removes filled offers
// and we cannot distinguish a fill from an expiry here, so the transition is
// a heuristic. An interest payment naming the order is positive confirmation:
// SyncOrders checks the stored ledger before assuming, and the ledger import
// below upgrades earlier assumptions as payments arrive.
type SyncService struct {
	venue     SyncVenue
	positions SyncPositionStore
	ledger    SyncLedgerStore
	logger    *slog.Logger

	lastLedgerImport time.Time
}

// NewSyncService builds a SyncService.
func NewSyncService(venue SyncVenue, positions SyncPositionStore, ledger SyncLedgerStore, logger *slog.Logger) *SyncService {
	return &SyncService{
		venue:     venue,
		positions: positions,
		ledger:    ledger,
		logger:    logger,
		// First import window reaches one day back.
		lastLedgerImport: time.Now().UTC().Add(-24 * time.Hour),
	}
}

// SyncOrders reconciles every non-terminal order against the live offer
// list. A single failing order does not abort the others.
func (s *SyncService) SyncOrders(ctx context.Context) error {
	live, err := s.venue.ActiveOfferIDs(ctx)
	if err != nil {
		return fmt.Errorf("sync.SyncOrders: live offers: %w", err)
	}

	open, err := s.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("sync.SyncOrders: open positions: %w", err)
	}

	now := time.Now().UTC()
	for _, p := range open {
		changed := false
		if live[p.VenueOrderID] {
			if p.OrderStatus == domain.OrderPending {
				p.OrderStatus = domain.OrderActive
				p.UpdatedAt = now
				changed = true
			}
		} else {
			// A payment already imported for this order turns the vanish
			// into a confirmed fill; otherwise fall back to the heuristic.
			paid, lerr := s.ledger.HasPaymentForOrder(ctx, p.VenueOrderID)
			if lerr != nil {
				s.logger.Error("order sync ledger lookup failed",
					"venue_order_id", p.VenueOrderID, "err", lerr)
			}
			if paid {
				if p.OrderStatus != domain.OrderExecuted || p.ExecutedAmount == nil {
					p.MarkExecuted(p.Amount, p.Rate, now)
					changed = true
				}
			} else {
				changed = p.AssumeExecuted(now)
			}
		}

		if !changed {
			continue
		}
		if err := s.positions.Update(ctx, p); err != nil {
			s.logger.Error("order sync update failed",
				"venue_order_id", p.VenueOrderID, "err", err)
		}
	}
	return nil
}

// ImportLedger pulls new funding payments from the venue, stores them, and
// uses payments that name an order as confirmation of execution.
func (s *SyncService) ImportLedger(ctx context.Context) error {
	since := s.lastLedgerImport
	entries, err := s.venue.LedgerEntries(ctx, since)
	if err != nil {
		return fmt.Errorf("sync.ImportLedger: %w", err)
	}

	imported := 0
	for i := range entries {
		e := &entries[i]
		if err := s.ledger.Insert(ctx, e); err != nil {
			s.logger.Error("ledger insert failed", "venue_id", e.VenueID, "err", err)
			continue
		}
		imported++

		if e.VenueOrderID != nil {
			s.confirmExecution(ctx, *e.VenueOrderID, e.ReceivedAt)
		}
	}

	s.lastLedgerImport = time.Now().UTC()
	if imported > 0 {
		s.logger.Info("ledger import complete", "since", since, "imported", imported)
	}
	return nil
}

// confirmExecution upgrades the assumed-executed heuristic to a confirmed
// fill when a payment references the order.
func (s *SyncService) confirmExecution(ctx context.Context, venueOrderID int64, at time.Time) {
	p, err := s.positions.GetByVenueOrderID(ctx, venueOrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrPositionNotFound) {
			s.logger.Error("payment confirmation lookup failed",
				"venue_order_id", venueOrderID, "err", err)
		}
		return
	}
	if p.OrderStatus == domain.OrderExecuted && p.ExecutedAmount != nil {
		return // already confirmed
	}

	p.MarkExecuted(p.Amount, p.Rate, at)
	if err := s.positions.Update(ctx, p); err != nil {
		s.logger.Error("payment confirmation update failed",
			"venue_order_id", venueOrderID, "err", err)
	}
}
