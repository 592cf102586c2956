// Package scheduler runs the three background jobs of the lending engine:
//  1. allocation cycle – cancel, re-plan and re-submit offers on an interval.
//  2. order sync       – reconcile tracked orders and import the venue ledger.
//  3. settlement       – aggregate the previous day shortly after midnight.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/service"
	"github.com/evetabi/lending/internal/ws"
	"github.com/robfig/cron/v3"
)

// ──────────────────────────────────────────────────────────────────────────────
// WsHub interface — minimally required from the Hub
// ──────────────────────────────────────────────────────────────────────────────

// WsHub defines the broadcast operation the settlement job needs from the
// WebSocket hub. Declared here so this package does not depend on the hub
// implementation.
type WsHub interface {
	BroadcastSettlementDone(msg ws.SettlementDoneMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the cron runner. Call Start once from main(); cancel the
// context to drain and stop.
type Scheduler struct {
	allocationSvc *service.AllocationService
	syncSvc       *service.SyncService
	settlementSvc *service.SettlementService
	hub           WsHub
	cfg           *config.SchedulerConfig
	logger        *slog.Logger

	cron *cron.Cron
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	allocationSvc *service.AllocationService,
	syncSvc *service.SyncService,
	settlementSvc *service.SettlementService,
	hub WsHub,
	cfg *config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		allocationSvc: allocationSvc,
		syncSvc:       syncSvc,
		settlementSvc: settlementSvc,
		hub:           hub,
		cfg:           cfg,
		logger:        logger,
		cron:          cron.New(),
	}
}

// Start registers the three jobs and launches the cron runner. It returns
// immediately; jobs run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.CycleSpec, s.guarded("allocation cycle", s.runCycle(ctx))); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.SyncSpec, s.guarded("order sync", s.runSync(ctx))); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.SettlementSpec, s.guarded("settlement", s.runSettlement(ctx))); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"cycle", s.cfg.CycleSpec, "sync", s.cfg.SyncSpec, "settlement", s.cfg.SettlementSpec)

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	}()
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) func() {
	return func() {
		s.allocationSvc.RunCycle(ctx)
	}
}

func (s *Scheduler) runSync(ctx context.Context) func() {
	return func() {
		if err := s.syncSvc.SyncOrders(ctx); err != nil {
			s.logger.Error("order sync failed", "err", err)
		}
		if err := s.syncSvc.ImportLedger(ctx); err != nil {
			s.logger.Error("ledger import failed", "err", err)
		}
	}
}

// runSettlement settles the previous calendar day. The job fires shortly
// after midnight UTC, when yesterday's ledger rows are complete.
func (s *Scheduler) runSettlement(ctx context.Context) func() {
	return func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		result := s.settlementSvc.SettleDay(ctx, yesterday)
		if !result.Success {
			s.logger.Error("daily settlement failed",
				"date", yesterday.Format("2006-01-02"), "err", result.ErrorMessage)
			return
		}

		if s.hub != nil && result.Earnings != nil {
			s.hub.BroadcastSettlementDone(ws.SettlementDoneMessage{
				Type:             ws.MsgTypeSettlementDone,
				Date:             result.Earnings.Date.Format("2006-01-02"),
				Currency:         result.Earnings.Currency,
				TotalInterest:    result.Earnings.TotalInterest,
				UtilizationRate:  result.Earnings.UtilizationRate,
				AnnualizedReturn: result.Earnings.AnnualizedReturn,
				Warnings:         result.Warnings,
				Timestamp:        time.Now().UTC(),
			})
		}
	}
}

// guarded wraps a job so an unexpected panic is logged instead of killing the
// cron runner.
func (s *Scheduler) guarded(name string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC recovered in scheduled job", "job", name, "panic", r)
			}
		}()
		job()
	}
}
