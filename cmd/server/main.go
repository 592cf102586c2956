// Package main is the entry point for the evetabi lending allocation
// server.  It wires together the exchange client, the active strategy, the
// dual-write coordinator and the settlement pipeline, then starts the HTTP
// server alongside the WebSocket hub and background scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/lending/internal/api"
	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/exchange"
	"github.com/evetabi/lending/internal/repository"
	"github.com/evetabi/lending/internal/scheduler"
	"github.com/evetabi/lending/internal/service"
	"github.com/evetabi/lending/internal/strategy"
	"github.com/evetabi/lending/internal/ws"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver
	"github.com/shopspring/decimal"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	_ = godotenv.Load() // .env is optional; real env always wins

	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting evetabi lending server",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"strategy", cfg.Strategy.Name,
		"currency", cfg.Exchange.Currency,
	)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	positionRepo := repository.NewPositionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	earningsRepo := repository.NewEarningsRepository(db)
	marketLogRepo := repository.NewMarketLogRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	// ── 5. Exchange client + strategy ─────────────────────────────────────────
	venue := exchange.NewClient(&cfg.Exchange)

	kind, err := strategy.ParseKind(cfg.Strategy.Name)
	if err != nil {
		logger.Error("unknown strategy", "err", err)
		os.Exit(1)
	}
	strat, err := strategy.New(kind, &cfg.Strategy, marketLogRepo)
	if err != nil {
		logger.Error("strategy construction failed", "err", err)
		os.Exit(1)
	}

	// ── 6. Services ───────────────────────────────────────────────────────────
	dualWriteSvc := service.NewDualWriteService(
		positionRepo, snapshotRepo, venue,
		cfg.Exchange.Currency, &cfg.DualWrite, logger,
	)

	settlementSvc := service.NewSettlementService(
		positionRepo, earningsRepo, venue, ledgerRepo,
		cfg.Exchange.Currency, cfg.Strategy.Name, logger,
	)

	syncSvc := service.NewSyncService(venue, positionRepo, ledgerRepo, logger)

	// ── 7. WebSocket hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(cfg.Server.AllowedOrigins)

	allocationSvc := service.NewAllocationService(
		venue, strat, dualWriteSvc, marketLogRepo, hub,
		cfg.Exchange.Currency,
		decimal.NewFromFloat(cfg.Strategy.MinOrderAmount),
		logger,
	)

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run()
	logger.Info("websocket hub started")

	// ── 9. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(allocationSvc, syncSvc, settlementSvc, hub, &cfg.Scheduler, logger)
	if err = sched.Start(ctx); err != nil {
		logger.Error("scheduler failed to start", "err", err)
		os.Exit(1)
	}

	// ── 10. HTTP router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		EarningsRepo:  earningsRepo,
		SettlementSvc: settlementSvc,
		DualWriteSvc:  dualWriteSvc,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 11. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
