// Package main is the entry point for the lendpool back-office admin server.
// It exposes staff-only endpoints protected by RBAC and an IP allowlist.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/evetabi/lendpool/internal/app"
	"github.com/evetabi/lendpool/internal/backoffice"
	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/scheduler"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	logger.Info("starting lendpool backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// ── Services ──────────────────────────────────────────────────────────────
	// The API server owns migrations, price pulls and outbox dispatch; this
	// process only keeps its own risk report current.
	svcs, err := app.NewServices(db, cfg, nil, logger)
	if err != nil {
		logger.Error("service setup failed", "err", err)
		os.Exit(1)
	}
	sched := scheduler.NewScheduler(nil, nil, svcs.Risk, cfg, logger)
	sched.Start(ctx)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:     svcs.Auth,
		PoolSvc:     svcs.Pools,
		TransferSvc: svcs.Transfer,
		TokenSvc:    svcs.Tokens,
		OracleSvc:   svcs.Oracle,
		RiskSvc:     svcs.Risk,
		Hub:         nil, // backoffice does not directly serve WS
		Cfg:         cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	sched.Wait()
	logger.Info("backoffice server stopped cleanly")
}
