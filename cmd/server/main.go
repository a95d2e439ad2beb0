// Package main is the entry point for the lendpool API server. It wires
// together all services and starts the HTTP server alongside the WebSocket
// hub and the background scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/evetabi/lendpool/internal/api"
	"github.com/evetabi/lendpool/internal/app"
	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/repository"
	"github.com/evetabi/lendpool/internal/scheduler"
	"github.com/evetabi/lendpool/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	logger.Info("starting lendpool server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database ───────────────────────────────────────────────────────────
	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// ── 4. Migrations ─────────────────────────────────────────────────────────
	applied, err := repository.Migrate(ctx, db)
	if err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "count", len(applied))

	// ── 5. Services ───────────────────────────────────────────────────────────
	m := metrics.New()
	svcs, err := app.NewServices(db, cfg, m, logger)
	if err != nil {
		logger.Error("service setup failed", "err", err)
		os.Exit(1)
	}

	// ── 6. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub([]byte(cfg.JWT.AccessSecret), cfg.Server.WSAllowedOrigins, m, logger)
	svcs.SetBroadcaster(hub)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(svcs.Oracle, svcs.Transfer, svcs.Risk, cfg, logger)
	sched.Start(ctx)

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:     svcs.Auth,
		PoolSvc:     svcs.Pools,
		LendingSvc:  svcs.Lending,
		TransferSvc: svcs.Transfer,
		TokenSvc:    svcs.Tokens,
		OracleSvc:   svcs.Oracle,
		Hub:         hub,
		Metrics:     m,
		Cfg:         cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	sched.Wait()
	logger.Info("server stopped cleanly")
}
