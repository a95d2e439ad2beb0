// Package scheduler manages the background goroutines that keep the ledger's
// side systems moving:
//  1. oracleLoop   – pulls price data from ORACLE_SOURCE_URL (pull mode only).
//  2. dispatchLoop – delivers pending outbound transfers and compensates the
//     ones the gateway gave up on.
//  3. riskLoop     – scans borrowing positions and raises risk alerts.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/service"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

// OracleRefresher is implemented by service.OracleService.
type OracleRefresher interface {
	PullEnabled() bool
	Refresh(ctx context.Context) error
}

// TransferDispatcher is implemented by service.TransferService.
type TransferDispatcher interface {
	GatewayEnabled() bool
	DispatchBatch(ctx context.Context) (service.DispatchStats, error)
	RefreshBacklog(ctx context.Context)
}

// RiskScanner is implemented by service.RiskService.
type RiskScanner interface {
	Scan(ctx context.Context) (*service.RiskReport, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the background loops. Call Start(ctx) once from main();
// cancel the context and call Wait to shut it down gracefully.
type Scheduler struct {
	oracle    OracleRefresher
	transfers TransferDispatcher
	risk      RiskScanner
	cfg       *config.Config
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler. Any dependency may be nil to disable
// its loop.
func NewScheduler(
	oracle OracleRefresher,
	transfers TransferDispatcher,
	risk RiskScanner,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		oracle:    oracle,
		transfers: transfers,
		risk:      risk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the enabled loops. It returns immediately; all loops run
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	started := 0
	if s.oracle != nil && s.oracle.PullEnabled() {
		s.spawn(ctx, "oracleLoop", s.cfg.Oracle.RefreshInterval, s.refreshOracle)
		started++
	}
	if s.transfers != nil {
		s.spawn(ctx, "dispatchLoop", s.cfg.Transfer.DispatchInterval, s.dispatch)
		started++
	}
	if s.risk != nil {
		s.spawn(ctx, "riskLoop", s.cfg.Risk.ScanInterval, s.scanRisk)
		started++
	}
	s.logger.Info("scheduler started", "loops", started)
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		s.logger.Warn("scheduler loop disabled: non-positive interval", "loop", name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, name, interval, tick)
	}()
}

// loop runs tick immediately and then every interval.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runTick(ctx, name, tick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop shutting down", "loop", name)
			return
		case <-ticker.C:
			s.runTick(ctx, name, tick)
		}
	}
}

// runTick isolates one iteration so that a panic is logged and the loop
// keeps going.
func (s *Scheduler) runTick(ctx context.Context, name string, tick func(context.Context)) {
	defer s.recoverAndLog(name)
	tick(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop bodies
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) refreshOracle(ctx context.Context) {
	if err := s.oracle.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("oracleLoop: refresh failed", "err", err)
	}
}

// dispatch drains the outbox in batches until a batch comes back short.
// Without a gateway only the backlog gauge is refreshed.
func (s *Scheduler) dispatch(ctx context.Context) {
	if !s.transfers.GatewayEnabled() {
		s.transfers.RefreshBacklog(ctx)
		return
	}
	batch := s.cfg.Transfer.BatchSize
	for ctx.Err() == nil {
		stats, err := s.transfers.DispatchBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("dispatchLoop: DispatchBatch", "err", err)
			}
			return
		}
		if stats.Claimed > 0 {
			s.logger.Info("transfers dispatched",
				"claimed", stats.Claimed, "sent", stats.Sent,
				"failed", stats.Failed, "compensated", stats.Compensated)
		}
		if batch <= 0 || stats.Claimed < batch || stats.Sent == 0 {
			return
		}
	}
}

func (s *Scheduler) scanRisk(ctx context.Context) {
	if _, err := s.risk.Scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("riskLoop: Scan", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each tick to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
