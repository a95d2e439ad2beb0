// Package app builds the shared process plumbing used by every binary:
// logger, database pool, repositories and services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/repository"
	"github.com/evetabi/lendpool/internal/service"
)

// NewLogger returns a JSON logger in production and a debug text logger
// otherwise, and installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// OpenDB connects to Postgres and applies the pool limits from cfg.
func OpenDB(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	return db, nil
}

// Services holds every service wired against one database.
type Services struct {
	Auth     *service.AuthService
	Tokens   *service.TokenService
	Oracle   *service.OracleService
	Pools    *service.PoolService
	Lending  *service.LendingService
	Transfer *service.TransferService
	Risk     *service.RiskService
}

// SetBroadcaster injects b into every service that publishes events.
func (s *Services) SetBroadcaster(b service.Broadcaster) {
	s.Oracle.SetBroadcaster(b)
	s.Lending.SetBroadcaster(b)
	s.Transfer.SetBroadcaster(b)
	s.Risk.SetBroadcaster(b)
}

// NewServices builds the repositories and services. m may be nil.
func NewServices(db *sqlx.DB, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*Services, error) {
	// ── Repositories ─────────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	oracleRepo := repository.NewOracleRepository(db)
	poolRepo := repository.NewPoolRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	liquidationRepo := repository.NewLiquidationRepository(db)
	transferRepo := repository.NewTransferRepository(db)

	// ── Services (order matters for injection) ───────────────────────────────
	tokens, err := service.NewTokenService(tokenRepo, cfg)
	if err != nil {
		return nil, err
	}
	oracle := service.NewOracleService(oracleRepo, cfg, m, log)
	lending := service.NewLendingService(db, poolRepo, accountRepo, liquidationRepo, transferRepo,
		repository.NewInboundRepository(db), tokens, oracle, cfg, m, log)

	// A nil *HTTPGateway must not end up inside the interface.
	var gateway service.TransferGateway
	if gw := service.NewHTTPGateway(cfg); gw != nil {
		gateway = gw
	}

	return &Services{
		Auth:     service.NewAuthService(userRepo, cfg),
		Tokens:   tokens,
		Oracle:   oracle,
		Pools:    service.NewPoolService(db, poolRepo, accountRepo, liquidationRepo, tokens, oracle, cfg),
		Lending:  lending,
		Transfer: service.NewTransferService(db, transferRepo, lending, gateway, cfg, m, log),
		Risk:     service.NewRiskService(poolRepo, accountRepo, tokens, oracle, cfg, m, log),
	}, nil
}
