package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/repository"
)

// RiskReport is the result of one scan over every pool.
type RiskReport struct {
	ScannedAt    time.Time          `json:"scanned_at"`
	Pools        int                `json:"pools"`
	Borrowers    int                `json:"borrowers"`
	SkippedPools []int64            `json:"skipped_pools"`
	Alerts       []domain.RiskAlert `json:"alerts"`
}

// Liquidatable returns the alerts at RiskLiquidatable.
func (r *RiskReport) Liquidatable() []domain.RiskAlert {
	out := make([]domain.RiskAlert, 0)
	for _, a := range r.Alerts {
		if a.Level == domain.RiskLiquidatable {
			out = append(out, a)
		}
	}
	return out
}

// RiskService walks every borrowing position and flags the ones close to or
// under their pool's minimum collateral ratio.
type RiskService struct {
	pools    *repository.PoolRepository
	accounts *repository.AccountRepository
	tokens   *TokenService
	oracle   *OracleService
	cfg      *config.RiskConfig
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu   sync.RWMutex
	last *RiskReport

	broadcaster Broadcaster
	now         func() time.Time
}

// NewRiskService creates a RiskService.
func NewRiskService(
	pools *repository.PoolRepository,
	accounts *repository.AccountRepository,
	tokens *TokenService,
	oracle *OracleService,
	cfg *config.Config,
	m *metrics.Metrics,
	log *slog.Logger,
) *RiskService {
	if log == nil {
		log = slog.Default()
	}
	return &RiskService{
		pools:    pools,
		accounts: accounts,
		tokens:   tokens,
		oracle:   oracle,
		cfg:      &cfg.Risk,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *RiskService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// Scan evaluates every borrower once. Pools whose prices are missing or
// stale are skipped and listed in the report.
func (s *RiskService) Scan(ctx context.Context) (*RiskReport, error) {
	ids, err := s.pools.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk_service.Scan: %w", err)
	}

	now := s.now().UTC()
	report := &RiskReport{
		ScannedAt:    now,
		SkippedPools: []int64{},
		Alerts:       []domain.RiskAlert{},
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		alerts, borrowers, err := s.scanPool(ctx, id, now)
		if err != nil {
			if domain.IsNotFound(err) || isPriceError(err) {
				s.log.Warn("risk scan skipped pool", "pool_id", id, "err", err)
				report.SkippedPools = append(report.SkippedPools, id)
				continue
			}
			return nil, fmt.Errorf("risk_service.Scan: pool %d: %w", id, err)
		}
		report.Pools++
		report.Borrowers += borrowers
		report.Alerts = append(report.Alerts, alerts...)
	}
	sort.SliceStable(report.Alerts, func(i, j int) bool {
		return report.Alerts[i].CR < report.Alerts[j].CR
	})

	liquidatable := len(report.Liquidatable())
	s.metrics.SetAtRisk(liquidatable, len(report.Alerts)-liquidatable)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.broadcaster != nil {
		for _, a := range report.Alerts {
			s.broadcaster.BroadcastRiskAlert(a)
		}
	}
	if len(report.Alerts) > 0 {
		s.log.Info("risk scan", "pools", report.Pools, "borrowers", report.Borrowers,
			"liquidatable", liquidatable, "warning", len(report.Alerts)-liquidatable)
	}
	return report, nil
}

// Last returns the most recent report, or nil before the first scan.
func (s *RiskService) Last() *RiskReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *RiskService) scanPool(ctx context.Context, poolID int64, now time.Time) ([]domain.RiskAlert, int, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.accounts.LoadBorrowers(ctx, p); err != nil {
		return nil, 0, err
	}
	if len(p.Accounts) == 0 {
		return nil, 0, nil
	}
	lend, coll, err := s.tokens.Pair(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	v, err := s.oracle.Valuation(ctx, p, lend, coll, now)
	if err != nil {
		return nil, 0, err
	}

	var alerts []domain.RiskAlert
	for id, a := range p.Accounts {
		cr, err := a.CurrentCR(v, p.FixedInterestRate, now.Unix())
		if err != nil {
			return nil, 0, fmt.Errorf("account %s: %w", id, err)
		}
		level := domain.ClassifyRisk(cr, p.MinCollateralRatio, s.cfg.WarningMargin)
		if level == "" {
			continue
		}
		debt, err := a.TotalDebt(p.FixedInterestRate, now.Unix())
		if err != nil {
			return nil, 0, fmt.Errorf("account %s: %w", id, err)
		}
		alerts = append(alerts, domain.RiskAlert{
			PoolID:    p.ID,
			AccountID: id,
			Level:     level,
			CR:        cr,
			MinCR:     p.MinCollateralRatio,
			Debt:      debt.Dec(),
			ScannedAt: now,
		})
	}
	return alerts, len(p.Accounts), nil
}

func isPriceError(err error) bool {
	return errors.Is(err, domain.ErrStalePrice) ||
		errors.Is(err, domain.ErrPriceUnavailable) ||
		errors.Is(err, domain.ErrTokenNotSupported)
}
