package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/repository"
)

// CreatePoolRequest carries the pool parameters. Nil fields take the
// configured defaults.
type CreatePoolRequest struct {
	OwnerID           string          `json:"-"`
	Role              domain.UserRole `json:"-"`
	LendTokenID       string          `json:"lend_token_id"       binding:"required"`
	CollateralTokenID string          `json:"collateral_token_id" binding:"required"`
	MinCR             *uint64         `json:"min_cr"`
	MaxUtilization    *uint64         `json:"max_utilization"`
	MinLendDeposit    *uint256.Int    `json:"min_lend_token_deposit"`
	MinLendBorrow     *uint256.Int    `json:"min_lend_token_borrow"`
	FixedInterestRate *uint64         `json:"fixed_interest_rate"`
	LiquidationBonus  *uint64         `json:"liquidation_bonus"`
}

// AccountPools lists the pools an account takes part in.
type AccountPools struct {
	Deposited []int64 `json:"deposited"`
	Borrowed  []int64 `json:"borrowed"`
	Created   []int64 `json:"created"`
}

// PoolService owns pool creation and every read-only view.
type PoolService struct {
	db           *sqlx.DB
	pools        *repository.PoolRepository
	accounts     *repository.AccountRepository
	liquidations *repository.LiquidationRepository
	tokens       *TokenService
	oracle       *OracleService
	cfg          *config.Config
	now          func() time.Time
}

// NewPoolService creates a PoolService.
func NewPoolService(
	db *sqlx.DB,
	pools *repository.PoolRepository,
	accounts *repository.AccountRepository,
	liquidations *repository.LiquidationRepository,
	tokens *TokenService,
	oracle *OracleService,
	cfg *config.Config,
) *PoolService {
	return &PoolService{
		db:           db,
		pools:        pools,
		accounts:     accounts,
		liquidations: liquidations,
		tokens:       tokens,
		oracle:       oracle,
		cfg:          cfg,
		now:          time.Now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// CreatePool
// ──────────────────────────────────────────────────────────────────────────────

// CreatePool validates req and inserts an empty pool. The owner and the
// treasury account are registered in it straight away.
func (s *PoolService) CreatePool(ctx context.Context, req CreatePoolRequest) (*domain.PoolInfo, error) {
	// ── 1. Authorisation and tokens ──────────────────────────────────────────
	if s.cfg.Lending.RestrictPoolCreation && !req.Role.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if _, err := s.tokens.Lookup(ctx, req.LendTokenID); err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: lend token %s: %w", req.LendTokenID, err)
	}
	if _, err := s.tokens.Lookup(ctx, req.CollateralTokenID); err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: collateral token %s: %w", req.CollateralTokenID, err)
	}

	// ── 2. Params ────────────────────────────────────────────────────────────
	params := s.ParamsFor(req)
	now := s.now().UTC()
	p, err := domain.NewPool(0, params, now)
	if err != nil {
		return nil, err
	}

	// ── 3. Insert pool and seed positions ────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.pools.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: %w", err)
	}
	p.Register(req.OwnerID)
	if treasury := s.cfg.Lending.TreasuryAccountID; treasury != "" {
		p.Register(treasury)
	}
	if err = s.accounts.SaveAll(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: %w", err)
	}

	// ── 4. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("pool_service.CreatePool: commit: %w", err)
	}
	info := p.Info()
	return &info, nil
}

// ParamsFor fills the unset fields of req from the configured defaults.
func (s *PoolService) ParamsFor(req CreatePoolRequest) domain.PoolParams {
	params := domain.DefaultPoolParams(req.OwnerID, req.LendTokenID, req.CollateralTokenID)
	l := s.cfg.Lending
	pick := func(v *uint64, configured, fallback uint64) uint64 {
		switch {
		case v != nil:
			return *v
		case configured != 0:
			return configured
		}
		return fallback
	}
	params.MinCollateralRatio = pick(req.MinCR, l.MinCollateralRatio, params.MinCollateralRatio)
	params.MaxUtilization = pick(req.MaxUtilization, l.MaxUtilization, params.MaxUtilization)
	params.FixedInterestRate = pick(req.FixedInterestRate, l.FixedInterestRate, params.FixedInterestRate)
	params.LiquidationBonus = pick(req.LiquidationBonus, l.LiquidationBonus, params.LiquidationBonus)
	if req.MinLendDeposit != nil {
		params.MinLendDeposit = req.MinLendDeposit
	}
	if req.MinLendBorrow != nil {
		params.MinLendBorrow = req.MinLendBorrow
	}
	return params
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool views
// ──────────────────────────────────────────────────────────────────────────────

// GetPool returns one pool's public view.
func (s *PoolService) GetPool(ctx context.Context, id int64) (*domain.PoolInfo, error) {
	p, err := s.pools.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	info := p.Info()
	return &info, nil
}

// ListPools returns up to limit pools with ids from fromIndex.
func (s *PoolService) ListPools(ctx context.Context, fromIndex int64, limit int) ([]domain.PoolInfo, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidRequest)
	}
	if fromIndex < 0 {
		return nil, fmt.Errorf("%w: from_index must not be negative", domain.ErrInvalidRequest)
	}
	pools, err := s.pools.List(ctx, fromIndex, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return infos(pools), nil
}

// ListByLendToken returns the pools lending tokenID.
func (s *PoolService) ListByLendToken(ctx context.Context, tokenID string) ([]domain.PoolInfo, error) {
	pools, err := s.pools.ListByLendToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return infos(pools), nil
}

// ListByCollateralToken returns the pools accepting tokenID as collateral.
func (s *PoolService) ListByCollateralToken(ctx context.Context, tokenID string) ([]domain.PoolInfo, error) {
	pools, err := s.pools.ListByCollateralToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return infos(pools), nil
}

// ListByOwner returns the pools created by accountID.
func (s *PoolService) ListByOwner(ctx context.Context, accountID string) ([]domain.PoolInfo, error) {
	pools, err := s.pools.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return infos(pools), nil
}

// Count returns the number of pools.
func (s *PoolService) Count(ctx context.Context) (int64, error) {
	return s.pools.Count(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Account views
// ──────────────────────────────────────────────────────────────────────────────

// AccountInfo returns accountID's position in pool poolID at the current
// prices. Accounts without a position get an empty view.
func (s *PoolService) AccountInfo(ctx context.Context, poolID int64, accountID string) (*domain.AccountInfo, error) {
	p, err := s.loadWithAccount(ctx, poolID, accountID)
	if err != nil {
		return nil, err
	}
	return s.accountInfo(ctx, p, accountID)
}

// CurrentCR returns accountID's collateral ratio in poolID. Positions
// without debt report domain.InfiniteCollateralRatio.
func (s *PoolService) CurrentCR(ctx context.Context, poolID int64, accountID string) (uint64, error) {
	p, err := s.loadWithAccount(ctx, poolID, accountID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	v, err := s.valuation(ctx, p, now)
	if err != nil {
		return 0, err
	}
	return p.ComputeCurrentCR(accountID, v, now)
}

// AccountState returns accountID's position in every pool it deposited
// into, ordered by pool id.
func (s *PoolService) AccountState(ctx context.Context, accountID string) ([]*domain.AccountInfo, error) {
	positions, err := s.accounts.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AccountInfo, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, a := range positions {
		i, a := i, a
		g.Go(func() error {
			p, err := s.pools.GetByID(gctx, a.PoolID)
			if err != nil {
				return err
			}
			p.Accounts = map[string]*domain.AccountDeposit{accountID: a}
			info, err := s.accountInfo(gctx, p, accountID)
			if err != nil {
				return fmt.Errorf("pool %d: %w", a.PoolID, err)
			}
			out[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pool_service.AccountState: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

// AccountPools lists the pools accountID deposited into, borrowed from and created.
func (s *PoolService) AccountPools(ctx context.Context, accountID string) (*AccountPools, error) {
	var out AccountPools
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Deposited, err = s.accounts.DepositedPoolIDs(gctx, accountID)
		return
	})
	g.Go(func() (err error) {
		out.Borrowed, err = s.accounts.BorrowedPoolIDs(gctx, accountID)
		return
	})
	g.Go(func() error {
		pools, err := s.pools.ListByOwner(gctx, accountID)
		if err != nil {
			return err
		}
		out.Created = make([]int64, 0, len(pools))
		for _, p := range pools {
			out.Created = append(out.Created, p.ID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pool_service.AccountPools: %w", err)
	}
	return &out, nil
}

// ListAccounts returns a page of positions in poolID plus the total count.
func (s *PoolService) ListAccounts(ctx context.Context, poolID int64, limit, offset int) ([]*domain.AccountDeposit, int, error) {
	if _, err := s.pools.GetByID(ctx, poolID); err != nil {
		return nil, 0, err
	}
	return s.accounts.ListByPool(ctx, poolID, s.clampLimit(limit), offset)
}

// Liquidations returns poolID's liquidation history, newest first.
func (s *PoolService) Liquidations(ctx context.Context, poolID int64, limit, offset int) ([]*domain.Liquidation, int, error) {
	if _, err := s.pools.GetByID(ctx, poolID); err != nil {
		return nil, 0, err
	}
	return s.liquidations.ListByPool(ctx, poolID, s.clampLimit(limit), offset)
}

// RecentLiquidations returns the latest liquidations across all pools.
func (s *PoolService) RecentLiquidations(ctx context.Context, limit int) ([]*domain.Liquidation, error) {
	return s.liquidations.ListRecent(ctx, s.clampLimit(limit))
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *PoolService) loadWithAccount(ctx context.Context, poolID int64, accountID string) (*domain.Pool, error) {
	p, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	a, err := s.accounts.Get(ctx, poolID, accountID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
	case err != nil:
		return nil, err
	default:
		p.Accounts[accountID] = a
	}
	return p, nil
}

func (s *PoolService) valuation(ctx context.Context, p *domain.Pool, now time.Time) (domain.Valuation, error) {
	lend, coll, err := s.tokens.Pair(ctx, p)
	if err != nil {
		return domain.Valuation{}, err
	}
	return s.oracle.Valuation(ctx, p, lend, coll, now)
}

func (s *PoolService) accountInfo(ctx context.Context, p *domain.Pool, accountID string) (*domain.AccountInfo, error) {
	now := s.now()
	v, err := s.valuation(ctx, p, now)
	if err != nil {
		return nil, err
	}
	return p.AccountInfo(accountID, v, now)
}

func (s *PoolService) clampLimit(limit int) int {
	max := s.cfg.Lending.PositionsPageMaxLimit
	if max <= 0 {
		max = 100
	}
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func infos(pools []*domain.Pool) []domain.PoolInfo {
	out := make([]domain.PoolInfo, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Info())
	}
	return out
}
