package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/jmoiron/sqlx"
)

// PoolRepository handles all database operations for Pools.
type PoolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository creates a new PoolRepository.
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// Create inserts a new pool row inside tx and stores the assigned id on p.
// Ids are sequential from zero.
func (r *PoolRepository) Create(ctx context.Context, tx *sqlx.Tx, p *domain.Pool) error {
	query := `
		INSERT INTO pools
			(schema_version, owner_id, lend_token_id, collateral_token_id, min_cr, max_utilization,
			 min_lend_deposit, min_lend_borrow, fixed_interest_rate, liquidation_bonus,
			 total_lend_asset_deposit, total_collateral_deposit, total_borrow,
			 acc_interest_per_share, last_accrual_timestamp, created_at, updated_at)
		VALUES
			(:schema_version, :owner_id, :lend_token_id, :collateral_token_id, :min_cr, :max_utilization,
			 :min_lend_deposit, :min_lend_borrow, :fixed_interest_rate, :liquidation_bonus,
			 :total_lend_asset_deposit, :total_collateral_deposit, :total_borrow,
			 :acc_interest_per_share, :last_accrual_timestamp, :created_at, :updated_at)
		RETURNING id`
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("pool_repo.Create prepare: %w", err)
	}
	defer stmt.Close()

	var id int64
	if err := stmt.GetContext(ctx, &id, p.Record()); err != nil {
		return fmt.Errorf("pool_repo.Create: %w", err)
	}
	p.ID = id
	return nil
}

// GetByID fetches a pool by id without locking it.
func (r *PoolRepository) GetByID(ctx context.Context, id int64) (*domain.Pool, error) {
	return r.get(ctx, r.db, `SELECT * FROM pools WHERE id = $1`, id)
}

// GetForUpdate locks the pool row for the rest of tx. Every mutating
// operation takes this lock first, so one pool's operations are serialised.
func (r *PoolRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Pool, error) {
	return r.get(ctx, tx, `SELECT * FROM pools WHERE id = $1 FOR UPDATE`, id)
}

func (r *PoolRepository) get(ctx context.Context, q sqlx.QueryerContext, query string, id int64) (*domain.Pool, error) {
	var rec domain.PoolRecord
	if err := sqlx.GetContext(ctx, q, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", domain.ErrPoolNotFound, id)
		}
		return nil, fmt.Errorf("pool_repo.get: %w", err)
	}
	p, err := rec.Upgrade()
	if err != nil {
		return nil, fmt.Errorf("pool_repo.get: %w", err)
	}
	return p, nil
}

// Save writes the pool's mutable state at the current schema version.
func (r *PoolRepository) Save(ctx context.Context, tx *sqlx.Tx, p *domain.Pool) error {
	query := `
		UPDATE pools
		SET schema_version           = :schema_version,
		    min_lend_borrow          = :min_lend_borrow,
		    liquidation_bonus        = :liquidation_bonus,
		    total_lend_asset_deposit = :total_lend_asset_deposit,
		    total_collateral_deposit = :total_collateral_deposit,
		    total_borrow             = :total_borrow,
		    acc_interest_per_share   = :acc_interest_per_share,
		    last_accrual_timestamp   = :last_accrual_timestamp,
		    updated_at               = :updated_at
		WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, query, p.Record())
	if err != nil {
		return fmt.Errorf("pool_repo.Save: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrPoolNotFound, p.ID)
	}
	return nil
}

// List returns up to limit pools with id >= fromIndex in id order.
func (r *PoolRepository) List(ctx context.Context, fromIndex int64, limit int) ([]*domain.Pool, error) {
	return r.selectPools(ctx, "pool_repo.List",
		`SELECT * FROM pools WHERE id >= $1 ORDER BY id LIMIT $2`, fromIndex, limit)
}

// ListByLendToken returns every pool lending tokenID.
func (r *PoolRepository) ListByLendToken(ctx context.Context, tokenID string) ([]*domain.Pool, error) {
	return r.selectPools(ctx, "pool_repo.ListByLendToken",
		`SELECT * FROM pools WHERE lend_token_id = $1 ORDER BY id`, tokenID)
}

// ListByCollateralToken returns every pool accepting tokenID as collateral.
func (r *PoolRepository) ListByCollateralToken(ctx context.Context, tokenID string) ([]*domain.Pool, error) {
	return r.selectPools(ctx, "pool_repo.ListByCollateralToken",
		`SELECT * FROM pools WHERE collateral_token_id = $1 ORDER BY id`, tokenID)
}

// ListByOwner returns the pools created by accountID.
func (r *PoolRepository) ListByOwner(ctx context.Context, accountID string) ([]*domain.Pool, error) {
	return r.selectPools(ctx, "pool_repo.ListByOwner",
		`SELECT * FROM pools WHERE owner_id = $1 ORDER BY id`, accountID)
}

// ListByIDs returns the pools with the given ids in id order.
func (r *PoolRepository) ListByIDs(ctx context.Context, ids []int64) ([]*domain.Pool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM pools WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("pool_repo.ListByIDs: %w", err)
	}
	return r.selectPools(ctx, "pool_repo.ListByIDs", r.db.Rebind(query), args...)
}

// Count returns the number of pools.
func (r *PoolRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pools`); err != nil {
		return 0, fmt.Errorf("pool_repo.Count: %w", err)
	}
	return n, nil
}

// ListIDs returns every pool id.
func (r *PoolRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM pools ORDER BY id`); err != nil {
		return nil, fmt.Errorf("pool_repo.ListIDs: %w", err)
	}
	return ids, nil
}

func (r *PoolRepository) selectPools(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Pool, error) {
	var recs []*domain.PoolRecord
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pools := make([]*domain.Pool, 0, len(recs))
	for _, rec := range recs {
		p, err := rec.Upgrade()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}
