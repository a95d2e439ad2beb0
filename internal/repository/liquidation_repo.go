package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/jmoiron/sqlx"
)

// liquidationColumns maps the flattened price columns onto the nested
// Price fields of domain.Liquidation.
const liquidationColumns = `
	id, pool_id, liquidated_account_id, liquidator_account_id, lend_token_id, collateral_token_id,
	repaid_amount, collateral_before, collateral_after, borrowed_before, borrowed_after,
	liquidator_received, treasury_received,
	liquidation_price_multiplier AS "liquidation_price.multiplier",
	liquidation_price_decimals   AS "liquidation_price.decimals",
	price_multiplier             AS "price.multiplier",
	price_decimals               AS "price.decimals",
	timestamp_sec, created_at`

// LiquidationRepository persists liquidation history.
type LiquidationRepository struct {
	db *sqlx.DB
}

// NewLiquidationRepository creates a new LiquidationRepository.
func NewLiquidationRepository(db *sqlx.DB) *LiquidationRepository {
	return &LiquidationRepository{db: db}
}

// Create inserts l within tx.
func (r *LiquidationRepository) Create(ctx context.Context, tx *sqlx.Tx, l *domain.Liquidation) error {
	query := `
		INSERT INTO liquidations
			(id, pool_id, liquidated_account_id, liquidator_account_id, lend_token_id, collateral_token_id,
			 repaid_amount, collateral_before, collateral_after, borrowed_before, borrowed_after,
			 liquidator_received, treasury_received,
			 liquidation_price_multiplier, liquidation_price_decimals, price_multiplier, price_decimals,
			 timestamp_sec, created_at)
		VALUES
			(:id, :pool_id, :liquidated_account_id, :liquidator_account_id, :lend_token_id, :collateral_token_id,
			 :repaid_amount, :collateral_before, :collateral_after, :borrowed_before, :borrowed_after,
			 :liquidator_received, :treasury_received,
			 :liquidation_price.multiplier, :liquidation_price.decimals, :price.multiplier, :price.decimals,
			 :timestamp_sec, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, l); err != nil {
		return fmt.Errorf("liquidation_repo.Create: %w", err)
	}
	return nil
}

// ListByPool returns poolID's liquidations, newest first, plus the total count.
func (r *LiquidationRepository) ListByPool(ctx context.Context, poolID int64, limit, offset int) ([]*domain.Liquidation, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM liquidations WHERE pool_id = $1`, poolID); err != nil {
		return nil, 0, fmt.Errorf("liquidation_repo.ListByPool count: %w", err)
	}
	var out []*domain.Liquidation
	if err := r.db.SelectContext(ctx, &out,
		`SELECT `+liquidationColumns+` FROM liquidations WHERE pool_id = $1
		 ORDER BY timestamp_sec DESC, created_at DESC LIMIT $2 OFFSET $3`,
		poolID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("liquidation_repo.ListByPool select: %w", err)
	}
	return out, total, nil
}

// ListRecent returns the latest liquidations across all pools.
func (r *LiquidationRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Liquidation, error) {
	var out []*domain.Liquidation
	if err := r.db.SelectContext(ctx, &out,
		`SELECT `+liquidationColumns+` FROM liquidations ORDER BY created_at DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("liquidation_repo.ListRecent: %w", err)
	}
	return out, nil
}
