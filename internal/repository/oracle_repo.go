package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
)

// OracleRepository stores the latest price snapshot. Only one snapshot is
// kept; a push replaces the previous one entirely.
type OracleRepository struct {
	db *sqlx.DB
}

// NewOracleRepository creates a new OracleRepository.
func NewOracleRepository(db *sqlx.DB) *OracleRepository {
	return &OracleRepository{db: db}
}

type oracleStateRow struct {
	TimestampNs        int64 `db:"timestamp_ns"`
	RecencyDurationSec int64 `db:"recency_duration_sec"`
}

type oraclePriceRow struct {
	AssetID    string       `db:"asset_id"`
	Multiplier *uint256.Int `db:"multiplier"`
	Decimals   uint8        `db:"decimals"`
}

// Save replaces the stored snapshot with d.
func (r *OracleRepository) Save(ctx context.Context, d *domain.PriceData) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("oracle_repo.Save begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO oracle_state (id, timestamp_ns, recency_duration_sec, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			timestamp_ns         = EXCLUDED.timestamp_ns,
			recency_duration_sec = EXCLUDED.recency_duration_sec,
			updated_at           = now()`,
		d.Timestamp, int64(d.RecencyDurationSec)); err != nil {
		return fmt.Errorf("oracle_repo.Save state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM oracle_prices`); err != nil {
		return fmt.Errorf("oracle_repo.Save clear: %w", err)
	}
	for _, ap := range d.Prices {
		if ap.Price == nil {
			continue
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO oracle_prices (asset_id, multiplier, decimals) VALUES (:asset_id, :multiplier, :decimals)`,
			oraclePriceRow{AssetID: ap.AssetID, Multiplier: ap.Price.Multiplier, Decimals: ap.Price.Decimals}); err != nil {
			return fmt.Errorf("oracle_repo.Save price %s: %w", ap.AssetID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("oracle_repo.Save commit: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or ErrPriceUnavailable before the first push.
func (r *OracleRepository) Load(ctx context.Context) (*domain.PriceData, error) {
	var st oracleStateRow
	err := r.db.GetContext(ctx, &st, `SELECT timestamp_ns, recency_duration_sec FROM oracle_state WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no price data pushed yet", domain.ErrPriceUnavailable)
		}
		return nil, fmt.Errorf("oracle_repo.Load state: %w", err)
	}
	var rows []oraclePriceRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT asset_id, multiplier, decimals FROM oracle_prices ORDER BY asset_id`); err != nil {
		return nil, fmt.Errorf("oracle_repo.Load prices: %w", err)
	}
	d := &domain.PriceData{
		Timestamp:          st.TimestampNs,
		RecencyDurationSec: uint32(st.RecencyDurationSec),
		Prices:             make([]domain.AssetPrice, 0, len(rows)),
	}
	for _, row := range rows {
		p := domain.Price{Multiplier: row.Multiplier, Decimals: row.Decimals}
		d.Prices = append(d.Prices, domain.AssetPrice{AssetID: row.AssetID, Price: &p})
	}
	return d, nil
}
