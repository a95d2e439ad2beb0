package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/jmoiron/sqlx"
)

// TokenRepository handles the supported-token registry.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Add registers t. It reports false when the token was already supported;
// the stored decimals are left untouched in that case.
func (r *TokenRepository) Add(ctx context.Context, t *domain.TokenInfo) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO tokens (token_id, decimals, created_at)
		VALUES (:token_id, :decimals, :created_at)
		ON CONFLICT (token_id) DO NOTHING`, t)
	if err != nil {
		return false, fmt.Errorf("token_repo.Add: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get fetches a supported token.
func (r *TokenRepository) Get(ctx context.Context, tokenID string) (*domain.TokenInfo, error) {
	var t domain.TokenInfo
	err := r.db.GetContext(ctx, &t, `SELECT token_id, decimals, created_at FROM tokens WHERE token_id = $1`, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTokenNotSupported, tokenID)
		}
		return nil, fmt.Errorf("token_repo.Get: %w", err)
	}
	return &t, nil
}

// List returns every supported token.
func (r *TokenRepository) List(ctx context.Context) ([]*domain.TokenInfo, error) {
	var tokens []*domain.TokenInfo
	if err := r.db.SelectContext(ctx, &tokens,
		`SELECT token_id, decimals, created_at FROM tokens ORDER BY token_id`); err != nil {
		return nil, fmt.Errorf("token_repo.List: %w", err)
	}
	return tokens, nil
}
