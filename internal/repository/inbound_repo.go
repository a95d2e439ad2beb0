package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/jmoiron/sqlx"
)

// InboundRepository stores gateway deposit notifications.
type InboundRepository struct {
	db *sqlx.DB
}

// NewInboundRepository creates a new InboundRepository.
func NewInboundRepository(db *sqlx.DB) *InboundRepository {
	return &InboundRepository{db: db}
}

// Insert records t inside the crediting tx. It reports false, without
// error, when the idempotency key is already recorded.
func (r *InboundRepository) Insert(ctx context.Context, tx *sqlx.Tx, t *domain.InboundTransfer) (bool, error) {
	query := `
		INSERT INTO inbound_transfers (id, idempotency_key, pool_id, sender_id, token_id, amount, created_at)
		VALUES (:id, :idempotency_key, :pool_id, :sender_id, :token_id, :amount, :created_at)
		ON CONFLICT (idempotency_key) DO NOTHING`
	res, err := tx.NamedExecContext(ctx, query, t)
	if err != nil {
		return false, fmt.Errorf("inbound_repo.Insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inbound_repo.Insert: rows: %w", err)
	}
	return n == 1, nil
}

// GetByKey fetches the record for an idempotency key.
func (r *InboundRepository) GetByKey(ctx context.Context, key string) (*domain.InboundTransfer, error) {
	var t domain.InboundTransfer
	err := r.db.GetContext(ctx, &t, `SELECT * FROM inbound_transfers WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inbound_repo.GetByKey: %w", err)
	}
	return &t, nil
}

// ListBySender returns the newest inbound transfers credited to accountID.
func (r *InboundRepository) ListBySender(ctx context.Context, accountID string, limit, offset int) ([]*domain.InboundTransfer, error) {
	out := make([]*domain.InboundTransfer, 0)
	if err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM inbound_transfers WHERE sender_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, accountID, limit, offset); err != nil {
		return nil, fmt.Errorf("inbound_repo.ListBySender: %w", err)
	}
	return out, nil
}
