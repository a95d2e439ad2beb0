package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TransferRepository is the outbound transfer outbox.
type TransferRepository struct {
	db *sqlx.DB
}

// NewTransferRepository creates a new TransferRepository.
func NewTransferRepository(db *sqlx.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create enqueues t within the tx that performed the ledger debit.
func (r *TransferRepository) Create(ctx context.Context, tx *sqlx.Tx, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers
			(id, pool_id, token_id, receiver_id, amount, reason, status, attempts, last_error, created_at, updated_at)
		VALUES
			(:id, :pool_id, :token_id, :receiver_id, :amount, :reason, :status, :attempts, :last_error, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("transfer_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a transfer.
func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	var t domain.Transfer
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM transfers WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("transfer_repo.GetByID: %w", err)
	}
	return &t, nil
}

// GetForUpdate locks one transfer row.
func (r *TransferRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Transfer, error) {
	var t domain.Transfer
	if err := tx.GetContext(ctx, &t, `SELECT * FROM transfers WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("transfer_repo.GetForUpdate: %w", err)
	}
	return &t, nil
}

// ClaimBatch locks up to limit unsettled transfers that still have attempts
// left. Rows locked by another dispatcher are skipped.
func (r *TransferRepository) ClaimBatch(ctx context.Context, tx *sqlx.Tx, limit, maxAttempts int) ([]*domain.Transfer, error) {
	var out []*domain.Transfer
	err := tx.SelectContext(ctx, &out, `
		SELECT * FROM transfers
		WHERE status IN ('pending','failed') AND attempts < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("transfer_repo.ClaimBatch: %w", err)
	}
	return out, nil
}

// ListExhausted returns failed transfers that ran out of attempts.
func (r *TransferRepository) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]*domain.Transfer, error) {
	var out []*domain.Transfer
	if err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM transfers
		WHERE status = 'failed' AND attempts >= $1
		ORDER BY created_at LIMIT $2`, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("transfer_repo.ListExhausted: %w", err)
	}
	return out, nil
}

// MarkSent records a confirmed delivery.
func (r *TransferRepository) MarkSent(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	return r.setStatus(ctx, tx, "transfer_repo.MarkSent", id, domain.TransferSent, nil)
}

// MarkFailed records a failed attempt.
func (r *TransferRepository) MarkFailed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, cause string) error {
	return r.setStatus(ctx, tx, "transfer_repo.MarkFailed", id, domain.TransferFailed, &cause)
}

func (r *TransferRepository) setStatus(ctx context.Context, tx *sqlx.Tx, op string, id uuid.UUID, status domain.TransferStatus, cause *string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transfers
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $3 AND status IN ('pending','failed')`,
		string(status), cause, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTransferSettled
	}
	return nil
}

// MarkCompensated settles an undeliverable transfer. The status guard makes a
// second compensation of the same row fail with ErrTransferSettled.
func (r *TransferRepository) MarkCompensated(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transfers
		SET status = 'compensated', updated_at = now()
		WHERE id = $1 AND status IN ('pending','failed')`, id)
	if err != nil {
		return fmt.Errorf("transfer_repo.MarkCompensated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTransferSettled
	}
	return nil
}

// ResetForRetry puts a failed transfer back in the queue with fresh attempts.
func (r *TransferRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers
		SET status = 'pending', attempts = 0, updated_at = now()
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("transfer_repo.ResetForRetry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTransferSettled
	}
	return nil
}

// ListByReceiver returns accountID's transfers, newest first.
func (r *TransferRepository) ListByReceiver(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	var out []*domain.Transfer
	if err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM transfers WHERE receiver_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset); err != nil {
		return nil, fmt.Errorf("transfer_repo.ListByReceiver: %w", err)
	}
	return out, nil
}

// List returns a page of transfers filtered by optional status, plus the
// total count. status="" returns all statuses.
func (r *TransferRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.Transfer, int, error) {
	var out []*domain.Transfer
	var total int
	if status != "" {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transfers WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("transfer_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &out,
			`SELECT * FROM transfers WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("transfer_repo.List select: %w", err)
		}
		return out, total, nil
	}
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM transfers`); err != nil {
		return nil, 0, fmt.Errorf("transfer_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM transfers ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("transfer_repo.List select: %w", err)
	}
	return out, total, nil
}

// CountBacklog returns the number of unsettled transfers.
func (r *TransferRepository) CountBacklog(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM transfers WHERE status IN ('pending','failed')`); err != nil {
		return 0, fmt.Errorf("transfer_repo.CountBacklog: %w", err)
	}
	return n, nil
}
