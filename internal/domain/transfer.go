package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ──────────────────────────────────────────────────────────────────────────────
// Outbound transfers
// ──────────────────────────────────────────────────────────────────────────────

// TransferStatus is the lifecycle state of an outbound token transfer.
type TransferStatus string

const (
	TransferPending     TransferStatus = "pending"     // committed with the ledger change, not yet sent
	TransferSent        TransferStatus = "sent"        // gateway confirmed delivery
	TransferFailed      TransferStatus = "failed"      // last attempt failed, will be retried
	TransferCompensated TransferStatus = "compensated" // given up; amount re-credited to the pool position
)

// IsSettled reports whether the transfer needs no further work.
func (s TransferStatus) IsSettled() bool {
	return s == TransferSent || s == TransferCompensated
}

// TransferReason records which operation produced the transfer.
type TransferReason string

const (
	ReasonBorrow   TransferReason = "borrow"
	ReasonWithdraw TransferReason = "withdraw"
)

// Transfer is an outbox row: tokens owed to ReceiverID from pool PoolID.
// It is written in the same transaction as the ledger change, so a committed
// debit always has a matching transfer or compensation.
type Transfer struct {
	ID         uuid.UUID      `json:"id"          db:"id"`
	PoolID     int64          `json:"pool_id"     db:"pool_id"`
	TokenID    string         `json:"token_id"    db:"token_id"`
	ReceiverID string         `json:"receiver_id" db:"receiver_id"`
	Amount     *uint256.Int   `json:"amount"      db:"amount"`
	Reason     TransferReason `json:"reason"      db:"reason"`
	Status     TransferStatus `json:"status"      db:"status"`
	Attempts   int            `json:"attempts"    db:"attempts"`
	LastError  *string        `json:"last_error"  db:"last_error"`
	CreatedAt  time.Time      `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"  db:"updated_at"`
}

// NewTransfer builds a pending transfer.
func NewTransfer(poolID int64, tokenID, receiverID string, amount *uint256.Int, reason TransferReason, now time.Time) *Transfer {
	return &Transfer{
		ID:         uuid.New(),
		PoolID:     poolID,
		TokenID:    tokenID,
		ReceiverID: receiverID,
		Amount:     amount.Clone(),
		Reason:     reason,
		Status:     TransferPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IdempotencyKey is sent to the gateway so a retried delivery is not paid twice.
func (t *Transfer) IdempotencyKey() string { return t.ID.String() }
