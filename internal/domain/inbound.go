package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MaxIdempotencyKeyLen bounds the gateway-supplied deduplication key.
const MaxIdempotencyKeyLen = 128

// InboundTransfer records tokens the gateway has already received on behalf
// of the pool. Each row is written in the same transaction as the deposit it
// credits, so a key is credited at most once.
type InboundTransfer struct {
	ID             uuid.UUID    `json:"id"              db:"id"`
	IdempotencyKey string       `json:"idempotency_key" db:"idempotency_key"`
	PoolID         int64        `json:"pool_id"         db:"pool_id"`
	SenderID       string       `json:"sender_id"       db:"sender_id"`
	TokenID        string       `json:"token_id"        db:"token_id"`
	Amount         *uint256.Int `json:"amount"          db:"amount"`
	CreatedAt      time.Time    `json:"created_at"      db:"created_at"`
}

// NewInboundTransfer validates the notification fields and builds the record.
func NewInboundTransfer(key string, poolID int64, senderID, tokenID string, amount *uint256.Int, now time.Time) (*InboundTransfer, error) {
	switch {
	case key == "" || len(key) > MaxIdempotencyKeyLen:
		return nil, fmt.Errorf("%w: idempotency key must be 1..%d bytes", ErrInvalidRequest, MaxIdempotencyKeyLen)
	case senderID == "":
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	case tokenID == "":
		return nil, fmt.Errorf("%w: token is required", ErrInvalidRequest)
	case poolID < 0:
		return nil, fmt.Errorf("%w: pool id %d", ErrInvalidRequest, poolID)
	}
	if err := requirePositive(amount, "inbound transfer"); err != nil {
		return nil, err
	}
	return &InboundTransfer{
		ID:             uuid.New(),
		IdempotencyKey: key,
		PoolID:         poolID,
		SenderID:       senderID,
		TokenID:        tokenID,
		Amount:         amount.Clone(),
		CreatedAt:      now,
	}, nil
}

// SamePayload reports whether o describes the same transfer as t.
func (t *InboundTransfer) SamePayload(o *InboundTransfer) bool {
	return t.PoolID == o.PoolID && t.SenderID == o.SenderID &&
		t.TokenID == o.TokenID && t.Amount.Eq(o.Amount)
}
