package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
)

// Both checks run before the pool transaction, so no database is needed.
func TestReceiveTransfer_RejectsBeforeTouchingTheLedger(t *testing.T) {
	s := NewLendingService(nil, nil, nil, nil, nil, nil, nil, nil, &config.Config{}, nil, nil)
	ctx := context.Background()

	for _, role := range []domain.UserRole{domain.RoleUser, domain.RoleAdmin, domain.RolePriceFeeder, ""} {
		_, err := s.ReceiveTransfer(ctx, InboundTransferRequest{
			Role: role, IdempotencyKey: "k", SenderID: "mallory", TokenID: "usdc",
			Amount: domain.Amount(1_000_000_000_000),
		})
		assert.ErrorIs(t, err, domain.ErrForbidden, role)
	}

	_, err := s.ReceiveTransfer(ctx, InboundTransferRequest{
		Role: domain.RoleTokenReceiver, SenderID: "alice", TokenID: "usdc", Amount: domain.Amount(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
