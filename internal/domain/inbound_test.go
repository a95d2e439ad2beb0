package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

func TestNewInboundTransfer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	in, err := domain.NewInboundTransfer("tx-1", 3, "alice", "usdc", domain.Amount(500), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), in.PoolID)
	assert.Equal(t, now, in.CreatedAt)

	same, err := domain.NewInboundTransfer("tx-1", 3, "alice", "usdc", domain.Amount(500), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, in.SamePayload(same))

	other, err := domain.NewInboundTransfer("tx-1", 3, "alice", "usdc", domain.Amount(501), now)
	require.NoError(t, err)
	assert.False(t, in.SamePayload(other))
}

func TestNewInboundTransfer_Rejects(t *testing.T) {
	now := time.Now()
	tooBig := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	cases := []struct {
		name    string
		key     string
		pool    int64
		sender  string
		token   string
		amount  *uint256.Int
		wantErr error
	}{
		{"empty key", "", 0, "a", "t", domain.Amount(1), domain.ErrInvalidRequest},
		{"long key", strings.Repeat("k", domain.MaxIdempotencyKeyLen+1), 0, "a", "t", domain.Amount(1), domain.ErrInvalidRequest},
		{"no sender", "k", 0, "", "t", domain.Amount(1), domain.ErrInvalidRequest},
		{"no token", "k", 0, "a", "", domain.Amount(1), domain.ErrInvalidRequest},
		{"negative pool", "k", -1, "a", "t", domain.Amount(1), domain.ErrInvalidRequest},
		{"zero amount", "k", 0, "a", "t", domain.Zero(), domain.ErrBelowMinimum},
		{"over 128 bits", "k", 0, "a", "t", tooBig, domain.ErrArithmeticOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.NewInboundTransfer(tc.key, tc.pool, tc.sender, tc.token, tc.amount, now)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
