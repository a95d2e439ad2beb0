package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
)

// memTokenStore is an in-memory TokenStore that counts Get calls.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.TokenInfo
	gets   int64
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]domain.TokenInfo)}
}

func (m *memTokenStore) Add(_ context.Context, t *domain.TokenInfo) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.TokenID]; ok {
		return false, nil
	}
	m.tokens[t.TokenID] = *t
	return true, nil
}

func (m *memTokenStore) Get(_ context.Context, id string) (*domain.TokenInfo, error) {
	atomic.AddInt64(&m.gets, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenNotSupported, id)
	}
	return &t, nil
}

func (m *memTokenStore) List(_ context.Context) ([]*domain.TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.TokenInfo, 0, len(m.tokens))
	for _, t := range m.tokens {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func newTokenService(t *testing.T, store service.TokenStore) *service.TokenService {
	t.Helper()
	svc, err := service.NewTokenService(store, &config.Config{Lending: config.LendingConfig{TokenCacheSize: 8}})
	require.NoError(t, err)
	return svc
}

func TestTokenService_AddSkipsExisting(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(t, newMemTokenStore())

	added, err := svc.Add(ctx, []domain.TokenInfo{
		{TokenID: "usdc.test", Decimals: 6},
		{TokenID: " weth.test ", Decimals: 18},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"usdc.test", "weth.test"}, added)

	added, err = svc.Add(ctx, []domain.TokenInfo{
		{TokenID: "usdc.test", Decimals: 6},
		{TokenID: "dai.test", Decimals: 18},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dai.test"}, added)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTokenService_AddRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(t, newMemTokenStore())

	_, err := svc.Add(ctx, []domain.TokenInfo{{TokenID: "", Decimals: 6}})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = svc.Add(ctx, []domain.TokenInfo{{TokenID: "huge.test", Decimals: 77}})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenService_LookupIsCached(t *testing.T) {
	ctx := context.Background()
	store := newMemTokenStore()
	svc := newTokenService(t, store)
	_, err := svc.Add(ctx, []domain.TokenInfo{{TokenID: "usdc.test", Decimals: 6}})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		info, err := svc.Lookup(ctx, "usdc.test")
		require.NoError(t, err)
		assert.Equal(t, uint8(6), info.Decimals)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&store.gets))
}

func TestTokenService_UnknownToken(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(t, newMemTokenStore())

	_, err := svc.Lookup(ctx, "nope.test")
	assert.ErrorIs(t, err, domain.ErrTokenNotSupported)

	info, err := svc.Info(ctx, "nope.test")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTokenDecimals, info.Decimals)
}

func TestTokenService_Pair(t *testing.T) {
	ctx := context.Background()
	svc := newTokenService(t, newMemTokenStore())
	_, err := svc.Add(ctx, []domain.TokenInfo{{TokenID: "usdc.test", Decimals: 6}})
	require.NoError(t, err)

	p := &domain.Pool{LendTokenID: "usdc.test", CollateralTokenID: "weth.test"}
	lend, coll, err := svc.Pair(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), lend.Decimals)
	assert.Equal(t, domain.DefaultTokenDecimals, coll.Decimals)
}
