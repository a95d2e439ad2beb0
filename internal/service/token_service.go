package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
)

// TokenStore is the persistence TokenService needs. Implemented by
// repository.TokenRepository.
type TokenStore interface {
	Add(ctx context.Context, t *domain.TokenInfo) (bool, error)
	Get(ctx context.Context, tokenID string) (*domain.TokenInfo, error)
	List(ctx context.Context) ([]*domain.TokenInfo, error)
}

// TokenService is the registry of supported tokens. Decimals never change
// once a token is added, so lookups are cached without expiry.
type TokenService struct {
	store           TokenStore
	cache           *lru.Cache
	group           singleflight.Group
	defaultDecimals uint8
}

// NewTokenService creates a TokenService with an LRU of cfg.Lending.TokenCacheSize entries.
func NewTokenService(store TokenStore, cfg *config.Config) (*TokenService, error) {
	size := cfg.Lending.TokenCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("token_service: cache: %w", err)
	}
	dec := cfg.Lending.DefaultTokenDecimals
	if dec == 0 {
		dec = domain.DefaultTokenDecimals
	}
	return &TokenService{store: store, cache: cache, defaultDecimals: dec}, nil
}

// Lookup returns a supported token or ErrTokenNotSupported. Concurrent
// misses for the same token share one store query.
func (s *TokenService) Lookup(ctx context.Context, tokenID string) (domain.TokenInfo, error) {
	if v, ok := s.cache.Get(tokenID); ok {
		return v.(domain.TokenInfo), nil
	}
	v, err, _ := s.group.Do(tokenID, func() (interface{}, error) {
		t, err := s.store.Get(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		s.cache.Add(tokenID, *t)
		return *t, nil
	})
	if err != nil {
		return domain.TokenInfo{}, err
	}
	return v.(domain.TokenInfo), nil
}

// Info returns the token's info, or the default precision for tokens the
// registry does not know.
func (s *TokenService) Info(ctx context.Context, tokenID string) (domain.TokenInfo, error) {
	t, err := s.Lookup(ctx, tokenID)
	if errors.Is(err, domain.ErrTokenNotSupported) {
		return domain.TokenInfo{TokenID: tokenID, Decimals: s.defaultDecimals}, nil
	}
	return t, err
}

// Pair resolves both tokens of a pool.
func (s *TokenService) Pair(ctx context.Context, p *domain.Pool) (lend, collateral domain.TokenInfo, err error) {
	if lend, err = s.Info(ctx, p.LendTokenID); err != nil {
		return
	}
	collateral, err = s.Info(ctx, p.CollateralTokenID)
	return
}

// Add registers tokens. Already supported tokens are skipped; the result
// lists the ones actually added.
func (s *TokenService) Add(ctx context.Context, tokens []domain.TokenInfo) ([]string, error) {
	var added []string
	now := time.Now().UTC()
	for i := range tokens {
		t := tokens[i]
		t.TokenID = strings.TrimSpace(t.TokenID)
		if t.TokenID == "" {
			return added, fmt.Errorf("%w: empty token id", domain.ErrInvalidToken)
		}
		if _, err := domain.Pow10(t.Decimals); err != nil {
			return added, fmt.Errorf("%w: token %s decimals %d", domain.ErrInvalidToken, t.TokenID, t.Decimals)
		}
		t.CreatedAt = now
		ok, err := s.store.Add(ctx, &t)
		if err != nil {
			return added, fmt.Errorf("token_service.Add: %w", err)
		}
		if ok {
			added = append(added, t.TokenID)
			s.cache.Remove(t.TokenID)
		}
	}
	return added, nil
}

// List returns every supported token.
func (s *TokenService) List(ctx context.Context) ([]*domain.TokenInfo, error) {
	return s.store.List(ctx)
}
