package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
)

// PriceStore persists the latest oracle snapshot. Implemented by
// repository.OracleRepository.
type PriceStore interface {
	Save(ctx context.Context, d *domain.PriceData) error
	Load(ctx context.Context) (*domain.PriceData, error)
}

// PriceBroadcaster is the part of the WS hub the oracle needs.
type PriceBroadcaster interface {
	BroadcastPriceUpdate(d *domain.PriceData)
}

// ──────────────────────────────────────────────────────────────────────────────
// OracleService
// ──────────────────────────────────────────────────────────────────────────────

// OracleService owns the price snapshot used by every valuation. Feeders
// push snapshots; with ORACLE_SOURCE_URL set the scheduler also pulls them.
// The stored snapshot is cached for CacheTTL so hot paths skip the database.
type OracleService struct {
	store   PriceStore
	client  *http.Client
	cfg     *config.OracleConfig
	metrics *metrics.Metrics
	log     *slog.Logger

	mu        sync.RWMutex
	cached    *domain.PriceData
	cacheTime time.Time

	statusMu    sync.RWMutex
	lastPull    time.Time
	lastPullErr error

	broadcaster PriceBroadcaster
	now         func() time.Time
}

// NewOracleService constructs an OracleService from the given config.
func NewOracleService(store PriceStore, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) *OracleService {
	if log == nil {
		log = slog.Default()
	}
	return &OracleService{
		store:   store,
		client:  &http.Client{Timeout: cfg.Oracle.FetchTimeout},
		cfg:     &cfg.Oracle,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *OracleService) SetBroadcaster(b PriceBroadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// Push
// ──────────────────────────────────────────────────────────────────────────────

// Push validates and stores a snapshot published by a feeder.
func (s *OracleService) Push(ctx context.Context, role domain.UserRole, d *domain.PriceData) error {
	if !role.CanPushPrices() {
		return domain.ErrForbidden
	}
	return s.publish(ctx, d)
}

func (s *OracleService) publish(ctx context.Context, d *domain.PriceData) error {
	if d == nil {
		return fmt.Errorf("%w: empty body", domain.ErrInvalidPriceData)
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if err := s.store.Save(ctx, d); err != nil {
		return fmt.Errorf("oracle_service.publish: %w", err)
	}

	s.mu.Lock()
	s.cached = d
	s.cacheTime = s.now()
	s.mu.Unlock()

	s.observeAge(d)
	s.log.Debug("price data published", "assets", len(d.Prices), "expires_at", d.ExpiresAt().UTC())
	if s.broadcaster != nil {
		s.broadcaster.BroadcastPriceUpdate(d)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Current returns the latest snapshot, fresh or not. Staleness is decided
// per lookup by PriceData.Price.
func (s *OracleService) Current(ctx context.Context) (*domain.PriceData, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cacheTime) < s.cfg.CacheTTL {
		d := s.cached
		s.mu.RUnlock()
		return d, nil
	}
	s.mu.RUnlock()

	d, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cached = d
	s.cacheTime = s.now()
	s.mu.Unlock()
	s.observeAge(d)
	return d, nil
}

// Valuation resolves a pool's token pair against the current snapshot.
// Staleness is judged at now, the caller's operation time.
func (s *OracleService) Valuation(ctx context.Context, p *domain.Pool, lend, collateral domain.TokenInfo, now time.Time) (domain.Valuation, error) {
	d, err := s.Current(ctx)
	if err != nil {
		return domain.Valuation{}, err
	}
	return domain.ValuationFor(p, lend, collateral, d, now)
}

// Quote returns a lazy valuation for p. Operations that never need a price
// never touch the oracle.
func (s *OracleService) Quote(ctx context.Context, p *domain.Pool, tokens *TokenService, now time.Time) domain.Quote {
	return func() (domain.Valuation, error) {
		lend, coll, err := tokens.Pair(ctx, p)
		if err != nil {
			return domain.Valuation{}, err
		}
		return s.Valuation(ctx, p, lend, coll, now)
	}
}

// OracleStatus is the back-office view of the price feed.
type OracleStatus struct {
	HasData       bool       `json:"has_data"`
	Stale         bool       `json:"stale"`
	AgeSeconds    float64    `json:"age_seconds"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Assets        int        `json:"assets"`
	PullEnabled   bool       `json:"pull_enabled"`
	LastPull      *time.Time `json:"last_pull,omitempty"`
	LastPullError string     `json:"last_pull_error,omitempty"`
}

// Status summarises the current snapshot and the pull loop.
func (s *OracleService) Status(ctx context.Context) OracleStatus {
	st := OracleStatus{PullEnabled: s.cfg.SourceURL != ""}
	if d, err := s.Current(ctx); err == nil {
		now := s.now()
		exp := d.ExpiresAt().UTC()
		st.HasData = true
		st.Stale = d.IsStale(now)
		st.AgeSeconds = now.Sub(time.Unix(0, d.Timestamp)).Seconds()
		st.ExpiresAt = &exp
		st.Assets = len(d.Prices)
	}
	s.statusMu.RLock()
	if !s.lastPull.IsZero() {
		t := s.lastPull
		st.LastPull = &t
	}
	if s.lastPullErr != nil {
		st.LastPullError = s.lastPullErr.Error()
	}
	s.statusMu.RUnlock()
	return st
}

func (s *OracleService) observeAge(d *domain.PriceData) {
	s.metrics.SetOracleAge(s.now().Sub(time.Unix(0, d.Timestamp)))
}

// ──────────────────────────────────────────────────────────────────────────────
// Pull mode
// ──────────────────────────────────────────────────────────────────────────────

// PullEnabled reports whether a source URL is configured.
func (s *OracleService) PullEnabled() bool { return s.cfg.SourceURL != "" }

// Refresh fetches a snapshot from the configured source and publishes it.
//
//	GET <ORACLE_SOURCE_URL>
//	{"timestamp":1700000000000000000,"recency_duration_sec":90,
//	 "prices":[{"asset_id":"usdc.token","price":{"multiplier":"100000000","decimals":8}}]}
//
// A missing timestamp is taken as the fetch time and a missing window as
// ORACLE_DEFAULT_RECENCY_SEC.
func (s *OracleService) Refresh(ctx context.Context) error {
	if !s.PullEnabled() {
		return nil
	}
	d, err := s.fetch(ctx)
	if err == nil {
		err = s.publish(ctx, d)
	}

	s.statusMu.Lock()
	s.lastPull = s.now().UTC()
	s.lastPullErr = err
	s.statusMu.Unlock()

	if err != nil {
		return fmt.Errorf("oracle_service.Refresh: %w", err)
	}
	return nil
}

func (s *OracleService) fetch(ctx context.Context) (*domain.PriceData, error) {
	if s.client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.client.Timeout)
		defer cancel()
	}

	body, err := s.doGet(ctx, s.cfg.SourceURL)
	if err != nil {
		return nil, err
	}
	var d domain.PriceData
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", domain.ErrInvalidPriceData, err)
	}
	if len(d.Prices) == 0 {
		return nil, fmt.Errorf("%w: source returned no prices", domain.ErrInvalidPriceData)
	}
	if d.Timestamp == 0 {
		d.Timestamp = s.now().UnixNano()
	}
	if d.RecencyDurationSec == 0 {
		d.RecencyDurationSec = s.cfg.DefaultRecencySec
	}
	return &d, nil
}

// doGet performs an HTTP GET with the service's client and returns the body
// bytes, or an error for any non-200 status code.
func (s *OracleService) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "lendpool/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
