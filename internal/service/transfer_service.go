package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Gateway
// ──────────────────────────────────────────────────────────────────────────────

// TransferGateway delivers tokens to a receiver outside the ledger.
type TransferGateway interface {
	Send(ctx context.Context, t *domain.Transfer) error
}

// ErrPermanentTransfer marks a delivery the gateway refused outright.
// Such transfers are compensated without further attempts.
var ErrPermanentTransfer = errors.New("transfer rejected by gateway")

// IdempotencyHeader carries Transfer.IdempotencyKey on every delivery.
const IdempotencyHeader = "Idempotency-Key"

// HTTPGateway posts transfers as JSON to a token custody service.
type HTTPGateway struct {
	client *http.Client
	url    string
}

// NewHTTPGateway returns nil when no gateway URL is configured.
func NewHTTPGateway(cfg *config.Config) *HTTPGateway {
	if cfg.Transfer.GatewayURL == "" {
		return nil
	}
	return &HTTPGateway{
		client: &http.Client{Timeout: cfg.Transfer.RequestTimeout},
		url:    cfg.Transfer.GatewayURL,
	}
}

type transferPayload struct {
	TransferID uuid.UUID    `json:"transfer_id"`
	PoolID     int64        `json:"pool_id"`
	TokenID    string       `json:"token_id"`
	ReceiverID string       `json:"receiver_id"`
	Amount     *uint256.Int `json:"amount"`
}

// Send posts t. 2xx is a delivery; 4xx other than 408 and 429 is permanent.
//
//	POST <TRANSFER_GATEWAY_URL>
//	Idempotency-Key: <transfer id>
//	{"transfer_id":"…","pool_id":0,"token_id":"usdc.token","receiver_id":"…","amount":"1000000"}
func (g *HTTPGateway) Send(ctx context.Context, t *domain.Transfer) error {
	body, err := json.Marshal(transferPayload{
		TransferID: t.ID,
		PoolID:     t.PoolID,
		TokenID:    t.TokenID,
		ReceiverID: t.ReceiverID,
		Amount:     t.Amount,
	})
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "lendpool/1.0")
	req.Header.Set(IdempotencyHeader, t.IdempotencyKey())

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", ErrPermanentTransfer, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return fmt.Errorf("gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}

// ──────────────────────────────────────────────────────────────────────────────
// TransferService
// ──────────────────────────────────────────────────────────────────────────────

// DispatchStats summarises one dispatch batch.
type DispatchStats struct {
	Claimed     int `json:"claimed"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Compensated int `json:"compensated"`
}

// TransferService drains the transfer outbox. Rows are committed with the
// ledger debit that owes them; a row that cannot be delivered is
// compensated by crediting the amount back to the receiver's position.
type TransferService struct {
	db          *sqlx.DB
	transfers   *repository.TransferRepository
	lending     *LendingService
	gateway     TransferGateway
	cfg         *config.TransferConfig
	metrics     *metrics.Metrics
	log         *slog.Logger
	broadcaster Broadcaster
}

// NewTransferService creates a TransferService. gateway may be nil, in which
// case transfers stay pending until an operator compensates them.
func NewTransferService(
	db *sqlx.DB,
	transfers *repository.TransferRepository,
	lending *LendingService,
	gateway TransferGateway,
	cfg *config.Config,
	m *metrics.Metrics,
	log *slog.Logger,
) *TransferService {
	if log == nil {
		log = slog.Default()
	}
	return &TransferService{
		db:        db,
		transfers: transfers,
		lending:   lending,
		gateway:   gateway,
		cfg:       &cfg.Transfer,
		metrics:   m,
		log:       log,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *TransferService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// GatewayEnabled reports whether DispatchBatch can deliver anything.
func (s *TransferService) GatewayEnabled() bool { return s.gateway != nil }

// DispatchBatch claims up to BatchSize undelivered transfers, attempts each
// one and compensates those that are out of attempts.
func (s *TransferService) DispatchBatch(ctx context.Context) (stats DispatchStats, err error) {
	if s.gateway == nil {
		return stats, nil
	}

	// ── 1. Claim ─────────────────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("transfer_service.DispatchBatch: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	batch, err := s.transfers.ClaimBatch(ctx, tx, s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return stats, fmt.Errorf("transfer_service.DispatchBatch: %w", err)
	}
	stats.Claimed = len(batch)

	// ── 2. Deliver ───────────────────────────────────────────────────────────
	var giveUp []uuid.UUID
	for _, t := range batch {
		sendErr := s.gateway.Send(ctx, t)
		t.Attempts++
		if sendErr == nil {
			if err = s.transfers.MarkSent(ctx, tx, t.ID); err != nil {
				return stats, fmt.Errorf("transfer_service.DispatchBatch: %w", err)
			}
			t.Status = domain.TransferSent
			stats.Sent++
			s.metrics.ObserveDispatch("sent")
			continue
		}
		cause := sendErr.Error()
		if err = s.transfers.MarkFailed(ctx, tx, t.ID, cause); err != nil {
			return stats, fmt.Errorf("transfer_service.DispatchBatch: %w", err)
		}
		t.Status = domain.TransferFailed
		t.LastError = &cause
		stats.Failed++
		s.metrics.ObserveDispatch("failed")
		s.log.Warn("transfer delivery failed", "transfer_id", t.ID, "attempt", t.Attempts, "err", sendErr)
		if errors.Is(sendErr, ErrPermanentTransfer) || t.Attempts >= s.cfg.MaxAttempts {
			giveUp = append(giveUp, t.ID)
		}
	}

	// ── 3. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return stats, fmt.Errorf("transfer_service.DispatchBatch: commit: %w", err)
	}
	for _, t := range batch {
		s.notify(t)
	}

	// ── 4. Compensate the exhausted ones ─────────────────────────────────────
	for _, id := range giveUp {
		if _, cerr := s.Compensate(ctx, id); cerr != nil {
			s.log.Error("transfer compensation failed", "transfer_id", id, "err", cerr)
			continue
		}
		stats.Compensated++
	}
	s.RefreshBacklog(ctx)
	return stats, nil
}

// Compensate settles an undeliverable transfer by crediting its amount back
// to the receiver's position in the same pool. A transfer can be
// compensated at most once; later calls fail with ErrTransferSettled.
func (s *TransferService) Compensate(ctx context.Context, id uuid.UUID) (t *domain.Transfer, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(OpCredit, started, metricKind(err)) }()

	// ── 1. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("transfer_service.Compensate: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 2. Lock the transfer ─────────────────────────────────────────────────
	t, err = s.transfers.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("transfer_service.Compensate: %w", err)
	}
	if t.Status.IsSettled() {
		return nil, fmt.Errorf("transfer_service.Compensate: %w: %s is %s", domain.ErrTransferSettled, id, t.Status)
	}

	// ── 3. Credit the pool position ──────────────────────────────────────────
	p, err := s.lending.credit(ctx, tx, t.PoolID, t.ReceiverID, t.TokenID, t.Amount)
	if err != nil {
		return nil, fmt.Errorf("transfer_service.Compensate: credit: %w", err)
	}

	// ── 4. Settle the row ────────────────────────────────────────────────────
	if err = s.transfers.MarkCompensated(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("transfer_service.Compensate: %w", err)
	}

	// ── 5. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("transfer_service.Compensate: commit: %w", err)
	}

	t.Status = domain.TransferCompensated
	s.metrics.ObserveDispatch("compensated")
	s.log.Info("transfer compensated",
		"transfer_id", id, "pool_id", t.PoolID, "account", t.ReceiverID, "amount", t.Amount.Dec())
	s.notify(t)
	s.lending.afterCommit(OpCredit, p.Info())
	return t, nil
}

// Retry puts a failed transfer back in the queue with its attempts reset.
func (s *TransferService) Retry(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	if err := s.transfers.ResetForRetry(ctx, id); err != nil {
		return nil, fmt.Errorf("transfer_service.Retry: %w", err)
	}
	return s.transfers.GetByID(ctx, id)
}

// Get returns one transfer.
func (s *TransferService) Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return s.transfers.GetByID(ctx, id)
}

// List returns a page of transfers, optionally filtered by status.
func (s *TransferService) List(ctx context.Context, status string, limit, offset int) ([]*domain.Transfer, int, error) {
	if status != "" {
		switch domain.TransferStatus(status) {
		case domain.TransferPending, domain.TransferSent, domain.TransferFailed, domain.TransferCompensated:
		default:
			return nil, 0, fmt.Errorf("%w: unknown transfer status %q", domain.ErrInvalidRequest, status)
		}
	}
	return s.transfers.List(ctx, status, limit, offset)
}

// ListForAccount returns the transfers owed to accountID, newest first.
func (s *TransferService) ListForAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	return s.transfers.ListByReceiver(ctx, accountID, limit, offset)
}

// Backlog returns the number of pending transfers.
func (s *TransferService) Backlog(ctx context.Context) (int, error) {
	return s.transfers.CountBacklog(ctx)
}

// RefreshBacklog updates the outbox backlog gauge.
func (s *TransferService) RefreshBacklog(ctx context.Context) {
	n, err := s.Backlog(ctx)
	if err != nil {
		s.log.Warn("transfer backlog count failed", "err", err)
		return
	}
	s.metrics.SetTransferBacklog(n)
}

func (s *TransferService) notify(t *domain.Transfer) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastTransferStatus(t)
	}
}
