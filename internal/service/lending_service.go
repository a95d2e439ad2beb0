package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface the services need from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastPoolUpdate(op string, info domain.PoolInfo)
	BroadcastLiquidation(l *domain.Liquidation)
	BroadcastPriceUpdate(d *domain.PriceData)
	BroadcastRiskAlert(alert domain.RiskAlert)
	BroadcastTransferStatus(t *domain.Transfer)
}

// Operation names used in logs, metrics and pool_update messages.
const (
	OpDeposit   = "deposit"
	OpBorrow    = "borrow"
	OpWithdraw  = "withdraw"
	OpRepay     = "repay"
	OpLiquidate = "liquidate"
	OpCredit    = "compensate"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// InboundTransferRequest is the gateway's report that SenderID has sent
// Amount of TokenID to the pool. It is the only way a deposit is credited.
type InboundTransferRequest struct {
	Role           domain.UserRole // of the reporting caller
	IdempotencyKey string
	PoolID         int64
	SenderID       string
	TokenID        string
	Amount         *uint256.Int
}

// InboundOutcome is the result of a reported inbound transfer. Duplicate is
// set when the key was already credited; Position is then nil.
type InboundOutcome struct {
	Inbound   *domain.InboundTransfer `json:"inbound"`
	Position  *domain.AccountDeposit  `json:"position,omitempty"`
	Duplicate bool                    `json:"duplicate"`
}

// BorrowRequest draws lend tokens against collateral.
type BorrowRequest struct {
	PoolID    int64
	AccountID string
	Amount    *uint256.Int
}

// WithdrawRequest removes lend or collateral tokens from a position.
type WithdrawRequest struct {
	PoolID    int64
	AccountID string
	TokenID   string
	Amount    *uint256.Int
}

// RepayRequest pays debt from the caller's lend deposit.
type RepayRequest struct {
	PoolID    int64
	AccountID string
	Amount    *uint256.Int
}

// LiquidateRequest repays part of TargetID's debt in exchange for collateral.
type LiquidateRequest struct {
	PoolID       int64
	LiquidatorID string
	TargetID     string
	Amount       *uint256.Int
}

// BorrowOutcome is the result of a committed borrow.
type BorrowOutcome struct {
	*domain.BorrowResult
	Transfer *domain.Transfer `json:"transfer,omitempty"`
}

// WithdrawOutcome is the result of a committed withdrawal.
type WithdrawOutcome struct {
	*domain.WithdrawResult
	Transfer *domain.Transfer `json:"transfer,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// LendingService
// ──────────────────────────────────────────────────────────────────────────────

// LendingService runs the ledger operations. Each one is a single
// PostgreSQL transaction that locks the pool row first, so operations on one
// pool are totally ordered while different pools proceed in parallel.
type LendingService struct {
	db           *sqlx.DB
	pools        *repository.PoolRepository
	accounts     *repository.AccountRepository
	liquidations *repository.LiquidationRepository
	transfers    *repository.TransferRepository
	inbound      *repository.InboundRepository
	tokens       *TokenService
	oracle       *OracleService
	cfg          *config.Config
	metrics      *metrics.Metrics
	log          *slog.Logger
	broadcaster  Broadcaster // injected after WS Hub is built
	now          func() time.Time
}

// NewLendingService creates a LendingService.
func NewLendingService(
	db *sqlx.DB,
	pools *repository.PoolRepository,
	accounts *repository.AccountRepository,
	liquidations *repository.LiquidationRepository,
	transfers *repository.TransferRepository,
	inbound *repository.InboundRepository,
	tokens *TokenService,
	oracle *OracleService,
	cfg *config.Config,
	m *metrics.Metrics,
	log *slog.Logger,
) *LendingService {
	if log == nil {
		log = slog.Default()
	}
	return &LendingService{
		db:           db,
		pools:        pools,
		accounts:     accounts,
		liquidations: liquidations,
		transfers:    transfers,
		inbound:      inbound,
		tokens:       tokens,
		oracle:       oracle,
		cfg:          cfg,
		metrics:      m,
		log:          log,
		now:          time.Now,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *LendingService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// errInboundSeen aborts the crediting tx when the idempotency key is
// already recorded.
var errInboundSeen = errors.New("inbound transfer already recorded")

// ReceiveTransfer credits tokens the gateway has received for req.SenderID.
// The inbound row and the deposit commit together. A repeated key returns
// the recorded transfer without crediting again, or ErrIdempotencyKeyReused
// when the payload differs. On any error nothing is credited and the gateway
// must return the tokens to the sender.
func (s *LendingService) ReceiveTransfer(ctx context.Context, req InboundTransferRequest) (*InboundOutcome, error) {
	if !req.Role.CanCreditDeposits() {
		return nil, fmt.Errorf("%w: role %q cannot credit deposits", domain.ErrForbidden, req.Role)
	}
	in, err := domain.NewInboundTransfer(req.IdempotencyKey, req.PoolID, req.SenderID, req.TokenID, req.Amount, s.now().UTC())
	if err != nil {
		return nil, err
	}

	out := InboundOutcome{Inbound: in}
	err = s.inPoolTx(ctx, OpDeposit, req.PoolID, []string{req.SenderID}, func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error {
		in.CreatedAt = now
		fresh, err := s.inbound.Insert(ctx, tx, in)
		if err != nil {
			return err
		}
		if !fresh {
			return errInboundSeen
		}
		if err := p.Deposit(req.SenderID, req.TokenID, req.Amount, now); err != nil {
			return err
		}
		a, err := p.Account(req.SenderID)
		if err != nil {
			return err
		}
		out.Position = a.Clone()
		return nil
	})
	if errors.Is(err, errInboundSeen) {
		return s.recordedInbound(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("inbound transfer credited",
		"pool_id", in.PoolID, "account", in.SenderID, "token", in.TokenID,
		"amount", in.Amount.Dec(), "key", in.IdempotencyKey)
	return &out, nil
}

func (s *LendingService) recordedInbound(ctx context.Context, in *domain.InboundTransfer) (*InboundOutcome, error) {
	prev, err := s.inbound.GetByKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("lending_service.ReceiveTransfer: load recorded: %w", err)
	}
	if !prev.SamePayload(in) {
		return nil, fmt.Errorf("%w: key %q", domain.ErrIdempotencyKeyReused, in.IdempotencyKey)
	}
	return &InboundOutcome{Inbound: prev, Duplicate: true}, nil
}

// InboundForAccount lists the deposits credited to accountID, newest first.
func (s *LendingService) InboundForAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.InboundTransfer, error) {
	return s.inbound.ListBySender(ctx, accountID, limit, offset)
}

// Borrow draws lend tokens for the caller and enqueues the outbound
// transfer in the same transaction.
func (s *LendingService) Borrow(ctx context.Context, req BorrowRequest) (*BorrowOutcome, error) {
	var out BorrowOutcome
	err := s.inPoolTx(ctx, OpBorrow, req.PoolID, []string{req.AccountID}, func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error {
		// ── a. Engine ────────────────────────────────────────────────────────
		res, err := p.Borrow(req.AccountID, req.Amount, s.oracle.Quote(ctx, p, s.tokens, now), now)
		if err != nil {
			return err
		}
		out.BorrowResult = res

		// ── b. Outbox ────────────────────────────────────────────────────────
		if sent := res.Sent(); !sent.IsZero() {
			out.Transfer = domain.NewTransfer(p.ID, p.LendTokenID, req.AccountID, sent, domain.ReasonBorrow, now)
			if err := s.transfers.Create(ctx, tx, out.Transfer); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res := out.BorrowResult; res.Capped {
		s.log.Info("borrow capped by collateral",
			"pool_id", req.PoolID, "account", req.AccountID,
			"requested", res.Requested.Dec(), "borrowed", res.Borrowed.Dec())
	}
	return &out, nil
}

// Withdraw removes tokens from the caller's position and enqueues the
// outbound transfer in the same transaction.
func (s *LendingService) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawOutcome, error) {
	var out WithdrawOutcome
	err := s.inPoolTx(ctx, OpWithdraw, req.PoolID, []string{req.AccountID}, func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error {
		res, err := p.Withdraw(req.AccountID, req.TokenID, req.Amount, s.oracle.Quote(ctx, p, s.tokens, now), now)
		if err != nil {
			return err
		}
		out.WithdrawResult = res
		out.Transfer = domain.NewTransfer(p.ID, res.TokenID, req.AccountID, res.Amount, domain.ReasonWithdraw, now)
		return s.transfers.Create(ctx, tx, out.Transfer)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Repay pays the caller's debt from its lend deposit.
func (s *LendingService) Repay(ctx context.Context, req RepayRequest) (*domain.RepayResult, error) {
	var out *domain.RepayResult
	err := s.inPoolTx(ctx, OpRepay, req.PoolID, []string{req.AccountID}, func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error {
		res, err := p.PayLoan(req.AccountID, req.Amount, now)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Liquidate repays part of an undercollateralised position with the
// liquidator's lend deposit. The seized collateral is split between the
// liquidator and the treasury account.
func (s *LendingService) Liquidate(ctx context.Context, req LiquidateRequest) (*domain.Liquidation, error) {
	treasury := s.cfg.Lending.TreasuryAccountID
	if req.TargetID == req.LiquidatorID {
		return nil, fmt.Errorf("%w: an account cannot liquidate itself", domain.ErrLiquidationNotEligible)
	}

	var record *domain.Liquidation
	ids := []string{req.TargetID, req.LiquidatorID, treasury}
	err := s.inPoolTx(ctx, OpLiquidate, req.PoolID, ids, func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error {
		l, err := p.Liquidate(domain.LiquidationRequest{
			TargetID:     req.TargetID,
			LiquidatorID: req.LiquidatorID,
			TreasuryID:   treasury,
			RepayAmount:  req.Amount,
			Marginal:     s.cfg.Lending.LiquidationMarginal,
		}, s.oracle.Quote(ctx, p, s.tokens, now), now)
		if err != nil {
			return err
		}
		record = l
		return s.liquidations.Create(ctx, tx, l)
	})
	if err != nil {
		return nil, err
	}

	seized := record.Seized()
	s.metrics.ObserveLiquidation(record.PoolID, seized.Float64())
	s.log.Info("liquidation executed",
		"pool_id", record.PoolID, "account", record.LiquidatedAccountID,
		"liquidator", record.LiquidatorAccountID, "amount", record.RepaidAmount.Dec(),
		"seized", seized.Dec())
	if s.broadcaster != nil {
		go s.broadcaster.BroadcastLiquidation(record)
	}
	return record, nil
}

// credit returns tokens to a position without the deposit minimum. Used by
// transfer compensation inside its own transaction.
func (s *LendingService) credit(ctx context.Context, tx *sqlx.Tx, poolID int64, accountID, tokenID string, amount *uint256.Int) (*domain.Pool, error) {
	p, err := s.pools.GetForUpdate(ctx, tx, poolID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.LoadForUpdate(ctx, tx, p, accountID); err != nil {
		return nil, err
	}
	if err := p.Credit(accountID, tokenID, amount, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.pools.Save(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := s.accounts.SaveAll(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Transaction skeleton
// ──────────────────────────────────────────────────────────────────────────────

// inPoolTx runs fn against pool poolID with accountIDs loaded, inside one
// transaction holding the pool row lock. The pool and every loaded position
// are written back before commit. Nothing is persisted when fn fails.
func (s *LendingService) inPoolTx(
	ctx context.Context,
	op string,
	poolID int64,
	accountIDs []string,
	fn func(tx *sqlx.Tx, p *domain.Pool, now time.Time) error,
) (err error) {
	started := time.Now()
	var info domain.PoolInfo
	defer func() {
		s.metrics.ObserveOperation(op, started, metricKind(err))
		if err == nil {
			s.afterCommit(op, info)
		}
	}()

	// ── 1. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lending_service.%s: begin tx: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 2. Lock the pool, then the positions ─────────────────────────────────
	p, err := s.pools.GetForUpdate(ctx, tx, poolID)
	if err != nil {
		return fmt.Errorf("lending_service.%s: lock pool: %w", op, err)
	}
	if err = s.accounts.LoadForUpdate(ctx, tx, p, accountIDs...); err != nil {
		return fmt.Errorf("lending_service.%s: lock accounts: %w", op, err)
	}

	// ── 3. Engine and side records ───────────────────────────────────────────
	if err = fn(tx, p, s.now().UTC()); err != nil {
		return fmt.Errorf("lending_service.%s: %w", op, err)
	}

	// ── 4. Write back ────────────────────────────────────────────────────────
	if err = s.pools.Save(ctx, tx, p); err != nil {
		return fmt.Errorf("lending_service.%s: save pool: %w", op, err)
	}
	if err = s.accounts.SaveAll(ctx, tx, p); err != nil {
		return fmt.Errorf("lending_service.%s: save accounts: %w", op, err)
	}

	// ── 5. Commit ────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("lending_service.%s: commit: %w", op, err)
	}
	info = p.Info()
	return nil
}

// afterCommit pushes the pool's new state to WS clients.
func (s *LendingService) afterCommit(op string, info domain.PoolInfo) {
	if s.broadcaster != nil {
		go s.broadcaster.BroadcastPoolUpdate(op, info)
	}
}

// metricKind labels err for the operation counters: "" on success, the
// rejection kind for engine refusals and "internal" for anything else.
func metricKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := domain.RejectionKind(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, errInboundSeen):
		return "duplicate"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsConflict(err):
		return "conflict"
	}
	return "internal"
}
