package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// accountSelect joins the owning pool's token pair into each account row.
const accountSelect = `
	SELECT a.*, p.lend_token_id, p.collateral_token_id
	FROM account_deposits a
	JOIN pools p ON p.id = a.pool_id`

// AccountRepository handles all database operations for pool positions.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// LoadForUpdate locks the rows of accountIDs in poolID and attaches them to
// p.Accounts. Accounts without a row are simply absent. The pool row must
// already be locked by the same tx.
func (r *AccountRepository) LoadForUpdate(ctx context.Context, tx *sqlx.Tx, p *domain.Pool, accountIDs ...string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	var recs []*domain.AccountDepositRecord
	err := tx.SelectContext(ctx, &recs,
		accountSelect+` WHERE a.pool_id = $1 AND a.account_id = ANY($2) ORDER BY a.account_id FOR UPDATE OF a`,
		p.ID, pq.Array(accountIDs))
	if err != nil {
		return fmt.Errorf("account_repo.LoadForUpdate: %w", err)
	}
	if p.Accounts == nil {
		p.Accounts = make(map[string]*domain.AccountDeposit, len(recs))
	}
	for _, rec := range recs {
		a, err := rec.Upgrade()
		if err != nil {
			return fmt.Errorf("account_repo.LoadForUpdate: %w", err)
		}
		p.Accounts[a.AccountID] = a
	}
	return nil
}

// LoadAll attaches every position of p without locking. Used by read paths
// and the risk scan.
func (r *AccountRepository) LoadAll(ctx context.Context, p *domain.Pool) error {
	accounts, err := r.listWhere(ctx, "account_repo.LoadAll", ` WHERE a.pool_id = $1 ORDER BY a.account_id`, p.ID)
	if err != nil {
		return err
	}
	p.Accounts = make(map[string]*domain.AccountDeposit, len(accounts))
	for _, a := range accounts {
		p.Accounts[a.AccountID] = a
	}
	return nil
}

// LoadBorrowers attaches the positions of p that carry debt.
func (r *AccountRepository) LoadBorrowers(ctx context.Context, p *domain.Pool) error {
	accounts, err := r.listWhere(ctx, "account_repo.LoadBorrowers",
		` WHERE a.pool_id = $1 AND (a.borrow_amount > 0 OR a.unpaid_borrowing_interest > 0) ORDER BY a.account_id`, p.ID)
	if err != nil {
		return err
	}
	p.Accounts = make(map[string]*domain.AccountDeposit, len(accounts))
	for _, a := range accounts {
		p.Accounts[a.AccountID] = a
	}
	return nil
}

// Get fetches one position.
func (r *AccountRepository) Get(ctx context.Context, poolID int64, accountID string) (*domain.AccountDeposit, error) {
	var rec domain.AccountDepositRecord
	err := r.db.GetContext(ctx, &rec, accountSelect+` WHERE a.pool_id = $1 AND a.account_id = $2`, poolID, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s in pool %d", domain.ErrAccountNotFound, accountID, poolID)
		}
		return nil, fmt.Errorf("account_repo.Get: %w", err)
	}
	return rec.Upgrade()
}

// SaveAll upserts every position loaded on p at the current schema version.
func (r *AccountRepository) SaveAll(ctx context.Context, tx *sqlx.Tx, p *domain.Pool) error {
	for _, a := range p.Accounts {
		if err := r.Upsert(ctx, tx, a); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes one position.
func (r *AccountRepository) Upsert(ctx context.Context, tx *sqlx.Tx, a *domain.AccountDeposit) error {
	query := `
		INSERT INTO account_deposits
			(pool_id, account_id, schema_version, lend_deposit, collateral_deposit, borrow_amount,
			 lending_interest_profit_debt, unpaid_lending_interest_profit, total_lending_interest_profit,
			 last_lending_interest_update, unpaid_borrowing_interest, total_borrowing_interest,
			 last_borrowing_interest_update, ever_borrowed)
		VALUES
			(:pool_id, :account_id, :schema_version, :lend_deposit, :collateral_deposit, :borrow_amount,
			 :lending_interest_profit_debt, :unpaid_lending_interest_profit, :total_lending_interest_profit,
			 :last_lending_interest_update, :unpaid_borrowing_interest, :total_borrowing_interest,
			 :last_borrowing_interest_update, :ever_borrowed)
		ON CONFLICT (pool_id, account_id) DO UPDATE SET
			schema_version                 = EXCLUDED.schema_version,
			lend_deposit                   = EXCLUDED.lend_deposit,
			collateral_deposit             = EXCLUDED.collateral_deposit,
			borrow_amount                  = EXCLUDED.borrow_amount,
			lending_interest_profit_debt   = EXCLUDED.lending_interest_profit_debt,
			unpaid_lending_interest_profit = EXCLUDED.unpaid_lending_interest_profit,
			total_lending_interest_profit  = EXCLUDED.total_lending_interest_profit,
			last_lending_interest_update   = EXCLUDED.last_lending_interest_update,
			unpaid_borrowing_interest      = EXCLUDED.unpaid_borrowing_interest,
			total_borrowing_interest       = EXCLUDED.total_borrowing_interest,
			last_borrowing_interest_update = EXCLUDED.last_borrowing_interest_update,
			ever_borrowed                  = EXCLUDED.ever_borrowed`
	if _, err := tx.NamedExecContext(ctx, query, a.Record()); err != nil {
		return fmt.Errorf("account_repo.Upsert %s/%d: %w", a.AccountID, a.PoolID, err)
	}
	return nil
}

// ListByPool returns a page of positions in poolID plus the total count.
func (r *AccountRepository) ListByPool(ctx context.Context, poolID int64, limit, offset int) ([]*domain.AccountDeposit, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM account_deposits WHERE pool_id = $1`, poolID); err != nil {
		return nil, 0, fmt.Errorf("account_repo.ListByPool count: %w", err)
	}
	accounts, err := r.listWhere(ctx, "account_repo.ListByPool",
		` WHERE a.pool_id = $1 ORDER BY a.account_id LIMIT $2 OFFSET $3`, poolID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// ListByAccount returns accountID's position in every pool it has touched.
func (r *AccountRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.AccountDeposit, error) {
	return r.listWhere(ctx, "account_repo.ListByAccount", ` WHERE a.account_id = $1 ORDER BY a.pool_id`, accountID)
}

// DepositedPoolIDs returns the pools accountID holds a position in.
func (r *AccountRepository) DepositedPoolIDs(ctx context.Context, accountID string) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT pool_id FROM account_deposits WHERE account_id = $1 ORDER BY pool_id`, accountID); err != nil {
		return nil, fmt.Errorf("account_repo.DepositedPoolIDs: %w", err)
	}
	return ids, nil
}

// BorrowedPoolIDs returns the pools accountID has ever borrowed from.
func (r *AccountRepository) BorrowedPoolIDs(ctx context.Context, accountID string) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT pool_id FROM account_deposits WHERE account_id = $1 AND ever_borrowed ORDER BY pool_id`, accountID); err != nil {
		return nil, fmt.Errorf("account_repo.BorrowedPoolIDs: %w", err)
	}
	return ids, nil
}

// CountBorrowers returns the number of positions carrying debt across all pools.
func (r *AccountRepository) CountBorrowers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM account_deposits WHERE borrow_amount > 0 OR unpaid_borrowing_interest > 0`); err != nil {
		return 0, fmt.Errorf("account_repo.CountBorrowers: %w", err)
	}
	return n, nil
}

func (r *AccountRepository) listWhere(ctx context.Context, op, where string, args ...interface{}) ([]*domain.AccountDeposit, error) {
	var recs []*domain.AccountDepositRecord
	if err := r.db.SelectContext(ctx, &recs, accountSelect+where, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*domain.AccountDeposit, 0, len(recs))
	for _, rec := range recs {
		a, err := rec.Upgrade()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, a)
	}
	return out, nil
}
