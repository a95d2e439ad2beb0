// Package domain defines the lending pool ledger: pools, per-account
// positions, the interest accrual model and the liquidation algorithm.
//
// Every mutating Pool method is all-or-nothing: on error the pool and all of
// its loaded accounts are restored to their state before the call.
package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ──────────────────────────────────────────────────────────────────────────────
// Pool parameters
// ──────────────────────────────────────────────────────────────────────────────

// Defaults applied when a pool is created without explicit parameters.
const (
	DefaultMinCollateralRatio  uint64 = 15000 // 150%
	DefaultMaxUtilization      uint64 = 9000  // 90%
	DefaultFixedInterestRate   uint64 = 1000  // 10% per year
	DefaultLiquidationBonus    uint64 = 1000  // 10% discount
	DefaultLiquidationMarginal uint64 = 5000  // treasury share of the bonus
)

// PoolParams are the creation inputs for a pool.
type PoolParams struct {
	OwnerID            string
	LendTokenID        string
	CollateralTokenID  string
	MinCollateralRatio uint64
	MaxUtilization     uint64
	MinLendDeposit     *uint256.Int
	MinLendBorrow      *uint256.Int
	FixedInterestRate  uint64
	LiquidationBonus   uint64
}

// DefaultPoolParams returns params with every risk setting at its default.
func DefaultPoolParams(owner, lendTokenID, collateralTokenID string) PoolParams {
	return PoolParams{
		OwnerID:            owner,
		LendTokenID:        lendTokenID,
		CollateralTokenID:  collateralTokenID,
		MinCollateralRatio: DefaultMinCollateralRatio,
		MaxUtilization:     DefaultMaxUtilization,
		MinLendDeposit:     Zero(),
		MinLendBorrow:      Zero(),
		FixedInterestRate:  DefaultFixedInterestRate,
		LiquidationBonus:   DefaultLiquidationBonus,
	}
}

// Validate checks the params describe a usable pool.
func (pp PoolParams) Validate() error {
	switch {
	case pp.LendTokenID == "" || pp.CollateralTokenID == "":
		return fmt.Errorf("%w: token ids are required", ErrInvalidPoolParams)
	case pp.LendTokenID == pp.CollateralTokenID:
		return fmt.Errorf("%w: lend and collateral tokens must be different", ErrInvalidPoolParams)
	case pp.MinCollateralRatio == 0:
		return fmt.Errorf("%w: min collateral ratio must be positive", ErrInvalidPoolParams)
	case pp.MaxUtilization > UtilizationDivisor:
		return fmt.Errorf("%w: max utilization %d exceeds %d", ErrInvalidPoolParams, pp.MaxUtilization, UtilizationDivisor)
	case pp.LiquidationBonus >= LiquidationBonusDivisor:
		return fmt.Errorf("%w: liquidation bonus %d must be below %d", ErrInvalidPoolParams, pp.LiquidationBonus, LiquidationBonusDivisor)
	}
	if err := fits(orZero(pp.MinLendDeposit)); err != nil {
		return err
	}
	return fits(orZero(pp.MinLendBorrow))
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool
// ──────────────────────────────────────────────────────────────────────────────

// Pool is one lend/collateral token pair with its accrual cursor, aggregates
// and the account positions loaded for the current operation.
type Pool struct {
	ID                 int64  `json:"pool_id"`
	OwnerID            string `json:"owner_id"`
	LendTokenID        string `json:"lend_token_id"`
	CollateralTokenID  string `json:"collateral_token_id"`
	MinCollateralRatio uint64 `json:"min_cr"`
	MaxUtilization     uint64 `json:"max_utilization"`
	FixedInterestRate  uint64 `json:"fixed_interest_rate"`
	LiquidationBonus   uint64 `json:"liquidation_bonus"`

	MinLendDeposit *uint256.Int `json:"min_lend_token_deposit"`
	MinLendBorrow  *uint256.Int `json:"min_lend_token_borrow"`

	TotalLendAssetDeposit  *uint256.Int `json:"total_lend_asset_deposit"`
	TotalCollateralDeposit *uint256.Int `json:"total_collateral_deposit"`
	TotalBorrow            *uint256.Int `json:"total_borrow"`

	AccInterestPerShare  *uint256.Int `json:"acc_interest_per_share"`
	LastAccrualTimestamp int64        `json:"last_acc_interest_update_timestamp_sec"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Accounts holds the positions loaded for this pool, keyed by account id.
	Accounts map[string]*AccountDeposit `json:"-"`
}

// NewPool builds an empty pool from validated params.
func NewPool(id int64, pp PoolParams, now time.Time) (*Pool, error) {
	if err := pp.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		ID:                     id,
		OwnerID:                pp.OwnerID,
		LendTokenID:            pp.LendTokenID,
		CollateralTokenID:      pp.CollateralTokenID,
		MinCollateralRatio:     pp.MinCollateralRatio,
		MaxUtilization:         pp.MaxUtilization,
		FixedInterestRate:      pp.FixedInterestRate,
		LiquidationBonus:       pp.LiquidationBonus,
		MinLendDeposit:         orZero(pp.MinLendDeposit).Clone(),
		MinLendBorrow:          orZero(pp.MinLendBorrow).Clone(),
		TotalLendAssetDeposit:  Zero(),
		TotalCollateralDeposit: Zero(),
		TotalBorrow:            Zero(),
		AccInterestPerShare:    Zero(),
		LastAccrualTimestamp:   now.Unix(),
		CreatedAt:              now,
		UpdatedAt:              now,
		Accounts:               make(map[string]*AccountDeposit),
	}, nil
}

// Account returns the loaded position of accountID.
func (p *Pool) Account(accountID string) (*AccountDeposit, error) {
	a, ok := p.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in pool %d", ErrAccountNotFound, accountID, p.ID)
	}
	return a, nil
}

// Register returns accountID's position, creating an empty one if needed.
func (p *Pool) Register(accountID string) *AccountDeposit {
	if p.Accounts == nil {
		p.Accounts = make(map[string]*AccountDeposit)
	}
	if a, ok := p.Accounts[accountID]; ok {
		return a
	}
	a := NewAccountDeposit(p.ID, accountID, p.LendTokenID, p.CollateralTokenID)
	p.Accounts[accountID] = a
	return a
}

// clone deep-copies the pool and its loaded accounts.
func (p *Pool) clone() *Pool {
	c := *p
	c.MinLendDeposit = orZero(p.MinLendDeposit).Clone()
	c.MinLendBorrow = orZero(p.MinLendBorrow).Clone()
	c.TotalLendAssetDeposit = orZero(p.TotalLendAssetDeposit).Clone()
	c.TotalCollateralDeposit = orZero(p.TotalCollateralDeposit).Clone()
	c.TotalBorrow = orZero(p.TotalBorrow).Clone()
	c.AccInterestPerShare = orZero(p.AccInterestPerShare).Clone()
	c.Accounts = make(map[string]*AccountDeposit, len(p.Accounts))
	for k, a := range p.Accounts {
		c.Accounts[k] = a.Clone()
	}
	return &c
}

// atomically runs fn and rolls every pool and account field back if it fails.
func (p *Pool) atomically(fn func() error) error {
	snapshot := p.clone()
	if err := fn(); err != nil {
		*p = *snapshot
		return err
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Interest accrual
// ──────────────────────────────────────────────────────────────────────────────

// CurrentAccInterestPerShare returns the cursor as of now without committing:
//
//	generated = total_borrow * elapsed * rate / (SECONDS_PER_YEAR * 10000)
//	acc      += generated * 1e8 / total_lend
//
// With no lend deposits there is nothing to distribute and the cursor is
// returned unchanged.
func (p *Pool) CurrentAccInterestPerShare(now int64) (*uint256.Int, error) {
	acc := orZero(p.AccInterestPerShare)
	totalLend := orZero(p.TotalLendAssetDeposit)
	totalBorrow := orZero(p.TotalBorrow)
	if totalLend.IsZero() || totalBorrow.IsZero() {
		return acc.Clone(), nil
	}
	elapsed := elapsedSec(p.LastAccrualTimestamp, now)
	generated, err := mulDiv(
		[]*uint256.Int{totalBorrow, uint256.NewInt(elapsed), uint256.NewInt(p.FixedInterestRate)},
		[]*uint256.Int{uint256.NewInt(SecondsPerYear), uint256.NewInt(InterestRateDivisor)},
	)
	if err != nil {
		return nil, err
	}
	increment, err := mulDiv(
		[]*uint256.Int{generated, uint256.NewInt(AccInterestPerShareMultiplier)},
		[]*uint256.Int{totalLend},
	)
	if err != nil {
		return nil, err
	}
	return add(acc, increment)
}

// updateAccInterestPerShare commits the cursor and advances its timestamp.
// The timestamp never moves backwards.
func (p *Pool) updateAccInterestPerShare(now int64) error {
	acc, err := p.CurrentAccInterestPerShare(now)
	if err != nil {
		return err
	}
	p.AccInterestPerShare = acc
	if now > p.LastAccrualTimestamp {
		p.LastAccrualTimestamp = now
	}
	return nil
}

// settleAccount advances the cursor and brings a's accrual fields up to now.
func (p *Pool) settleAccount(a *AccountDeposit, now int64) error {
	return a.settle(p.FixedInterestRate, p.AccInterestPerShare, now)
}

// Settle advances the cursor and settles accountID. Running it twice at the
// same instant changes nothing the second time.
func (p *Pool) Settle(accountID string, now time.Time) error {
	return p.atomically(func() error {
		ts := now.Unix()
		a, err := p.Account(accountID)
		if err != nil {
			return err
		}
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		return p.settleAccount(a, ts)
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Invariant checks
// ──────────────────────────────────────────────────────────────────────────────

// utilizationCap returns total_lend * max_utilization / 10000.
func (p *Pool) utilizationCap() (*uint256.Int, error) {
	return mulDiv(
		[]*uint256.Int{orZero(p.TotalLendAssetDeposit), uint256.NewInt(p.MaxUtilization)},
		[]*uint256.Int{uint256.NewInt(UtilizationDivisor)},
	)
}

func (p *Pool) checkUtilization() error {
	limit, err := p.utilizationCap()
	if err != nil {
		return err
	}
	if orZero(p.TotalBorrow).Gt(limit) {
		return fmt.Errorf("%w: total borrow %s, allowed %s at %d/%d",
			ErrUtilizationExceeded, p.TotalBorrow.Dec(), limit.Dec(), p.MaxUtilization, UtilizationDivisor)
	}
	return nil
}

func (p *Pool) checkCollateralRatio(a *AccountDeposit, v Valuation, now int64, adj CRAdjustment) error {
	cr, err := a.ProjectedCR(v, p.FixedInterestRate, now, adj)
	if err != nil {
		return err
	}
	if cr < p.MinCollateralRatio {
		return fmt.Errorf("%w: ratio %d, required %d", ErrCollateralRatioViolation, cr, p.MinCollateralRatio)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// Quote resolves the pool's valuation on demand. Operations that never need
// prices do not call it, so a stale feed does not block them.
type Quote func() (Valuation, error)

// FixedQuote returns a Quote that always yields v.
func FixedQuote(v Valuation) Quote {
	return func() (Valuation, error) { return v, nil }
}

func requirePositive(amount *uint256.Int, op string) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: %s amount must be positive", ErrBelowMinimum, op)
	}
	return fits(amount)
}

// Deposit credits amount of tokenID to accountID. Lend-token deposits must
// meet the pool minimum; the account is registered on first deposit.
func (p *Pool) Deposit(accountID, tokenID string, amount *uint256.Int, now time.Time) error {
	if tokenID == p.LendTokenID && amount.Lt(orZero(p.MinLendDeposit)) {
		return fmt.Errorf("%w: deposit %s, minimum %s", ErrBelowMinimum, amount.Dec(), p.MinLendDeposit.Dec())
	}
	return p.credit(accountID, tokenID, amount, now)
}

// Credit is Deposit without the minimum check. It returns tokens to an
// account after a failed outbound transfer.
func (p *Pool) Credit(accountID, tokenID string, amount *uint256.Int, now time.Time) error {
	return p.credit(accountID, tokenID, amount, now)
}

func (p *Pool) credit(accountID, tokenID string, amount *uint256.Int, now time.Time) error {
	if tokenID != p.LendTokenID && tokenID != p.CollateralTokenID {
		return fmt.Errorf("%w: %s (pool %d trades %s/%s)", ErrInvalidToken, tokenID, p.ID, p.LendTokenID, p.CollateralTokenID)
	}
	if err := fits(amount); err != nil {
		return err
	}
	return p.atomically(func() error {
		ts := now.Unix()
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		a := p.Register(accountID)
		if err := p.settleAccount(a, ts); err != nil {
			return err
		}
		var err error
		if tokenID == p.LendTokenID {
			if err = a.addLendDeposit(amount, p.AccInterestPerShare); err != nil {
				return err
			}
			p.TotalLendAssetDeposit, err = add(orZero(p.TotalLendAssetDeposit), amount)
			return err
		}
		if err = a.addCollateral(amount); err != nil {
			return err
		}
		p.TotalCollateralDeposit, err = add(orZero(p.TotalCollateralDeposit), amount)
		return err
	})
}

// BorrowResult reports how a borrow request was filled. Capped is set when
// the collateral limit reduced the newly drawn principal.
type BorrowResult struct {
	Requested   *uint256.Int `json:"requested"`
	FromDeposit *uint256.Int `json:"from_deposit"`
	Borrowed    *uint256.Int `json:"borrowed"`
	Capped      bool         `json:"capped"`
}

// Sent is the amount of lend token owed to the borrower.
func (r *BorrowResult) Sent() *uint256.Int {
	return new(uint256.Int).Add(r.FromDeposit, r.Borrowed)
}

// Borrow draws amount of lend token for accountID. The account's idle lend
// deposit is consumed first; the rest becomes principal, silently capped at
// the collateral limit.
func (p *Pool) Borrow(accountID string, amount *uint256.Int, quote Quote, now time.Time) (*BorrowResult, error) {
	if err := requirePositive(amount, "borrow"); err != nil {
		return nil, err
	}
	if amount.Lt(orZero(p.MinLendBorrow)) {
		return nil, fmt.Errorf("%w: borrow %s, minimum %s", ErrBelowMinimum, amount.Dec(), p.MinLendBorrow.Dec())
	}
	var res *BorrowResult
	err := p.atomically(func() error {
		ts := now.Unix()
		v, err := quote()
		if err != nil {
			return err
		}
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		a := p.Register(accountID)
		if err := p.settleAccount(a, ts); err != nil {
			return err
		}

		fromDeposit := minAmount(a.LendDeposit(), amount)
		if !fromDeposit.IsZero() {
			if err := a.reduceLendDeposit(fromDeposit, p.AccInterestPerShare); err != nil {
				return err
			}
		}
		draw := new(uint256.Int).Sub(amount, fromDeposit)

		maxBorrowable, err := a.ComputeMaxBorrowable(v, nil, p.FixedInterestRate, p.MinCollateralRatio, ts)
		if err != nil {
			return err
		}
		granted := minAmount(draw, maxBorrowable)

		if a.BorrowAmount, err = add(orZero(a.BorrowAmount), granted); err != nil {
			return err
		}
		if !granted.IsZero() {
			a.EverBorrowed = true
		}
		if !a.BorrowAmount.IsZero() {
			if err := p.checkCollateralRatio(a, v, ts, CRAdjustment{}); err != nil {
				return err
			}
		}

		if p.TotalLendAssetDeposit, err = sub(orZero(p.TotalLendAssetDeposit), fromDeposit); err != nil {
			return err
		}
		if p.TotalBorrow, err = add(orZero(p.TotalBorrow), granted); err != nil {
			return err
		}
		if err := p.checkUtilization(); err != nil {
			return err
		}

		res = &BorrowResult{
			Requested:   amount.Clone(),
			FromDeposit: fromDeposit,
			Borrowed:    granted,
			Capped:      granted.Lt(draw),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WithdrawResult splits a lend-token withdrawal into the part paid from
// accrued profit and the part taken from principal.
type WithdrawResult struct {
	TokenID       string       `json:"token_id"`
	Amount        *uint256.Int `json:"amount"`
	FromInterest  *uint256.Int `json:"from_interest"`
	FromPrincipal *uint256.Int `json:"from_principal"`
}

// Withdraw removes amount of tokenID from accountID's position. Lend-token
// withdrawals draw unpaid profit before principal. Collateral withdrawals
// must keep an indebted account at or above the minimum ratio.
func (p *Pool) Withdraw(accountID, tokenID string, amount *uint256.Int, quote Quote, now time.Time) (*WithdrawResult, error) {
	if tokenID != p.LendTokenID && tokenID != p.CollateralTokenID {
		return nil, fmt.Errorf("%w: %s (pool %d trades %s/%s)", ErrInvalidToken, tokenID, p.ID, p.LendTokenID, p.CollateralTokenID)
	}
	if err := requirePositive(amount, "withdraw"); err != nil {
		return nil, err
	}
	var res *WithdrawResult
	err := p.atomically(func() error {
		ts := now.Unix()
		a, err := p.Account(accountID)
		if err != nil {
			return err
		}
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		if err := p.settleAccount(a, ts); err != nil {
			return err
		}
		if tokenID == p.LendTokenID {
			res, err = p.withdrawLend(a, amount)
		} else {
			res, err = p.withdrawCollateral(a, amount, quote, ts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pool) withdrawLend(a *AccountDeposit, amount *uint256.Int) (*WithdrawResult, error) {
	unpaid := orZero(a.UnpaidLendingInterestProfit).Clone()
	available, err := add(a.LendDeposit(), unpaid)
	if err != nil {
		return nil, err
	}
	if amount.Gt(available) {
		return nil, fmt.Errorf("%w: withdraw %s, available %s (principal %s + interest %s)",
			ErrInsufficientBalance, amount.Dec(), available.Dec(), a.LendDeposit().Dec(), unpaid.Dec())
	}

	res := &WithdrawResult{TokenID: p.LendTokenID, Amount: amount.Clone()}
	if amount.Lt(unpaid) {
		a.UnpaidLendingInterestProfit = new(uint256.Int).Sub(unpaid, amount)
		res.FromInterest = amount.Clone()
		res.FromPrincipal = Zero()
		return res, nil
	}

	principal := new(uint256.Int).Sub(amount, unpaid)
	a.UnpaidLendingInterestProfit = Zero()
	if err := a.reduceLendDeposit(principal, p.AccInterestPerShare); err != nil {
		return nil, err
	}
	if p.TotalLendAssetDeposit, err = sub(orZero(p.TotalLendAssetDeposit), principal); err != nil {
		return nil, err
	}
	if err := p.checkUtilization(); err != nil {
		return nil, err
	}
	res.FromInterest = unpaid
	res.FromPrincipal = principal
	return res, nil
}

func (p *Pool) withdrawCollateral(a *AccountDeposit, amount *uint256.Int, quote Quote, now int64) (*WithdrawResult, error) {
	held := a.CollateralDeposit()
	if amount.Gt(held) {
		return nil, fmt.Errorf("%w: withdraw %s, collateral %s", ErrInsufficientBalance, amount.Dec(), held.Dec())
	}
	debt, err := a.TotalDebt(p.FixedInterestRate, now)
	if err != nil {
		return nil, err
	}
	if !debt.IsZero() {
		v, err := quote()
		if err != nil {
			return nil, err
		}
		if err := p.checkCollateralRatio(a, v, now, CRAdjustment{RemoveCollateral: amount}); err != nil {
			return nil, err
		}
	}
	if err := a.reduceCollateral(amount); err != nil {
		return nil, err
	}
	if p.TotalCollateralDeposit, err = sub(orZero(p.TotalCollateralDeposit), amount); err != nil {
		return nil, err
	}
	return &WithdrawResult{
		TokenID:       p.CollateralTokenID,
		Amount:        amount.Clone(),
		FromInterest:  Zero(),
		FromPrincipal: amount.Clone(),
	}, nil
}

// PayLoan repays accountID's debt from its own lend deposit through the
// pay-loan ladder. Overpayment is re-deposited.
func (p *Pool) PayLoan(accountID string, amount *uint256.Int, now time.Time) (*RepayResult, error) {
	if err := requirePositive(amount, "repay"); err != nil {
		return nil, err
	}
	var res *RepayResult
	err := p.atomically(func() error {
		ts := now.Unix()
		a, err := p.Account(accountID)
		if err != nil {
			return err
		}
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		if err := p.settleAccount(a, ts); err != nil {
			return err
		}
		if res, err = a.payLoan(amount, p.AccInterestPerShare); err != nil {
			return err
		}
		if p.TotalBorrow, err = sub(orZero(p.TotalBorrow), res.PrincipalPaid); err != nil {
			return err
		}
		lend, err := add(orZero(p.TotalLendAssetDeposit), res.Redeposited)
		if err != nil {
			return err
		}
		p.TotalLendAssetDeposit, err = sub(lend, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
