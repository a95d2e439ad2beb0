package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ──────────────────────────────────────────────────────────────────────────────
// AccountDeposit
// ──────────────────────────────────────────────────────────────────────────────

// AccountDeposit is one account's position inside one pool. It holds both the
// idle lend-token balance (which earns lending interest) and the collateral
// balance, plus the accrual state for the lender and borrower sides.
//
// Lending interest uses a reward-debt checkpoint against the pool cursor:
//
//	reward = lend_deposit * acc_interest_per_share / 1e8
//	earned = reward - lending_interest_profit_debt
//
// Every change to the lend deposit must be preceded by a settle and followed
// by refreshProfitDebt, so interest is credited exactly once.
type AccountDeposit struct {
	PoolID            int64                   `json:"pool_id"`
	AccountID         string                  `json:"account_id"`
	LendTokenID       string                  `json:"lend_token_id"`
	CollateralTokenID string                  `json:"collateral_token_id"`
	Deposits          map[string]*uint256.Int `json:"deposits"`
	BorrowAmount      *uint256.Int            `json:"borrow_amount"`

	LendingInterestProfitDebt   *uint256.Int `json:"lending_interest_profit_debt"`
	UnpaidLendingInterestProfit *uint256.Int `json:"unpaid_lending_interest_profit"`
	TotalLendingInterestProfit  *uint256.Int `json:"total_lending_interest_profit"`
	LastLendingInterestUpdate   int64        `json:"last_lending_interest_update_timestamp_sec"`

	UnpaidBorrowingInterest     *uint256.Int `json:"unpaid_borrowing_interest"`
	TotalBorrowingInterest      *uint256.Int `json:"total_borrowing_interest"`
	LastBorrowingInterestUpdate int64        `json:"last_borrowing_interest_update_timestamp_sec"`

	// EverBorrowed is set the first time the account draws principal.
	EverBorrowed bool `json:"ever_borrowed"`
}

// NewAccountDeposit returns an empty position for account in pool.
func NewAccountDeposit(poolID int64, accountID, lendTokenID, collateralTokenID string) *AccountDeposit {
	return &AccountDeposit{
		PoolID:            poolID,
		AccountID:         accountID,
		LendTokenID:       lendTokenID,
		CollateralTokenID: collateralTokenID,
		Deposits: map[string]*uint256.Int{
			lendTokenID:       Zero(),
			collateralTokenID: Zero(),
		},
		BorrowAmount:                Zero(),
		LendingInterestProfitDebt:   Zero(),
		UnpaidLendingInterestProfit: Zero(),
		TotalLendingInterestProfit:  Zero(),
		UnpaidBorrowingInterest:     Zero(),
		TotalBorrowingInterest:      Zero(),
	}
}

// TokenDeposit returns the account's balance of token (zero if none).
func (a *AccountDeposit) TokenDeposit(tokenID string) *uint256.Int {
	if v, ok := a.Deposits[tokenID]; ok && v != nil {
		return v.Clone()
	}
	return Zero()
}

// LendDeposit returns the idle lend-token balance.
func (a *AccountDeposit) LendDeposit() *uint256.Int { return a.TokenDeposit(a.LendTokenID) }

// CollateralDeposit returns the collateral balance.
func (a *AccountDeposit) CollateralDeposit() *uint256.Int {
	return a.TokenDeposit(a.CollateralTokenID)
}

func (a *AccountDeposit) setDeposit(tokenID string, v *uint256.Int) {
	if a.Deposits == nil {
		a.Deposits = make(map[string]*uint256.Int, 2)
	}
	a.Deposits[tokenID] = v
}

// OwedLendToken returns committed debt: principal plus recorded unpaid interest.
func (a *AccountDeposit) OwedLendToken() (*uint256.Int, error) {
	return add(orZero(a.BorrowAmount), orZero(a.UnpaidBorrowingInterest))
}

// IsEmpty reports whether the position holds nothing at all.
func (a *AccountDeposit) IsEmpty() bool {
	return a.LendDeposit().IsZero() && a.CollateralDeposit().IsZero() &&
		orZero(a.BorrowAmount).IsZero() && orZero(a.UnpaidBorrowingInterest).IsZero() &&
		orZero(a.UnpaidLendingInterestProfit).IsZero()
}

// Clone returns a deep copy.
func (a *AccountDeposit) Clone() *AccountDeposit {
	c := *a
	c.Deposits = make(map[string]*uint256.Int, len(a.Deposits))
	for k, v := range a.Deposits {
		c.Deposits[k] = orZero(v).Clone()
	}
	c.BorrowAmount = orZero(a.BorrowAmount).Clone()
	c.LendingInterestProfitDebt = orZero(a.LendingInterestProfitDebt).Clone()
	c.UnpaidLendingInterestProfit = orZero(a.UnpaidLendingInterestProfit).Clone()
	c.TotalLendingInterestProfit = orZero(a.TotalLendingInterestProfit).Clone()
	c.UnpaidBorrowingInterest = orZero(a.UnpaidBorrowingInterest).Clone()
	c.TotalBorrowingInterest = orZero(a.TotalBorrowingInterest).Clone()
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// Lender side
// ──────────────────────────────────────────────────────────────────────────────

// TotalInterestReward returns lend_deposit * acc / 1e8.
func (a *AccountDeposit) TotalInterestReward(acc *uint256.Int) (*uint256.Int, error) {
	return mulDiv(
		[]*uint256.Int{a.LendDeposit(), acc},
		[]*uint256.Int{uint256.NewInt(AccInterestPerShareMultiplier)},
	)
}

// pendingLendingProfit is the profit earned since the last checkpoint.
func (a *AccountDeposit) pendingLendingProfit(acc *uint256.Int) (*uint256.Int, error) {
	reward, err := a.TotalInterestReward(acc)
	if err != nil {
		return nil, err
	}
	earned, err := sub(reward, orZero(a.LendingInterestProfitDebt))
	if err != nil {
		return nil, fmt.Errorf("lending checkpoint ahead of cursor: %w", err)
	}
	return earned, nil
}

// settleLendingProfit credits profit earned against acc and moves the
// checkpoint to the current reward.
func (a *AccountDeposit) settleLendingProfit(acc *uint256.Int, now int64) error {
	earned, err := a.pendingLendingProfit(acc)
	if err != nil {
		return err
	}
	unpaid, err := add(orZero(a.UnpaidLendingInterestProfit), earned)
	if err != nil {
		return err
	}
	total, err := add(orZero(a.TotalLendingInterestProfit), earned)
	if err != nil {
		return err
	}
	a.UnpaidLendingInterestProfit = unpaid
	a.TotalLendingInterestProfit = total
	a.LastLendingInterestUpdate = now
	return a.refreshProfitDebt(acc)
}

// refreshProfitDebt re-bases the checkpoint on the current lend deposit.
func (a *AccountDeposit) refreshProfitDebt(acc *uint256.Int) error {
	reward, err := a.TotalInterestReward(acc)
	if err != nil {
		return err
	}
	a.LendingInterestProfitDebt = reward
	return nil
}

// PendingUnpaidLendingProfit returns unpaid profit including what has accrued
// against acc but is not yet settled.
func (a *AccountDeposit) PendingUnpaidLendingProfit(acc *uint256.Int) (*uint256.Int, error) {
	earned, err := a.pendingLendingProfit(acc)
	if err != nil {
		return nil, err
	}
	return add(orZero(a.UnpaidLendingInterestProfit), earned)
}

// PendingTotalLendingProfit returns lifetime profit including the unsettled part.
func (a *AccountDeposit) PendingTotalLendingProfit(acc *uint256.Int) (*uint256.Int, error) {
	earned, err := a.pendingLendingProfit(acc)
	if err != nil {
		return nil, err
	}
	return add(orZero(a.TotalLendingInterestProfit), earned)
}

// ──────────────────────────────────────────────────────────────────────────────
// Borrower side
// ──────────────────────────────────────────────────────────────────────────────

func elapsedSec(last, now int64) uint64 {
	if now <= last {
		return 0
	}
	return uint64(now - last)
}

// ComputeUnrecordedInterest returns simple interest on principal since the
// last borrowing update:
//
//	borrow * elapsed * rate / (10000 * SECONDS_PER_YEAR)
func (a *AccountDeposit) ComputeUnrecordedInterest(rate uint64, now int64) (*uint256.Int, error) {
	borrow := orZero(a.BorrowAmount)
	if borrow.IsZero() {
		return Zero(), nil
	}
	elapsed := elapsedSec(a.LastBorrowingInterestUpdate, now)
	return mulDiv(
		[]*uint256.Int{borrow, uint256.NewInt(elapsed), uint256.NewInt(rate)},
		[]*uint256.Int{uint256.NewInt(InterestRateDivisor), uint256.NewInt(SecondsPerYear)},
	)
}

// settleBorrowingInterest commits unrecorded interest and restarts the clock.
func (a *AccountDeposit) settleBorrowingInterest(rate uint64, now int64) error {
	if !orZero(a.BorrowAmount).IsZero() {
		interest, err := a.ComputeUnrecordedInterest(rate, now)
		if err != nil {
			return err
		}
		unpaid, err := add(orZero(a.UnpaidBorrowingInterest), interest)
		if err != nil {
			return err
		}
		total, err := add(orZero(a.TotalBorrowingInterest), interest)
		if err != nil {
			return err
		}
		a.UnpaidBorrowingInterest = unpaid
		a.TotalBorrowingInterest = total
	}
	a.LastBorrowingInterestUpdate = now
	return nil
}

// settle brings both sides of the position up to now against cursor acc.
func (a *AccountDeposit) settle(rate uint64, acc *uint256.Int, now int64) error {
	if err := a.settleLendingProfit(acc, now); err != nil {
		return err
	}
	return a.settleBorrowingInterest(rate, now)
}

// InterestOwed returns unpaid interest plus what has accrued since the last
// update, without recording it.
func (a *AccountDeposit) InterestOwed(rate uint64, now int64) (*uint256.Int, error) {
	unrecorded, err := a.ComputeUnrecordedInterest(rate, now)
	if err != nil {
		return nil, err
	}
	return add(orZero(a.UnpaidBorrowingInterest), unrecorded)
}

// PendingTotalBorrowingInterest returns lifetime interest including the
// unrecorded part.
func (a *AccountDeposit) PendingTotalBorrowingInterest(rate uint64, now int64) (*uint256.Int, error) {
	unrecorded, err := a.ComputeUnrecordedInterest(rate, now)
	if err != nil {
		return nil, err
	}
	return add(orZero(a.TotalBorrowingInterest), unrecorded)
}

// TotalDebt returns principal plus all interest owed at now.
func (a *AccountDeposit) TotalDebt(rate uint64, now int64) (*uint256.Int, error) {
	owed, err := a.InterestOwed(rate, now)
	if err != nil {
		return nil, err
	}
	return add(orZero(a.BorrowAmount), owed)
}

// ──────────────────────────────────────────────────────────────────────────────
// Collateral ratio & borrowing power
// ──────────────────────────────────────────────────────────────────────────────

// CRAdjustment projects a position change before it happens.
type CRAdjustment struct {
	AddCollateral    *uint256.Int
	RemoveCollateral *uint256.Int
	Borrow           *uint256.Int
	Pay              *uint256.Int
}

// ProjectedCR returns the collateral ratio after applying adj at now.
func (a *AccountDeposit) ProjectedCR(v Valuation, rate uint64, now int64, adj CRAdjustment) (uint64, error) {
	collateral, err := add(a.CollateralDeposit(), orZero(adj.AddCollateral))
	if err != nil {
		return 0, err
	}
	if collateral, err = sub(collateral, orZero(adj.RemoveCollateral)); err != nil {
		return 0, fmt.Errorf("%w: collateral %s, requested %s", ErrInsufficientBalance,
			a.CollateralDeposit().Dec(), orZero(adj.RemoveCollateral).Dec())
	}
	debt, err := a.TotalDebt(rate, now)
	if err != nil {
		return 0, err
	}
	if debt, err = add(debt, orZero(adj.Borrow)); err != nil {
		return 0, err
	}
	debt = subFloor(debt, orZero(adj.Pay))
	return ComputeCR(collateral, v.Collateral.Decimals, v.CollateralPrice, debt, v.LendPrice, v.Lend.Decimals)
}

// CurrentCR returns the position's collateral ratio at now.
func (a *AccountDeposit) CurrentCR(v Valuation, rate uint64, now int64) (uint64, error) {
	return a.ProjectedCR(v, rate, now, CRAdjustment{})
}

// ComputeMaxBorrowable returns how much more principal the position can draw
// while staying at ratio cr:
//
//	collateral_in_lend = coll_value * 10^lend_dec * 10^lend_price_dec / (10^coll_dec * lend_multiplier)
//	max = collateral_in_lend * 10000 / cr - (borrow + interest_owed), floored at zero
func (a *AccountDeposit) ComputeMaxBorrowable(v Valuation, additionalCollateral *uint256.Int, rate, cr uint64, now int64) (*uint256.Int, error) {
	collateral, err := add(a.CollateralDeposit(), orZero(additionalCollateral))
	if err != nil {
		return nil, err
	}
	collValue, err := ComputeTokenValue(collateral, v.CollateralPrice)
	if err != nil {
		return nil, err
	}
	lendScale, err := Pow10(v.Lend.Decimals)
	if err != nil {
		return nil, err
	}
	lendPriceScale, err := Pow10(v.LendPrice.Decimals)
	if err != nil {
		return nil, err
	}
	collScale, err := Pow10(v.Collateral.Decimals)
	if err != nil {
		return nil, err
	}
	inLend, err := mulDiv(
		[]*uint256.Int{collValue, lendScale, lendPriceScale},
		[]*uint256.Int{collScale, orZero(v.LendPrice.Multiplier)},
	)
	if err != nil {
		return nil, err
	}
	limit, err := mulDiv(
		[]*uint256.Int{inLend, uint256.NewInt(CollateralRatioDivisor)},
		[]*uint256.Int{uint256.NewInt(cr)},
	)
	if err != nil {
		return nil, err
	}
	owed, err := a.TotalDebt(rate, now)
	if err != nil {
		return nil, err
	}
	return subFloor(limit, owed), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Balance mutations (callers settle first)
// ──────────────────────────────────────────────────────────────────────────────

func (a *AccountDeposit) addLendDeposit(amount, acc *uint256.Int) error {
	next, err := add(a.LendDeposit(), amount)
	if err != nil {
		return err
	}
	a.setDeposit(a.LendTokenID, next)
	return a.refreshProfitDebt(acc)
}

func (a *AccountDeposit) reduceLendDeposit(amount, acc *uint256.Int) error {
	current := a.LendDeposit()
	if current.Lt(amount) {
		return fmt.Errorf("%w: lend deposit %s, requested %s", ErrInsufficientBalance, current.Dec(), amount.Dec())
	}
	a.setDeposit(a.LendTokenID, new(uint256.Int).Sub(current, amount))
	return a.refreshProfitDebt(acc)
}

func (a *AccountDeposit) addCollateral(amount *uint256.Int) error {
	next, err := add(a.CollateralDeposit(), amount)
	if err != nil {
		return err
	}
	a.setDeposit(a.CollateralTokenID, next)
	return nil
}

func (a *AccountDeposit) reduceCollateral(amount *uint256.Int) error {
	current := a.CollateralDeposit()
	if current.Lt(amount) {
		return fmt.Errorf("%w: collateral %s, requested %s", ErrInsufficientBalance, current.Dec(), amount.Dec())
	}
	a.setDeposit(a.CollateralTokenID, new(uint256.Int).Sub(current, amount))
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Pay-loan ladder
// ──────────────────────────────────────────────────────────────────────────────

// RepayResult reports how a repayment was applied.
type RepayResult struct {
	Amount        *uint256.Int `json:"amount"`
	InterestPaid  *uint256.Int `json:"interest_paid"`
	PrincipalPaid *uint256.Int `json:"principal_paid"`
	Redeposited   *uint256.Int `json:"redeposited"`
}

// applyRepayment runs the ladder: unpaid interest first, then principal, and
// any remainder is re-deposited as lend token. PrincipalPaid is debt before
// minus debt after. The caller must have settled the account at acc.
func (a *AccountDeposit) applyRepayment(amount, acc *uint256.Int) (*RepayResult, error) {
	principalBefore := orZero(a.BorrowAmount).Clone()
	interestBefore := orZero(a.UnpaidBorrowingInterest).Clone()

	remain := amount.Clone()
	interestPart := minAmount(interestBefore, remain)
	a.UnpaidBorrowingInterest = new(uint256.Int).Sub(interestBefore, interestPart)
	remain.Sub(remain, interestPart)

	principalPart := minAmount(principalBefore, remain)
	a.BorrowAmount = new(uint256.Int).Sub(principalBefore, principalPart)
	remain.Sub(remain, principalPart)

	principalPaid, err := sub(principalBefore, a.BorrowAmount)
	if err != nil {
		return nil, err
	}
	interestPaid, err := sub(interestBefore, a.UnpaidBorrowingInterest)
	if err != nil {
		return nil, err
	}
	if !remain.IsZero() {
		if err := a.addLendDeposit(remain, acc); err != nil {
			return nil, err
		}
	}
	return &RepayResult{
		Amount:        amount.Clone(),
		InterestPaid:  interestPaid,
		PrincipalPaid: principalPaid,
		Redeposited:   remain,
	}, nil
}

// payLoan repays from the account's own lend deposit.
func (a *AccountDeposit) payLoan(amount, acc *uint256.Int) (*RepayResult, error) {
	if err := a.reduceLendDeposit(amount, acc); err != nil {
		return nil, err
	}
	return a.applyRepayment(amount, acc)
}
