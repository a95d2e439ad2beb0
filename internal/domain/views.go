package domain

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Read models
// ──────────────────────────────────────────────────────────────────────────────

// PoolInfo is the public view of a pool.
type PoolInfo struct {
	PoolID                 int64           `json:"pool_id"`
	OwnerID                string          `json:"owner_id"`
	LendTokenID            string          `json:"lend_token_id"`
	CollateralTokenID      string          `json:"collateral_token_id"`
	MinCR                  uint64          `json:"min_cr"`
	MaxUtilization         uint64          `json:"max_utilization"`
	MinLendTokenDeposit    *uint256.Int    `json:"min_lend_token_deposit"`
	MinLendTokenBorrow     *uint256.Int    `json:"min_lend_token_borrow"`
	TotalLendAssetDeposit  *uint256.Int    `json:"total_lend_asset_deposit"`
	TotalCollateralDeposit *uint256.Int    `json:"total_collateral_deposit"`
	TotalBorrow            *uint256.Int    `json:"total_borrow"`
	FixedInterestRate      uint64          `json:"fixed_interest_rate"`
	AccInterestPerShare    *uint256.Int    `json:"acc_interest_per_share"`
	LastAccrualTimestamp   int64           `json:"last_acc_interest_update_timestamp_sec"`
	LiquidationBonus       uint64          `json:"liquidation_bonus"`
	UtilizationPercent     decimal.Decimal `json:"utilization_percent"`
	MaxBorrowableOfPool    *uint256.Int    `json:"max_borrowable_of_pool"`
}

// Info returns the pool's public view.
func (p *Pool) Info() PoolInfo {
	return PoolInfo{
		PoolID:                 p.ID,
		OwnerID:                p.OwnerID,
		LendTokenID:            p.LendTokenID,
		CollateralTokenID:      p.CollateralTokenID,
		MinCR:                  p.MinCollateralRatio,
		MaxUtilization:         p.MaxUtilization,
		MinLendTokenDeposit:    orZero(p.MinLendDeposit).Clone(),
		MinLendTokenBorrow:     orZero(p.MinLendBorrow).Clone(),
		TotalLendAssetDeposit:  orZero(p.TotalLendAssetDeposit).Clone(),
		TotalCollateralDeposit: orZero(p.TotalCollateralDeposit).Clone(),
		TotalBorrow:            orZero(p.TotalBorrow).Clone(),
		FixedInterestRate:      p.FixedInterestRate,
		AccInterestPerShare:    orZero(p.AccInterestPerShare).Clone(),
		LastAccrualTimestamp:   p.LastAccrualTimestamp,
		LiquidationBonus:       p.LiquidationBonus,
		UtilizationPercent:     p.UtilizationPercent(),
		MaxBorrowableOfPool:    p.MaxBorrowableOfPool(),
	}
}

// UtilizationPercent returns total_borrow / total_lend as a percentage.
func (p *Pool) UtilizationPercent() decimal.Decimal {
	lend := orZero(p.TotalLendAssetDeposit)
	if lend.IsZero() {
		return decimal.Zero
	}
	borrow := decimal.NewFromBigInt(orZero(p.TotalBorrow).ToBig(), 0)
	return borrow.Div(decimal.NewFromBigInt(lend.ToBig(), 0)).Mul(decimal.NewFromInt(100)).Round(2)
}

// MaxBorrowableOfPool returns the principal still drawable under the
// utilization cap, floored at zero.
func (p *Pool) MaxBorrowableOfPool() *uint256.Int {
	limit, err := p.utilizationCap()
	if err != nil {
		return Zero()
	}
	return subFloor(limit, orZero(p.TotalBorrow))
}

// MaxBorrowableForAccount returns the account's collateral limit capped by
// the pool's remaining capacity. Unknown accounts can borrow nothing.
func (p *Pool) MaxBorrowableForAccount(accountID string, v Valuation, now time.Time) (*uint256.Int, error) {
	a, ok := p.Accounts[accountID]
	if !ok {
		return Zero(), nil
	}
	own, err := a.ComputeMaxBorrowable(v, nil, p.FixedInterestRate, p.MinCollateralRatio, now.Unix())
	if err != nil {
		return nil, err
	}
	return minAmount(own, p.MaxBorrowableOfPool()), nil
}

// ComputeCurrentCR returns accountID's ratio at now; unknown accounts have
// no debt and report the infinite sentinel.
func (p *Pool) ComputeCurrentCR(accountID string, v Valuation, now time.Time) (uint64, error) {
	a, ok := p.Accounts[accountID]
	if !ok {
		return InfiniteCollateralRatio, nil
	}
	return a.CurrentCR(v, p.FixedInterestRate, now.Unix())
}

// InterestView collects the pending interest getters for one account.
type InterestView struct {
	PendingUnpaidLendingProfit     *uint256.Int `json:"pending_unpaid_lending_interest_profit"`
	PendingTotalLendingProfit      *uint256.Int `json:"pending_total_lending_interest_profit"`
	TotalInterestReward            *uint256.Int `json:"total_interest_reward"`
	PendingUnpaidBorrowingInterest *uint256.Int `json:"pending_unpaid_borrowing_interest"`
	UnrecordedInterest             *uint256.Int `json:"unrecorded_interest"`
	PendingTotalBorrowingInterest  *uint256.Int `json:"pending_total_borrowing_interest"`
}

// Interest evaluates accountID's pending interest at now without committing.
func (p *Pool) Interest(accountID string, now time.Time) (*InterestView, error) {
	a, ok := p.Accounts[accountID]
	if !ok {
		return &InterestView{
			PendingUnpaidLendingProfit:     Zero(),
			PendingTotalLendingProfit:      Zero(),
			TotalInterestReward:            Zero(),
			PendingUnpaidBorrowingInterest: Zero(),
			UnrecordedInterest:             Zero(),
			PendingTotalBorrowingInterest:  Zero(),
		}, nil
	}
	ts := now.Unix()
	acc, err := p.CurrentAccInterestPerShare(ts)
	if err != nil {
		return nil, err
	}
	view := &InterestView{}
	if view.PendingUnpaidLendingProfit, err = a.PendingUnpaidLendingProfit(acc); err != nil {
		return nil, err
	}
	if view.PendingTotalLendingProfit, err = a.PendingTotalLendingProfit(acc); err != nil {
		return nil, err
	}
	if view.TotalInterestReward, err = a.TotalInterestReward(acc); err != nil {
		return nil, err
	}
	if view.PendingUnpaidBorrowingInterest, err = a.InterestOwed(p.FixedInterestRate, ts); err != nil {
		return nil, err
	}
	if view.UnrecordedInterest, err = a.ComputeUnrecordedInterest(p.FixedInterestRate, ts); err != nil {
		return nil, err
	}
	if view.PendingTotalBorrowingInterest, err = a.PendingTotalBorrowingInterest(p.FixedInterestRate, ts); err != nil {
		return nil, err
	}
	return view, nil
}

// AccountInfo is the public view of one account's position in a pool.
type AccountInfo struct {
	PoolID            int64                   `json:"pool_id"`
	OwnerID           string                  `json:"owner_id"`
	LendTokenID       string                  `json:"lend_token_id"`
	CollateralTokenID string                  `json:"collateral_token_id"`
	Deposits          map[string]*uint256.Int `json:"deposits"`
	BorrowAmount      *uint256.Int            `json:"borrow_amount"`
	MinCR             uint64                  `json:"min_cr"`

	LendingInterestProfitDebt   *uint256.Int `json:"lending_interest_profit_debt"`
	UnpaidLendingInterestProfit *uint256.Int `json:"unpaid_lending_interest_profit"`
	TotalLendingInterestProfit  *uint256.Int `json:"total_lending_interest_profit"`
	LastLendingInterestUpdate   int64        `json:"last_lending_interest_reward_update_timestamp_sec"`

	UnpaidBorrowingInterest     *uint256.Int `json:"unpaid_borrowing_interest"`
	TotalBorrowingInterest      *uint256.Int `json:"total_borrowing_interest"`
	LastBorrowingInterestUpdate int64        `json:"last_borrowing_interest_update_timestamp_sec"`

	MaxBorrowable *uint256.Int `json:"max_borrowable"`
	// CurrentCR is nil for positions without debt.
	CurrentCR        *uint64          `json:"current_cr"`
	CurrentCRPercent *decimal.Decimal `json:"current_cr_percent,omitempty"`
	Interest         *InterestView    `json:"interest"`
}

// AccountInfo builds accountID's view at now. Unknown accounts get an empty
// position rather than an error.
func (p *Pool) AccountInfo(accountID string, v Valuation, now time.Time) (*AccountInfo, error) {
	a, ok := p.Accounts[accountID]
	if !ok {
		a = NewAccountDeposit(p.ID, accountID, p.LendTokenID, p.CollateralTokenID)
	}
	maxBorrowable, err := p.MaxBorrowableForAccount(accountID, v, now)
	if err != nil {
		return nil, err
	}
	interest, err := p.Interest(accountID, now)
	if err != nil {
		return nil, err
	}
	info := &AccountInfo{
		PoolID:            p.ID,
		OwnerID:           accountID,
		LendTokenID:       p.LendTokenID,
		CollateralTokenID: p.CollateralTokenID,
		Deposits: map[string]*uint256.Int{
			p.LendTokenID:       a.LendDeposit(),
			p.CollateralTokenID: a.CollateralDeposit(),
		},
		BorrowAmount:                orZero(a.BorrowAmount).Clone(),
		MinCR:                       p.MinCollateralRatio,
		LendingInterestProfitDebt:   orZero(a.LendingInterestProfitDebt).Clone(),
		UnpaidLendingInterestProfit: orZero(a.UnpaidLendingInterestProfit).Clone(),
		TotalLendingInterestProfit:  orZero(a.TotalLendingInterestProfit).Clone(),
		LastLendingInterestUpdate:   a.LastLendingInterestUpdate,
		UnpaidBorrowingInterest:     orZero(a.UnpaidBorrowingInterest).Clone(),
		TotalBorrowingInterest:      orZero(a.TotalBorrowingInterest).Clone(),
		LastBorrowingInterestUpdate: a.LastBorrowingInterestUpdate,
		MaxBorrowable:               maxBorrowable,
		Interest:                    interest,
	}
	cr, err := a.CurrentCR(v, p.FixedInterestRate, now.Unix())
	if err != nil {
		return nil, err
	}
	if cr != InfiniteCollateralRatio {
		pct := RatioPercent(cr)
		info.CurrentCR = &cr
		info.CurrentCRPercent = &pct
	}
	return info, nil
}
