package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// ──────────────────────────────────────────────────────────────────────────────
// Persisted record shapes
// ──────────────────────────────────────────────────────────────────────────────
//
// Rows carry the schema version they were written under. Older rows are
// upgraded when read and rewritten at the current version on the next save.
//
//	pool v1:    no liquidation_bonus, no min_lend_borrow
//	account v1: no total_lending_interest_profit, no last_lending_interest_update

const (
	PoolSchemaV1         = 1
	PoolSchemaV2         = 2
	CurrentPoolSchema    = PoolSchemaV2
	AccountSchemaV1      = 1
	AccountSchemaV2      = 2
	CurrentAccountSchema = AccountSchemaV2
)

// legacyLiquidationBonus is the bonus every v1 pool ran with.
const legacyLiquidationBonus = DefaultLiquidationBonus

// PoolRecord is a pools row.
type PoolRecord struct {
	ID                     int64        `db:"id"`
	SchemaVersion          int          `db:"schema_version"`
	OwnerID                string       `db:"owner_id"`
	LendTokenID            string       `db:"lend_token_id"`
	CollateralTokenID      string       `db:"collateral_token_id"`
	MinCR                  uint64       `db:"min_cr"`
	MaxUtilization         uint64       `db:"max_utilization"`
	MinLendDeposit         *uint256.Int `db:"min_lend_deposit"`
	MinLendBorrow          *uint256.Int `db:"min_lend_borrow"`
	FixedInterestRate      uint64       `db:"fixed_interest_rate"`
	LiquidationBonus       *uint64      `db:"liquidation_bonus"`
	TotalLendAssetDeposit  *uint256.Int `db:"total_lend_asset_deposit"`
	TotalCollateralDeposit *uint256.Int `db:"total_collateral_deposit"`
	TotalBorrow            *uint256.Int `db:"total_borrow"`
	AccInterestPerShare    *uint256.Int `db:"acc_interest_per_share"`
	LastAccrualTimestamp   int64        `db:"last_accrual_timestamp"`
	CreatedAt              time.Time    `db:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at"`
}

// Upgrade converts the row to a Pool, filling fields older versions lack.
func (r *PoolRecord) Upgrade() (*Pool, error) {
	switch r.SchemaVersion {
	case PoolSchemaV1:
		bonus := legacyLiquidationBonus
		r.LiquidationBonus = &bonus
		r.MinLendBorrow = Zero()
	case PoolSchemaV2:
		if r.LiquidationBonus == nil {
			return nil, fmt.Errorf("%w: pool %d v%d has no liquidation bonus", ErrUnknownSchemaVersion, r.ID, r.SchemaVersion)
		}
	default:
		return nil, fmt.Errorf("%w: pool %d has version %d", ErrUnknownSchemaVersion, r.ID, r.SchemaVersion)
	}
	r.SchemaVersion = CurrentPoolSchema
	return &Pool{
		ID:                     r.ID,
		OwnerID:                r.OwnerID,
		LendTokenID:            r.LendTokenID,
		CollateralTokenID:      r.CollateralTokenID,
		MinCollateralRatio:     r.MinCR,
		MaxUtilization:         r.MaxUtilization,
		FixedInterestRate:      r.FixedInterestRate,
		LiquidationBonus:       *r.LiquidationBonus,
		MinLendDeposit:         orZero(r.MinLendDeposit),
		MinLendBorrow:          orZero(r.MinLendBorrow),
		TotalLendAssetDeposit:  orZero(r.TotalLendAssetDeposit),
		TotalCollateralDeposit: orZero(r.TotalCollateralDeposit),
		TotalBorrow:            orZero(r.TotalBorrow),
		AccInterestPerShare:    orZero(r.AccInterestPerShare),
		LastAccrualTimestamp:   r.LastAccrualTimestamp,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
		Accounts:               make(map[string]*AccountDeposit),
	}, nil
}

// Record returns the current-version row for p.
func (p *Pool) Record() *PoolRecord {
	bonus := p.LiquidationBonus
	return &PoolRecord{
		ID:                     p.ID,
		SchemaVersion:          CurrentPoolSchema,
		OwnerID:                p.OwnerID,
		LendTokenID:            p.LendTokenID,
		CollateralTokenID:      p.CollateralTokenID,
		MinCR:                  p.MinCollateralRatio,
		MaxUtilization:         p.MaxUtilization,
		MinLendDeposit:         orZero(p.MinLendDeposit),
		MinLendBorrow:          orZero(p.MinLendBorrow),
		FixedInterestRate:      p.FixedInterestRate,
		LiquidationBonus:       &bonus,
		TotalLendAssetDeposit:  orZero(p.TotalLendAssetDeposit),
		TotalCollateralDeposit: orZero(p.TotalCollateralDeposit),
		TotalBorrow:            orZero(p.TotalBorrow),
		AccInterestPerShare:    orZero(p.AccInterestPerShare),
		LastAccrualTimestamp:   p.LastAccrualTimestamp,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

// AccountDepositRecord is an account_deposits row. The token ids are joined
// in from the owning pool.
type AccountDepositRecord struct {
	PoolID                      int64        `db:"pool_id"`
	AccountID                   string       `db:"account_id"`
	SchemaVersion               int          `db:"schema_version"`
	LendTokenID                 string       `db:"lend_token_id"`
	CollateralTokenID           string       `db:"collateral_token_id"`
	LendDeposit                 *uint256.Int `db:"lend_deposit"`
	CollateralDeposit           *uint256.Int `db:"collateral_deposit"`
	BorrowAmount                *uint256.Int `db:"borrow_amount"`
	LendingInterestProfitDebt   *uint256.Int `db:"lending_interest_profit_debt"`
	UnpaidLendingInterestProfit *uint256.Int `db:"unpaid_lending_interest_profit"`
	TotalLendingInterestProfit  *uint256.Int `db:"total_lending_interest_profit"`
	LastLendingInterestUpdate   *int64       `db:"last_lending_interest_update"`
	UnpaidBorrowingInterest     *uint256.Int `db:"unpaid_borrowing_interest"`
	TotalBorrowingInterest      *uint256.Int `db:"total_borrowing_interest"`
	LastBorrowingInterestUpdate int64        `db:"last_borrowing_interest_update"`
	EverBorrowed                bool         `db:"ever_borrowed"`
}

// Upgrade converts the row to an AccountDeposit. v1 rows did not track
// lifetime lending profit separately, so it starts from the unpaid balance.
func (r *AccountDepositRecord) Upgrade() (*AccountDeposit, error) {
	switch r.SchemaVersion {
	case AccountSchemaV1:
		r.TotalLendingInterestProfit = orZero(r.UnpaidLendingInterestProfit).Clone()
		last := r.LastBorrowingInterestUpdate
		r.LastLendingInterestUpdate = &last
	case AccountSchemaV2:
		if r.LastLendingInterestUpdate == nil {
			var zero int64
			r.LastLendingInterestUpdate = &zero
		}
	default:
		return nil, fmt.Errorf("%w: account %s in pool %d has version %d",
			ErrUnknownSchemaVersion, r.AccountID, r.PoolID, r.SchemaVersion)
	}
	r.SchemaVersion = CurrentAccountSchema
	a := NewAccountDeposit(r.PoolID, r.AccountID, r.LendTokenID, r.CollateralTokenID)
	a.setDeposit(r.LendTokenID, orZero(r.LendDeposit))
	a.setDeposit(r.CollateralTokenID, orZero(r.CollateralDeposit))
	a.BorrowAmount = orZero(r.BorrowAmount)
	a.LendingInterestProfitDebt = orZero(r.LendingInterestProfitDebt)
	a.UnpaidLendingInterestProfit = orZero(r.UnpaidLendingInterestProfit)
	a.TotalLendingInterestProfit = orZero(r.TotalLendingInterestProfit)
	a.LastLendingInterestUpdate = *r.LastLendingInterestUpdate
	a.UnpaidBorrowingInterest = orZero(r.UnpaidBorrowingInterest)
	a.TotalBorrowingInterest = orZero(r.TotalBorrowingInterest)
	a.LastBorrowingInterestUpdate = r.LastBorrowingInterestUpdate
	a.EverBorrowed = r.EverBorrowed
	return a, nil
}

// Record returns the current-version row for a.
func (a *AccountDeposit) Record() *AccountDepositRecord {
	last := a.LastLendingInterestUpdate
	return &AccountDepositRecord{
		PoolID:                      a.PoolID,
		AccountID:                   a.AccountID,
		SchemaVersion:               CurrentAccountSchema,
		LendTokenID:                 a.LendTokenID,
		CollateralTokenID:           a.CollateralTokenID,
		LendDeposit:                 a.LendDeposit(),
		CollateralDeposit:           a.CollateralDeposit(),
		BorrowAmount:                orZero(a.BorrowAmount),
		LendingInterestProfitDebt:   orZero(a.LendingInterestProfitDebt),
		UnpaidLendingInterestProfit: orZero(a.UnpaidLendingInterestProfit),
		TotalLendingInterestProfit:  orZero(a.TotalLendingInterestProfit),
		LastLendingInterestUpdate:   &last,
		UnpaidBorrowingInterest:     orZero(a.UnpaidBorrowingInterest),
		TotalBorrowingInterest:      orZero(a.TotalBorrowingInterest),
		LastBorrowingInterestUpdate: a.LastBorrowingInterestUpdate,
		EverBorrowed:                a.EverBorrowed,
	}
}
