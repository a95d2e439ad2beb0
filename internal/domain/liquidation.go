package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Liquidation is the history record of one liquidation. Prices are the
// collateral quote with the liquidation discount applied and without it.
type Liquidation struct {
	ID                  uuid.UUID    `json:"id"                                      db:"id"`
	PoolID              int64        `json:"pool_id"                                 db:"pool_id"`
	LiquidatedAccountID string       `json:"liquidated_account_id"                   db:"liquidated_account_id"`
	LiquidatorAccountID string       `json:"liquidator_account_id"                   db:"liquidator_account_id"`
	LendTokenID         string       `json:"lend_token_id"                           db:"lend_token_id"`
	CollateralTokenID   string       `json:"collateral_token_id"                     db:"collateral_token_id"`
	RepaidAmount        *uint256.Int `json:"repaid_amount"                           db:"repaid_amount"`
	CollateralBefore    *uint256.Int `json:"liquidated_collateral_amount_before"     db:"collateral_before"`
	CollateralAfter     *uint256.Int `json:"liquidated_collateral_amount_after"      db:"collateral_after"`
	BorrowedBefore      *uint256.Int `json:"borrowed_before"                         db:"borrowed_before"`
	BorrowedAfter       *uint256.Int `json:"borrowed_after"                          db:"borrowed_after"`
	LiquidatorReceived  *uint256.Int `json:"liquidator_collateral_amount_received"   db:"liquidator_received"`
	TreasuryReceived    *uint256.Int `json:"treasury_collateral_amount_received"     db:"treasury_received"`
	LiquidationPrice    Price        `json:"liquidation_price"                       db:"liquidation_price"`
	Price               Price        `json:"price"                                   db:"price"`
	TimestampSec        int64        `json:"timestamp_sec"                           db:"timestamp_sec"`
	CreatedAt           time.Time    `json:"created_at"                              db:"created_at"`
}

// Seized returns the total collateral taken from the liquidated account.
func (l *Liquidation) Seized() *uint256.Int {
	return new(uint256.Int).Add(orZero(l.LiquidatorReceived), orZero(l.TreasuryReceived))
}

// LiquidationRequest carries the inputs of one liquidation call.
type LiquidationRequest struct {
	TargetID     string
	LiquidatorID string
	TreasuryID   string
	RepayAmount  *uint256.Int
	// Marginal is the treasury's share of the bonus pool, scaled by 10000.
	Marginal uint64
}

// discountedPrice applies the pool's liquidation bonus to a collateral price.
func (p *Pool) discountedPrice(price Price) (Price, error) {
	mult, err := mulDiv(
		[]*uint256.Int{orZero(price.Multiplier), uint256.NewInt(LiquidationBonusDivisor - p.LiquidationBonus)},
		[]*uint256.Int{uint256.NewInt(LiquidationBonusDivisor)},
	)
	if err != nil {
		return Price{}, err
	}
	if mult.IsZero() {
		return Price{}, fmt.Errorf("%w: discounted collateral price is zero", ErrInvalidPriceData)
	}
	return Price{Multiplier: mult, Decimals: price.Decimals}, nil
}

// collateralFor converts a quote value into collateral units at price:
//
//	10^coll_dec * value * 10^price_dec / (price_multiplier * 10^lend_dec)
func collateralFor(value *uint256.Int, price Price, v Valuation) (*uint256.Int, error) {
	collScale, err := Pow10(v.Collateral.Decimals)
	if err != nil {
		return nil, err
	}
	priceScale, err := Pow10(price.Decimals)
	if err != nil {
		return nil, err
	}
	lendScale, err := Pow10(v.Lend.Decimals)
	if err != nil {
		return nil, err
	}
	return mulDiv(
		[]*uint256.Int{collScale, value, priceScale},
		[]*uint256.Int{orZero(price.Multiplier), lendScale},
	)
}

// Liquidate repays part of an undercollateralized account's debt out of the
// liquidator's lend deposit and pays the liquidator in discounted collateral.
// The bonus over the fair amount is split with the treasury by req.Marginal.
func (p *Pool) Liquidate(req LiquidationRequest, quote Quote, now time.Time) (*Liquidation, error) {
	if err := requirePositive(req.RepayAmount, "liquidation"); err != nil {
		return nil, err
	}
	if req.Marginal > LiquidationMarginalDivisor {
		return nil, fmt.Errorf("%w: liquidation marginal %d exceeds %d", ErrInvalidPoolParams, req.Marginal, LiquidationMarginalDivisor)
	}
	repay := req.RepayAmount

	var record *Liquidation
	err := p.atomically(func() error {
		ts := now.Unix()
		v, err := quote()
		if err != nil {
			return err
		}
		if err := p.updateAccInterestPerShare(ts); err != nil {
			return err
		}
		acc := p.AccInterestPerShare

		// ── 1. Liquidator must hold the repayment and owe nothing ────────────
		liquidator, err := p.Account(req.LiquidatorID)
		if err != nil {
			return err
		}
		if err := p.settleAccount(liquidator, ts); err != nil {
			return err
		}
		if held := liquidator.LendDeposit(); held.Lt(repay) {
			return fmt.Errorf("%w: liquidator lend deposit %s, repay %s", ErrInsufficientBalance, held.Dec(), repay.Dec())
		}
		owed, err := liquidator.OwedLendToken()
		if err != nil {
			return err
		}
		if !owed.IsZero() {
			return fmt.Errorf("%w: liquidator %s owes %s to the pool", ErrLiquidationNotEligible, req.LiquidatorID, owed.Dec())
		}

		// ── 2. Target must be under the minimum ratio ────────────────────────
		target, err := p.Account(req.TargetID)
		if err != nil {
			return err
		}
		borrowedBefore := orZero(target.BorrowAmount).Clone()
		if err := p.settleAccount(target, ts); err != nil {
			return err
		}
		cr, err := target.CurrentCR(v, p.FixedInterestRate, ts)
		if err != nil {
			return err
		}
		if cr >= p.MinCollateralRatio {
			return fmt.Errorf("%w: ratio %d, liquidation below %d", ErrLiquidationNotEligible, cr, p.MinCollateralRatio)
		}

		// ── 3. Seized (discounted) and fair collateral amounts ───────────────
		repayValue, err := ComputeTokenValue(repay, v.LendPrice)
		if err != nil {
			return err
		}
		discounted, err := p.discountedPrice(v.CollateralPrice)
		if err != nil {
			return err
		}
		seized, err := collateralFor(repayValue, discounted, v)
		if err != nil {
			return err
		}
		fair, err := collateralFor(repayValue, v.CollateralPrice, v)
		if err != nil {
			return err
		}

		// ── 4. Repay the target's debt and take its collateral ───────────────
		repaid, err := target.applyRepayment(repay, acc)
		if err != nil {
			return err
		}
		collateralBefore := target.CollateralDeposit()
		if err := target.reduceCollateral(seized); err != nil {
			return err
		}

		// ── 5. Debit the liquidator ──────────────────────────────────────────
		if err := liquidator.reduceLendDeposit(repay, acc); err != nil {
			return err
		}
		lend, err := sub(orZero(p.TotalLendAssetDeposit), repay)
		if err != nil {
			return err
		}
		if p.TotalLendAssetDeposit, err = add(lend, repaid.Redeposited); err != nil {
			return err
		}
		if p.TotalBorrow, err = sub(orZero(p.TotalBorrow), repaid.PrincipalPaid); err != nil {
			return err
		}

		// ── 6. Must not overshoot while debt remains ─────────────────────────
		debt, err := target.TotalDebt(p.FixedInterestRate, ts)
		if err != nil {
			return err
		}
		if !debt.IsZero() {
			after, err := target.CurrentCR(v, p.FixedInterestRate, ts)
			if err != nil {
				return err
			}
			if after >= p.MinCollateralRatio {
				return fmt.Errorf("%w: ratio after %d, minimum %d, remaining debt %s",
					ErrLiquidationOvercorrected, after, p.MinCollateralRatio, debt.Dec())
			}
		}

		// ── 7. Split the bonus pool ──────────────────────────────────────────
		bonus, err := sub(seized, fair)
		if err != nil {
			return err
		}
		toTreasury, err := mulDiv(
			[]*uint256.Int{bonus, uint256.NewInt(req.Marginal)},
			[]*uint256.Int{uint256.NewInt(LiquidationMarginalDivisor)},
		)
		if err != nil {
			return err
		}
		toLiquidator := new(uint256.Int).Sub(seized, toTreasury)
		if err := liquidator.addCollateral(toLiquidator); err != nil {
			return err
		}
		treasury := p.Register(req.TreasuryID)
		if err := p.settleAccount(treasury, ts); err != nil {
			return err
		}
		if err := treasury.addCollateral(toTreasury); err != nil {
			return err
		}

		// ── 8. History ───────────────────────────────────────────────────────
		record = &Liquidation{
			ID:                  uuid.New(),
			PoolID:              p.ID,
			LiquidatedAccountID: req.TargetID,
			LiquidatorAccountID: req.LiquidatorID,
			LendTokenID:         p.LendTokenID,
			CollateralTokenID:   p.CollateralTokenID,
			RepaidAmount:        repay.Clone(),
			CollateralBefore:    collateralBefore,
			CollateralAfter:     target.CollateralDeposit(),
			BorrowedBefore:      borrowedBefore,
			BorrowedAfter:       orZero(target.BorrowAmount).Clone(),
			LiquidatorReceived:  toLiquidator,
			TreasuryReceived:    toTreasury,
			LiquidationPrice:    discounted,
			Price:               v.CollateralPrice.Clone(),
			TimestampSec:        ts,
			CreatedAt:           now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
