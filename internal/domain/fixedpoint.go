package domain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Scaling constants
// ──────────────────────────────────────────────────────────────────────────────

// These divisors are part of the persisted format: ratios, rates and the
// accrual cursor are stored as integers scaled by them.
const (
	CollateralRatioDivisor        = 10000
	UtilizationDivisor            = 10000
	InterestRateDivisor           = 10000
	LiquidationBonusDivisor       = 10000
	LiquidationMarginalDivisor    = 10000
	AccInterestPerShareMultiplier = 100_000_000
	SecondsPerYear                = 365 * 24 * 60 * 60
)

// InfiniteCollateralRatio is reported for positions with no debt value.
const InfiniteCollateralRatio uint64 = math.MaxUint64

// MaxDecimals is the largest exponent for which 10^d fits in 128 bits.
const MaxDecimals = 38

var (
	maxAmount = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

	pow10Table = func() [MaxDecimals + 1]*uint256.Int {
		var t [MaxDecimals + 1]*uint256.Int
		t[0] = uint256.NewInt(1)
		ten := uint256.NewInt(10)
		for i := 1; i <= MaxDecimals; i++ {
			t[i] = new(uint256.Int).Mul(t[i-1], ten)
		}
		return t
	}()
)

// ──────────────────────────────────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────────────────────────────────

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Amount returns v as a fixed-point amount.
func Amount(v uint64) *uint256.Int { return uint256.NewInt(v) }

// ParseAmount parses a base-10 token amount and checks it fits 128 bits.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if err := fits(v); err != nil {
		return nil, err
	}
	return v, nil
}

// MaxAmount returns the largest representable token amount (2^128 - 1).
func MaxAmount() *uint256.Int { return maxAmount.Clone() }

// orZero treats a nil amount as zero. Freshly scanned rows may carry nils.
func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return x
}

func fits(x *uint256.Int) error {
	if x.Gt(maxAmount) {
		return fmt.Errorf("%w: %s exceeds 128 bits", ErrArithmeticOverflow, x.Dec())
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Checked arithmetic
// ──────────────────────────────────────────────────────────────────────────────

func add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, a.Dec(), b.Dec())
	}
	if err := fits(z); err != nil {
		return nil, err
	}
	return z, nil
}

func sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticUnderflow, a.Dec(), b.Dec())
	}
	return new(uint256.Int).Sub(a, b), nil
}

// subFloor returns a - b, or zero when b > a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func product(factors []*uint256.Int) (*uint256.Int, error) {
	z := uint256.NewInt(1)
	for _, f := range factors {
		var overflow bool
		z, overflow = new(uint256.Int).MulOverflow(z, f)
		if overflow {
			return nil, fmt.Errorf("%w: intermediate product exceeds 256 bits", ErrArithmeticOverflow)
		}
	}
	return z, nil
}

// mulDivWide computes prod(num) / prod(den) with a single floor division and
// no range check on the result. Every factor is multiplied before dividing so
// rounding happens exactly once.
func mulDivWide(num, den []*uint256.Int) (*uint256.Int, error) {
	n, err := product(num)
	if err != nil {
		return nil, err
	}
	d, err := product(den)
	if err != nil {
		return nil, err
	}
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmeticOverflow)
	}
	return new(uint256.Int).Div(n, d), nil
}

// mulDiv is mulDivWide with the result bounded to 128 bits.
func mulDiv(num, den []*uint256.Int) (*uint256.Int, error) {
	z, err := mulDivWide(num, den)
	if err != nil {
		return nil, err
	}
	if err := fits(z); err != nil {
		return nil, err
	}
	return z, nil
}

// Pow10 returns 10^d.
func Pow10(d uint8) (*uint256.Int, error) {
	if d > MaxDecimals {
		return nil, fmt.Errorf("%w: 10^%d exceeds 128 bits", ErrArithmeticOverflow, d)
	}
	return pow10Table[d].Clone(), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Value conversion
// ──────────────────────────────────────────────────────────────────────────────

// ComputeTokenValue converts a token amount to quote value:
//
//	value = amount * price.multiplier / 10^price.decimals
func ComputeTokenValue(amount *uint256.Int, price Price) (*uint256.Int, error) {
	scale, err := Pow10(price.Decimals)
	if err != nil {
		return nil, err
	}
	return mulDiv([]*uint256.Int{amount, price.Multiplier}, []*uint256.Int{scale})
}

// ComputeCR returns the collateral ratio scaled by CollateralRatioDivisor:
//
//	cr = collateral_value * 10^debt_decimals * 10000 / (debt_value * 10^collateral_decimals)
//
// A zero debt value yields InfiniteCollateralRatio, as does any ratio too large
// for uint64.
func ComputeCR(
	collateralAmount *uint256.Int, collateralDecimals uint8, collateralPrice Price,
	debtAmount *uint256.Int, debtPrice Price, debtDecimals uint8,
) (uint64, error) {
	collateralValue, err := ComputeTokenValue(collateralAmount, collateralPrice)
	if err != nil {
		return 0, err
	}
	debtValue, err := ComputeTokenValue(debtAmount, debtPrice)
	if err != nil {
		return 0, err
	}
	if debtValue.IsZero() {
		return InfiniteCollateralRatio, nil
	}
	debtScale, err := Pow10(debtDecimals)
	if err != nil {
		return 0, err
	}
	collScale, err := Pow10(collateralDecimals)
	if err != nil {
		return 0, err
	}
	cr, err := mulDivWide(
		[]*uint256.Int{collateralValue, debtScale, uint256.NewInt(CollateralRatioDivisor)},
		[]*uint256.Int{debtValue, collScale},
	)
	if err != nil {
		return 0, err
	}
	if !cr.IsUint64() {
		return InfiniteCollateralRatio, nil
	}
	return cr.Uint64(), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Display helpers
// ──────────────────────────────────────────────────────────────────────────────

// FormatUnits renders a base-unit amount in whole tokens, e.g. 1500000 with
// 6 decimals becomes 1.5.
func FormatUnits(amount *uint256.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}

// RatioPercent renders a divisor-scaled ratio as a percentage (15000 -> 150).
// The infinite sentinel renders as zero; callers check for it first.
func RatioPercent(r uint64) decimal.Decimal {
	if r == InfiniteCollateralRatio {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(r), -2)
}
