package domain_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

// ── Powers of ten ─────────────────────────────────────────────────────────────

func TestPow10_Limits(t *testing.T) {
	v, err := domain.Pow10(0)
	require.NoError(t, err)
	assert.Equal(t, "1", v.Dec())

	v, err = domain.Pow10(18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.Dec())

	_, err = domain.Pow10(domain.MaxDecimals)
	require.NoError(t, err)

	_, err = domain.Pow10(domain.MaxDecimals + 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestPow10_ReturnsCopy(t *testing.T) {
	v, err := domain.Pow10(2)
	require.NoError(t, err)
	v.SetUint64(7)

	again, err := domain.Pow10(2)
	require.NoError(t, err)
	assert.Equal(t, "100", again.Dec())
}

// ── Parsing ───────────────────────────────────────────────────────────────────

func TestParseAmount(t *testing.T) {
	v, err := domain.ParseAmount("1500000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), v.Uint64())

	_, err = domain.ParseAmount(domain.MaxAmount().Dec())
	require.NoError(t, err)

	tooBig := new(uint256.Int).AddUint64(domain.MaxAmount(), 1)
	_, err = domain.ParseAmount(tooBig.Dec())
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = domain.ParseAmount("-5")
	assert.Error(t, err)
	_, err = domain.ParseAmount("abc")
	assert.Error(t, err)
}

// ── Token value and collateral ratio ─────────────────────────────────────────

func TestComputeTokenValue(t *testing.T) {
	v, err := domain.ComputeTokenValue(wethUnits(2), price(2000))
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Mul(wethUnits(1), domain.Amount(4000)).Dec(), v.Dec())

	_, err = domain.ComputeTokenValue(domain.MaxAmount(), price(2))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestComputeCR(t *testing.T) {
	tests := []struct {
		name  string
		coll  *uint256.Int
		debt  *uint256.Int
		price uint64
		want  uint64
	}{
		{"200 percent", wethUnits(1), usdcUnits(1000), 2000, 20000},
		{"exactly minimum", wethUnits(3), usdcUnits(4000), 2000, 15000},
		{"under water", wethUnits(1), usdcUnits(2500), 2000, 8000},
		{"no debt", wethUnits(1), domain.Zero(), 2000, domain.InfiniteCollateralRatio},
		{"no collateral", domain.Zero(), usdcUnits(10), 2000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ComputeCR(tt.coll, 18, price(tt.price), tt.debt, price(1), 6)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeCR_SaturatesToInfinite(t *testing.T) {
	// One base unit of debt against a large collateral position does not fit 64 bits.
	got, err := domain.ComputeCR(wethUnits(1_000_000), 18, price(2000), domain.Amount(1), price(1), 18)
	require.NoError(t, err)
	assert.Equal(t, domain.InfiniteCollateralRatio, got)
}

// ── Display ───────────────────────────────────────────────────────────────────

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", domain.FormatUnits(domain.Amount(1_500_000), 6).String())
	assert.Equal(t, "0", domain.FormatUnits(nil, 6).String())
}

func TestRatioPercent(t *testing.T) {
	assert.Equal(t, "150", domain.RatioPercent(15000).String())
	assert.Equal(t, "149.07", domain.RatioPercent(14907).String())
	assert.True(t, domain.RatioPercent(domain.InfiniteCollateralRatio).IsZero())
}
