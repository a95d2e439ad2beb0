package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

func TestMaxBorrowableForAccount_CappedByPool(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(1000), t0)
	deposit(t, p, "bob", weth, wethUnits(10), t0)

	requireEqualAmount(t, usdcUnits(900), p.MaxBorrowableOfPool())
	got, err := p.MaxBorrowableForAccount("bob", valuation(2000), t0)
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(900), got)

	got, err = p.MaxBorrowableForAccount("ghost", valuation(2000), t0)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestComputeCurrentCR_UnknownAccountIsInfinite(t *testing.T) {
	p := newTestPool(t)
	cr, err := p.ComputeCurrentCR("ghost", valuation(2000), t0)
	require.NoError(t, err)
	assert.Equal(t, domain.InfiniteCollateralRatio, cr)
}

func TestAccountInfo(t *testing.T) {
	p := seedYear(t)
	t1 := t0.Add(domain.SecondsPerYear * time.Second)

	info, err := p.AccountInfo("bob", valuation(2000), t1)
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(3000), info.BorrowAmount)
	requireEqualAmount(t, wethUnits(10), info.Deposits[weth])
	require.NotNil(t, info.CurrentCR)
	// 20000 / 3300 after a year of unsettled interest.
	assert.Equal(t, uint64(60606), *info.CurrentCR)
	requireEqualAmount(t, usdcUnits(300), info.Interest.PendingUnpaidBorrowingInterest)
	requireEqualAmount(t, usdcUnits(300), info.Interest.UnrecordedInterest)
	assert.True(t, info.UnpaidBorrowingInterest.IsZero(), "views never commit accrual")

	lender, err := p.AccountInfo("alice", valuation(2000), t1)
	require.NoError(t, err)
	assert.Nil(t, lender.CurrentCR)
	requireEqualAmount(t, usdcUnits(200), lender.Interest.PendingUnpaidLendingProfit)

	empty, err := p.AccountInfo("ghost", valuation(2000), t1)
	require.NoError(t, err)
	assert.True(t, empty.Deposits[usdc].IsZero())
	assert.Nil(t, empty.CurrentCR)
}

func TestPoolInfo_Utilization(t *testing.T) {
	p := seedYear(t)
	info := p.Info()
	assert.Equal(t, "20", info.UtilizationPercent.String())
	requireEqualAmount(t, usdcUnits(10500), info.MaxBorrowableOfPool)
}
