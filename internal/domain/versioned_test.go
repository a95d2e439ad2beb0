package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

func TestPoolRecord_UpgradeV1(t *testing.T) {
	rec := &domain.PoolRecord{
		ID:                    7,
		SchemaVersion:         domain.PoolSchemaV1,
		LendTokenID:           usdc,
		CollateralTokenID:     weth,
		MinCR:                 15000,
		MaxUtilization:        9000,
		FixedInterestRate:     1000,
		TotalLendAssetDeposit: usdcUnits(5),
	}
	p, err := rec.Upgrade()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultLiquidationBonus, p.LiquidationBonus)
	assert.True(t, p.MinLendBorrow.IsZero())
	assert.True(t, p.TotalBorrow.IsZero(), "missing amounts read as zero")
	requireEqualAmount(t, usdcUnits(5), p.TotalLendAssetDeposit)
	assert.Equal(t, domain.CurrentPoolSchema, p.Record().SchemaVersion)
}

func TestPoolRecord_UpgradeRejectsUnknown(t *testing.T) {
	_, err := (&domain.PoolRecord{SchemaVersion: 99}).Upgrade()
	assert.ErrorIs(t, err, domain.ErrUnknownSchemaVersion)

	_, err = (&domain.PoolRecord{SchemaVersion: domain.PoolSchemaV2}).Upgrade()
	assert.ErrorIs(t, err, domain.ErrUnknownSchemaVersion, "v2 rows must carry a bonus")
}

func TestPoolRecord_RoundTrip(t *testing.T) {
	p := seedYear(t)
	back, err := p.Record().Upgrade()
	require.NoError(t, err)
	assert.Equal(t, p.Info(), back.Info())
}

func TestAccountDepositRecord_UpgradeV1(t *testing.T) {
	rec := &domain.AccountDepositRecord{
		PoolID:                      1,
		AccountID:                   "bob",
		SchemaVersion:               domain.AccountSchemaV1,
		LendTokenID:                 usdc,
		CollateralTokenID:           weth,
		LendDeposit:                 usdcUnits(10),
		UnpaidLendingInterestProfit: usdcUnits(2),
		LastBorrowingInterestUpdate: t0.Unix(),
	}
	a, err := rec.Upgrade()
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(2), a.TotalLendingInterestProfit)
	assert.Equal(t, t0.Unix(), a.LastLendingInterestUpdate)
	requireEqualAmount(t, usdcUnits(10), a.LendDeposit())
	assert.True(t, a.CollateralDeposit().IsZero())
}

func TestAccountDepositRecord_RoundTrip(t *testing.T) {
	p := seedYear(t)
	bob, err := p.Account("bob")
	require.NoError(t, err)

	back, err := bob.Record().Upgrade()
	require.NoError(t, err)
	requireEqualAmount(t, bob.CollateralDeposit(), back.CollateralDeposit())
	requireEqualAmount(t, bob.BorrowAmount, back.BorrowAmount)
	assert.Equal(t, bob.LastBorrowingInterestUpdate, back.LastBorrowingInterestUpdate)
	assert.Equal(t, bob.EverBorrowed, back.EverBorrowed)

	_, err = (&domain.AccountDepositRecord{SchemaVersion: 3}).Upgrade()
	assert.ErrorIs(t, err, domain.ErrUnknownSchemaVersion)
}
