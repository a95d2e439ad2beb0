package domain_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

// ── Pool params ───────────────────────────────────────────────────────────────

func TestPoolParams_Validate(t *testing.T) {
	base := domain.DefaultPoolParams("owner", usdc, weth)
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*domain.PoolParams)
	}{
		{"same tokens", func(pp *domain.PoolParams) { pp.CollateralTokenID = usdc }},
		{"missing lend token", func(pp *domain.PoolParams) { pp.LendTokenID = "" }},
		{"zero min cr", func(pp *domain.PoolParams) { pp.MinCollateralRatio = 0 }},
		{"utilization above 100%", func(pp *domain.PoolParams) { pp.MaxUtilization = 10001 }},
		{"bonus of 100%", func(pp *domain.PoolParams) { pp.LiquidationBonus = 10000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pp := base
			tt.mutate(&pp)
			assert.ErrorIs(t, pp.Validate(), domain.ErrInvalidPoolParams)
		})
	}
}

func TestNewPool_Defaults(t *testing.T) {
	p := newTestPool(t)
	assert.Equal(t, uint64(15000), p.MinCollateralRatio)
	assert.Equal(t, uint64(9000), p.MaxUtilization)
	assert.Equal(t, uint64(1000), p.FixedInterestRate)
	assert.Equal(t, uint64(1000), p.LiquidationBonus)
	assert.True(t, p.TotalLendAssetDeposit.IsZero())
	assert.Equal(t, t0.Unix(), p.LastAccrualTimestamp)
}

// ── Deposit ───────────────────────────────────────────────────────────────────

func TestDeposit_RejectsForeignToken(t *testing.T) {
	p := newTestPool(t)
	err := p.Deposit("bob", "dai.test", usdcUnits(1), t0)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Empty(t, p.Accounts)
}

func TestDeposit_BelowMinimum(t *testing.T) {
	pp := domain.DefaultPoolParams("owner", usdc, weth)
	pp.MinLendDeposit = usdcUnits(100)
	p, err := domain.NewPool(1, pp, t0)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Deposit("bob", usdc, usdcUnits(50), t0), domain.ErrBelowMinimum)
	// The minimum applies to the lend token only.
	require.NoError(t, p.Deposit("bob", weth, domain.Amount(1), t0))
	// Credit skips the minimum.
	require.NoError(t, p.Credit("bob", usdc, usdcUnits(50), t0))
	requireEqualAmount(t, usdcUnits(50), p.TotalLendAssetDeposit)
}

func TestDeposit_UpdatesTotals(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(1000), t0)
	deposit(t, p, "bob", weth, wethUnits(2), t0)

	requireEqualAmount(t, usdcUnits(1000), p.TotalLendAssetDeposit)
	requireEqualAmount(t, wethUnits(2), p.TotalCollateralDeposit)

	bob, err := p.Account("bob")
	require.NoError(t, err)
	requireEqualAmount(t, wethUnits(2), bob.CollateralDeposit())
	assert.True(t, bob.LendDeposit().IsZero())
}

// ── Borrow ────────────────────────────────────────────────────────────────────

func TestBorrow_ConsumesIdleDepositFirst(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(10000), t0)
	deposit(t, p, "bob", usdc, usdcUnits(500), t0)
	deposit(t, p, "bob", weth, wethUnits(1), t0)

	res, err := p.Borrow("bob", usdcUnits(800), quoteAt(2000), t0)
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(500), res.FromDeposit)
	requireEqualAmount(t, usdcUnits(300), res.Borrowed)
	requireEqualAmount(t, usdcUnits(800), res.Sent())
	assert.False(t, res.Capped)

	requireEqualAmount(t, usdcUnits(10000), p.TotalLendAssetDeposit)
	requireEqualAmount(t, usdcUnits(300), p.TotalBorrow)
	bob, _ := p.Account("bob")
	assert.True(t, bob.LendDeposit().IsZero())
	assert.True(t, bob.EverBorrowed)
}

func TestBorrow_CappedAtCollateralLimit(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(10000), t0)
	deposit(t, p, "bob", weth, wethUnits(1), t0)

	// 1 WETH at 2000 supports 2000 / 1.5 USDC, rounded down.
	res, err := p.Borrow("bob", usdcUnits(5000), quoteAt(2000), t0)
	require.NoError(t, err)
	requireEqualAmount(t, domain.Amount(1_333_333_333), res.Borrowed)
	assert.True(t, res.Capped)

	bob, _ := p.Account("bob")
	cr, err := bob.CurrentCR(valuation(2000), p.FixedInterestRate, t0.Unix())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cr, p.MinCollateralRatio)
}

func TestBorrow_UtilizationCap(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, domain.Amount(1000), t0)
	deposit(t, p, "bob", weth, wethUnits(1), t0)

	_, err := p.Borrow("bob", domain.Amount(901), quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrUtilizationExceeded)
	assert.True(t, p.TotalBorrow.IsZero(), "failed borrow must leave the pool untouched")
	bob, _ := p.Account("bob")
	assert.True(t, bob.BorrowAmount.IsZero())
	assert.False(t, bob.EverBorrowed)

	res, err := p.Borrow("bob", domain.Amount(900), quoteAt(2000), t0)
	require.NoError(t, err)
	requireEqualAmount(t, domain.Amount(900), res.Borrowed)
}

func TestBorrow_StalePriceAborts(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(1000), t0)
	deposit(t, p, "bob", weth, wethUnits(1), t0)

	stale := func() (domain.Valuation, error) { return domain.Valuation{}, domain.ErrStalePrice }
	_, err := p.Borrow("bob", usdcUnits(10), stale, t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrStalePrice)
	assert.True(t, p.TotalBorrow.IsZero())
	assert.Equal(t, t0.Unix(), p.LastAccrualTimestamp, "rollback restores the cursor timestamp")
}

func TestBorrow_BelowMinimum(t *testing.T) {
	pp := domain.DefaultPoolParams("owner", usdc, weth)
	pp.MinLendBorrow = usdcUnits(10)
	p, err := domain.NewPool(1, pp, t0)
	require.NoError(t, err)

	_, err = p.Borrow("bob", usdcUnits(5), quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	_, err = p.Borrow("bob", domain.Zero(), quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
}

// ── Withdraw ──────────────────────────────────────────────────────────────────

func TestWithdraw_CollateralKeepsRatio(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(10000), t0)
	deposit(t, p, "bob", weth, wethUnits(1), t0)
	_, err := p.Borrow("bob", usdcUnits(1000), quoteAt(2000), t0)
	require.NoError(t, err)

	half := new(uint256.Int).Div(wethUnits(1), domain.Amount(2))
	_, err = p.Withdraw("bob", weth, half, quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrCollateralRatioViolation)
	requireEqualAmount(t, wethUnits(1), p.TotalCollateralDeposit)

	tenth := new(uint256.Int).Div(wethUnits(1), domain.Amount(10))
	res, err := p.Withdraw("bob", weth, tenth, quoteAt(2000), t0)
	require.NoError(t, err)
	requireEqualAmount(t, tenth, res.Amount)
	assert.Equal(t, weth, res.TokenID)
	requireEqualAmount(t, new(uint256.Int).Sub(wethUnits(1), tenth), p.TotalCollateralDeposit)
}

func TestWithdraw_CollateralWithoutDebtNeedsNoPrice(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "bob", weth, wethUnits(1), t0)

	stale := func() (domain.Valuation, error) { return domain.Valuation{}, domain.ErrStalePrice }
	_, err := p.Withdraw("bob", weth, wethUnits(1), stale, t0)
	require.NoError(t, err)
	assert.True(t, p.TotalCollateralDeposit.IsZero())
}

func TestWithdraw_UnknownAccount(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Withdraw("ghost", usdc, usdcUnits(1), quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestWithdraw_LendCannotBreachUtilization(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(1000), t0)
	deposit(t, p, "bob", weth, wethUnits(10), t0)
	_, err := p.Borrow("bob", usdcUnits(800), quoteAt(2000), t0)
	require.NoError(t, err)

	// 800 / 0.9 needs at least 888.89 USDC to stay lent.
	_, err = p.Withdraw("alice", usdc, usdcUnits(200), quoteAt(2000), t0)
	assert.ErrorIs(t, err, domain.ErrUtilizationExceeded)
	requireEqualAmount(t, usdcUnits(1000), p.TotalLendAssetDeposit)

	_, err = p.Withdraw("alice", usdc, usdcUnits(100), quoteAt(2000), t0)
	require.NoError(t, err)
}

// ── Pay-loan ladder ───────────────────────────────────────────────────────────

func TestPayLoan_Ladder(t *testing.T) {
	tests := []struct {
		name           string
		deposit        uint64
		pay            uint64
		wantBorrow     uint64
		wantInterest   uint64
		wantPrincipal  uint64
		wantRedeposit  uint64
		wantLendTotal  uint64
		wantBobDeposit uint64
	}{
		{"interest then principal", 50, 50, 80, 30, 20, 0, 1000, 0},
		{"overpayment is redeposited", 150, 150, 0, 30, 100, 20, 1020, 20},
		{"interest only", 50, 10, 100, 10, 0, 0, 1040, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t)
			deposit(t, p, "alice", usdc, domain.Amount(1000), t0)
			deposit(t, p, "bob", usdc, domain.Amount(tt.deposit), t0)

			bob, err := p.Account("bob")
			require.NoError(t, err)
			bob.BorrowAmount = domain.Amount(100)
			bob.UnpaidBorrowingInterest = domain.Amount(30)
			p.TotalBorrow = domain.Amount(100)

			res, err := p.PayLoan("bob", domain.Amount(tt.pay), t0)
			require.NoError(t, err)

			requireEqualAmount(t, domain.Amount(tt.wantInterest), res.InterestPaid, "interest paid")
			requireEqualAmount(t, domain.Amount(tt.wantPrincipal), res.PrincipalPaid, "principal paid")
			requireEqualAmount(t, domain.Amount(tt.wantRedeposit), res.Redeposited, "redeposited")
			requireEqualAmount(t, domain.Amount(tt.wantBorrow), bob.BorrowAmount, "bob borrow")
			requireEqualAmount(t, domain.Amount(tt.wantBorrow), p.TotalBorrow, "pool borrow")
			requireEqualAmount(t, domain.Amount(tt.wantLendTotal), p.TotalLendAssetDeposit, "pool lend")
			requireEqualAmount(t, domain.Amount(tt.wantBobDeposit), bob.LendDeposit(), "bob deposit")
		})
	}
}

func TestPayLoan_InsufficientDeposit(t *testing.T) {
	p := newTestPool(t)
	deposit(t, p, "bob", usdc, domain.Amount(10), t0)

	_, err := p.PayLoan("bob", domain.Amount(11), t0)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	bob, _ := p.Account("bob")
	requireEqualAmount(t, domain.Amount(10), bob.LendDeposit())
}

// ── Interest accrual ──────────────────────────────────────────────────────────

// seedYear lends 15000 USDC across alice and carol and has bob borrow 3000.
func seedYear(t *testing.T) *domain.Pool {
	t.Helper()
	p := newTestPool(t)
	deposit(t, p, "alice", usdc, usdcUnits(10000), t0)
	deposit(t, p, "carol", usdc, usdcUnits(5000), t0)
	deposit(t, p, "bob", weth, wethUnits(10), t0)
	_, err := p.Borrow("bob", usdcUnits(3000), quoteAt(2000), t0)
	require.NoError(t, err)
	return p
}

func TestAccrual_OneYearConservation(t *testing.T) {
	p := seedYear(t)
	t1 := t0.Add(domain.SecondsPerYear * time.Second)
	for _, id := range []string{"alice", "carol", "bob"} {
		require.NoError(t, p.Settle(id, t1))
	}

	alice, _ := p.Account("alice")
	carol, _ := p.Account("carol")
	bob, _ := p.Account("bob")

	requireEqualAmount(t, usdcUnits(300), bob.UnpaidBorrowingInterest)
	requireEqualAmount(t, usdcUnits(200), alice.UnpaidLendingInterestProfit)
	requireEqualAmount(t, usdcUnits(100), carol.UnpaidLendingInterestProfit)
	requireEqualAmount(t, domain.Amount(2_000_000), p.AccInterestPerShare)
}

func TestAccrual_RoundingStaysWithinTolerance(t *testing.T) {
	p := seedYear(t)
	now := t0
	// Odd intervals so every division truncates.
	for i, step := range []time.Duration{7 * time.Second, 13 * time.Hour, 3*24*time.Hour + 11*time.Second} {
		now = now.Add(step)
		ids := []string{"alice", "carol", "bob"}
		require.NoError(t, p.Settle(ids[i%3], now))
	}
	for _, id := range []string{"alice", "carol", "bob"} {
		require.NoError(t, p.Settle(id, now))
	}

	alice, _ := p.Account("alice")
	carol, _ := p.Account("carol")
	bob, _ := p.Account("bob")
	lent := new(uint256.Int).Add(alice.TotalLendingInterestProfit, carol.TotalLendingInterestProfit)
	owed := bob.TotalBorrowingInterest

	assert.False(t, lent.Gt(owed), "lenders must never earn more than borrowers owe")
	diff := new(uint256.Int).Sub(owed, lent)
	// Each accrual step may drop up to one cursor unit, worth total_lend / 1e8.
	bound := new(uint256.Int).Div(p.TotalLendAssetDeposit, domain.Amount(domain.AccInterestPerShareMultiplier))
	bound.Add(bound, domain.Amount(2))
	bound.Mul(bound, domain.Amount(4))
	assert.False(t, diff.Gt(bound), "drift %s exceeds %s", diff.Dec(), bound.Dec())
}

func TestSettle_Idempotent(t *testing.T) {
	p := seedYear(t)
	t1 := t0.Add(30 * 24 * time.Hour)

	require.NoError(t, p.Settle("alice", t1))
	require.NoError(t, p.Settle("bob", t1))
	alice, _ := p.Account("alice")
	bob, _ := p.Account("bob")
	aliceFirst := alice.Clone()
	bobFirst := bob.Clone()
	accFirst := p.AccInterestPerShare.Clone()

	require.NoError(t, p.Settle("alice", t1))
	require.NoError(t, p.Settle("bob", t1))
	alice, _ = p.Account("alice")
	bob, _ = p.Account("bob")
	assert.Equal(t, aliceFirst, alice)
	assert.Equal(t, bobFirst, bob)
	requireEqualAmount(t, accFirst, p.AccInterestPerShare)
}

func TestCursor_MonotonicUnderClockSkew(t *testing.T) {
	p := seedYear(t)
	times := []time.Time{
		t0.Add(time.Hour),
		t0.Add(30 * time.Minute), // clock went backwards
		t0.Add(2 * time.Hour),
		t0.Add(2 * time.Hour),
	}
	prevAcc := p.AccInterestPerShare.Clone()
	prevTS := p.LastAccrualTimestamp
	for _, at := range times {
		require.NoError(t, p.Settle("alice", at))
		assert.False(t, p.AccInterestPerShare.Lt(prevAcc), "cursor went backwards at %s", at)
		assert.GreaterOrEqual(t, p.LastAccrualTimestamp, prevTS)
		prevAcc = p.AccInterestPerShare.Clone()
		prevTS = p.LastAccrualTimestamp
	}
}

func TestWithdraw_LendDrawsInterestFirst(t *testing.T) {
	p := seedYear(t)
	t1 := t0.Add(domain.SecondsPerYear * time.Second)
	require.NoError(t, p.Settle("alice", t1))

	res, err := p.Withdraw("alice", usdc, usdcUnits(50), quoteAt(2000), t1)
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(50), res.FromInterest)
	assert.True(t, res.FromPrincipal.IsZero())
	requireEqualAmount(t, usdcUnits(15000), p.TotalLendAssetDeposit)

	res, err = p.Withdraw("alice", usdc, usdcUnits(200), quoteAt(2000), t1)
	require.NoError(t, err)
	requireEqualAmount(t, usdcUnits(150), res.FromInterest)
	requireEqualAmount(t, usdcUnits(50), res.FromPrincipal)

	alice, _ := p.Account("alice")
	requireEqualAmount(t, usdcUnits(9950), alice.LendDeposit())
	assert.True(t, alice.UnpaidLendingInterestProfit.IsZero())
	requireEqualAmount(t, usdcUnits(14950), p.TotalLendAssetDeposit)
}

// ── Invariants under random operations ───────────────────────────────────────

func TestPool_InvariantsHoldUnderRandomOps(t *testing.T) {
	p := newTestPool(t)
	rng := rand.New(rand.NewSource(42))
	accounts := []string{"a", "b", "c", "d"}
	quote := quoteAt(2000)
	quarterWeth := new(uint256.Int).Div(wethUnits(1), domain.Amount(4))

	now := t0
	prevAcc := p.AccInterestPerShare.Clone()
	maxLend := domain.Zero()
	succeeded := 0

	for i := 0; i < 2000; i++ {
		now = now.Add(time.Duration(rng.Int63n(int64(72*time.Hour))) + time.Second)
		id := accounts[rng.Intn(len(accounts))]
		n := uint64(rng.Intn(1000) + 1)

		var err error
		checksCR := false
		switch rng.Intn(6) {
		case 0:
			err = p.Deposit(id, usdc, usdcUnits(n), now)
		case 1:
			err = p.Deposit(id, weth, new(uint256.Int).Mul(quarterWeth, domain.Amount(n%8+1)), now)
		case 2:
			_, err = p.Borrow(id, usdcUnits(n), quote, now)
			checksCR = true
		case 3:
			_, err = p.Withdraw(id, weth, new(uint256.Int).Mul(quarterWeth, domain.Amount(n%4+1)), quote, now)
			checksCR = true
		case 4:
			_, err = p.Withdraw(id, usdc, usdcUnits(n), quote, now)
		case 5:
			_, err = p.PayLoan(id, usdcUnits(n), now)
		}
		if err != nil {
			continue
		}
		succeeded++

		require.False(t, p.AccInterestPerShare.Lt(prevAcc), "step %d: cursor moved backwards", i)
		prevAcc = p.AccInterestPerShare.Clone()
		if p.TotalLendAssetDeposit.Gt(maxLend) {
			maxLend = p.TotalLendAssetDeposit.Clone()
		}

		if a, _ := p.Account(id); checksCR && a != nil {
			cr, err := a.CurrentCR(valuation(2000), p.FixedInterestRate, now.Unix())
			require.NoError(t, err)
			require.GreaterOrEqual(t, cr, p.MinCollateralRatio, "step %d: %s under collateralized", i, id)
		}

		lend, coll, borrow := domain.Zero(), domain.Zero(), domain.Zero()
		for _, a := range p.Accounts {
			lend.Add(lend, a.LendDeposit())
			coll.Add(coll, a.CollateralDeposit())
			borrow.Add(borrow, a.BorrowAmount)
		}
		requireEqualAmount(t, lend, p.TotalLendAssetDeposit, "step %d lend total", i)
		requireEqualAmount(t, coll, p.TotalCollateralDeposit, "step %d collateral total", i)
		requireEqualAmount(t, borrow, p.TotalBorrow, "step %d borrow total", i)

		limit := new(uint256.Int).Mul(p.TotalLendAssetDeposit, domain.Amount(p.MaxUtilization))
		limit.Div(limit, domain.Amount(domain.UtilizationDivisor))
		require.False(t, p.TotalBorrow.Gt(limit), "step %d utilization breached", i)
	}
	require.Greater(t, succeeded, 500, "too few operations succeeded to exercise accrual")

	// Settle everyone at the final instant and compare both sides of accrual.
	lent, owed := domain.Zero(), domain.Zero()
	for _, id := range accounts {
		if _, err := p.Account(id); err != nil {
			continue
		}
		require.NoError(t, p.Settle(id, now))
		a, _ := p.Account(id)
		lent.Add(lent, a.TotalLendingInterestProfit)
		owed.Add(owed, a.TotalBorrowingInterest)
	}
	require.False(t, owed.IsZero(), "no interest accrued")

	// Per-borrower truncation can favour lenders by one unit per borrower per
	// operation; the cursor can cost lenders maxLend/1e8 + 1 per operation.
	ops := domain.Amount(uint64(succeeded))
	lenderSlack := new(uint256.Int).Mul(ops, domain.Amount(uint64(len(accounts))))
	assert.False(t, lent.Gt(new(uint256.Int).Add(owed, lenderSlack)),
		"lenders earned %s, borrowers owe %s", lent.Dec(), owed.Dec())

	perOp := new(uint256.Int).Div(maxLend, domain.Amount(domain.AccInterestPerShareMultiplier))
	perOp.Add(perOp, domain.Amount(uint64(len(accounts))+2))
	bound := new(uint256.Int).Mul(perOp, ops)
	gap := new(uint256.Int)
	if owed.Gt(lent) {
		gap.Sub(owed, lent)
	}
	assert.False(t, gap.Gt(bound), "accrual gap %s exceeds %s over %d operations", gap.Dec(), bound.Dec(), succeeded)
}
