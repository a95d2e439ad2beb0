package domain_test

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/domain"
)

const (
	usdc     = "usdc.test"
	weth     = "weth.test"
	treasury = "treasury"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

// usdcUnits returns n whole USDC (6 decimals).
func usdcUnits(n uint64) *uint256.Int { return domain.Amount(n * 1_000_000) }

// wethUnits returns n whole WETH (18 decimals).
func wethUnits(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(domain.Amount(n), domain.Amount(1_000_000_000_000_000_000))
}

func price(whole uint64) domain.Price {
	return domain.Price{Multiplier: domain.Amount(whole * 100_000_000), Decimals: domain.PriceDecimals}
}

// valuation prices USDC at 1 and WETH at wethPrice.
func valuation(wethPrice uint64) domain.Valuation {
	return domain.Valuation{
		Lend:            domain.TokenInfo{TokenID: usdc, Decimals: 6},
		LendPrice:       price(1),
		Collateral:      domain.TokenInfo{TokenID: weth, Decimals: 18},
		CollateralPrice: price(wethPrice),
	}
}

func quoteAt(wethPrice uint64) domain.Quote { return domain.FixedQuote(valuation(wethPrice)) }

func newTestPool(t *testing.T) *domain.Pool {
	t.Helper()
	p, err := domain.NewPool(1, domain.DefaultPoolParams("owner", usdc, weth), t0)
	require.NoError(t, err)
	return p
}

func deposit(t *testing.T, p *domain.Pool, account, token string, amount *uint256.Int, at time.Time) {
	t.Helper()
	require.NoError(t, p.Deposit(account, token, amount, at))
}

// requireEqualAmount compares amounts by value so failures print decimals.
func requireEqualAmount(t *testing.T, want, got *uint256.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	require.Equal(t, want.Dec(), got.Dec(), msgAndArgs...)
}
