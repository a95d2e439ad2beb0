package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production") // skip .env lookup
	t.Setenv("JWT_ACCESS_SECRET", "a")
	t.Setenv("JWT_REFRESH_SECRET", "r")
	t.Setenv("DATABASE_DSN", "postgres://localhost/lendpool")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(15000), cfg.Lending.MinCollateralRatio)
	assert.Equal(t, uint64(9000), cfg.Lending.MaxUtilization)
	assert.Equal(t, uint64(5000), cfg.Lending.LiquidationMarginal)
	assert.Equal(t, uint8(18), cfg.Lending.DefaultTokenDecimals)
	assert.Equal(t, "treasury", cfg.Lending.TreasuryAccountID)
	assert.Equal(t, 5, cfg.Transfer.MaxAttempts)
	assert.Equal(t, uint32(90), cfg.Oracle.DefaultRecencySec)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Server.WSAllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LENDING_MIN_CR", "20000")
	t.Setenv("TRANSFER_DISPATCH_INTERVAL", "250ms")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LENDING_RESTRICT_POOL_CREATION", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(20000), cfg.Lending.MinCollateralRatio)
	assert.Equal(t, 250*time.Millisecond, cfg.Transfer.DispatchInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.WSAllowedOrigins)
	assert.True(t, cfg.Lending.RestrictPoolCreation)
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LENDING_MIN_CR", "-1")
	t.Setenv("DB_MAX_OPEN_CONNS", "many")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LENDING_MIN_CR")
	assert.Contains(t, err.Error(), "DB_MAX_OPEN_CONNS")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Env = "production"
	cfg.Lending.LiquidationBonus = 10000

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "DATABASE_DSN",
		"LENDING_TREASURY_ACCOUNT", "LENDING_MIN_CR", "LENDING_LIQUIDATION_BONUS",
		"TRANSFER_MAX_ATTEMPTS",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
