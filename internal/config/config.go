// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	ShutdownTimeout      time.Duration // default 15s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	WSAllowedOrigins     []string      // empty = allow all (development)
	RateLimitPerSecond   float64       // per-IP request rate on mutating routes
	RateLimitBurst       int
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	AccessSecret  string        // must be set
	RefreshSecret string        // must be set
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 720h (30 days)
}

// OracleConfig holds price-data settings.
type OracleConfig struct {
	// SourceURL enables pull mode: the scheduler fetches a price-data JSON
	// document from it every RefreshInterval. Empty means push-only.
	SourceURL         string
	FetchTimeout      time.Duration // default 2s
	CacheTTL          time.Duration // default 1s
	DefaultRecencySec uint32        // used when a pulled document has no window; default 90
	RefreshInterval   time.Duration // default 10s
}

// LendingConfig holds pool and ledger settings.
type LendingConfig struct {
	TreasuryAccountID     string // receives the treasury share of liquidation bonuses
	LiquidationMarginal   uint64 // treasury share of the bonus, scaled by 10000
	MinCollateralRatio    uint64 // pool defaults, scaled by 10000
	MaxUtilization        uint64
	FixedInterestRate     uint64
	LiquidationBonus      uint64
	TokenCacheSize        int
	DefaultTokenDecimals  uint8
	RestrictPoolCreation  bool // only admins may create pools
	PositionsPageMaxLimit int
}

// TransferConfig holds outbound transfer gateway settings.
type TransferConfig struct {
	GatewayURL       string        // "" = transfers stay pending until an operator acts
	RequestTimeout   time.Duration // default 5s
	DispatchInterval time.Duration // default 5s
	BatchSize        int           // default 50
	MaxAttempts      int           // default 5; then the transfer is compensated
}

// RiskConfig holds the risk monitor settings.
type RiskConfig struct {
	ScanInterval time.Duration // default 30s
	// WarningMargin flags accounts within this many ratio points (scaled by
	// 10000) above the pool minimum.
	WarningMargin uint64
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	JWT      JWTConfig
	Oracle   OracleConfig
	Lending  LendingConfig
	Transfer TransferConfig
	Risk     RiskConfig
	Metrics  MetricsConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Every problem is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	// JWT secrets are mandatory
	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be set"))
	}

	// In production, DB DSN must be explicit
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Lending.TreasuryAccountID == "" {
		errs = append(errs, errors.New("LENDING_TREASURY_ACCOUNT must be set"))
	}
	if c.Lending.LiquidationMarginal > 10000 {
		errs = append(errs, fmt.Errorf("LENDING_LIQUIDATION_MARGINAL must be at most 10000, got %d", c.Lending.LiquidationMarginal))
	}
	if c.Lending.MinCollateralRatio == 0 {
		errs = append(errs, errors.New("LENDING_MIN_CR must be positive"))
	}
	if c.Lending.MaxUtilization > 10000 {
		errs = append(errs, fmt.Errorf("LENDING_MAX_UTILIZATION must be at most 10000, got %d", c.Lending.MaxUtilization))
	}
	if c.Lending.LiquidationBonus >= 10000 {
		errs = append(errs, fmt.Errorf("LENDING_LIQUIDATION_BONUS must be below 10000, got %d", c.Lending.LiquidationBonus))
	}
	if c.Lending.DefaultTokenDecimals > 38 {
		errs = append(errs, fmt.Errorf("LENDING_DEFAULT_TOKEN_DECIMALS must be at most 38, got %d", c.Lending.DefaultTokenDecimals))
	}
	if c.Lending.TokenCacheSize <= 0 {
		errs = append(errs, errors.New("LENDING_TOKEN_CACHE_SIZE must be positive"))
	}

	if c.Transfer.MaxAttempts <= 0 {
		errs = append(errs, errors.New("TRANSFER_MAX_ATTEMPTS must be positive"))
	}
	if c.Transfer.BatchSize <= 0 {
		errs = append(errs, errors.New("TRANSFER_BATCH_SIZE must be positive"))
	}
	if c.Oracle.DefaultRecencySec == 0 {
		errs = append(errs, errors.New("ORACLE_DEFAULT_RECENCY_SEC must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads the configuration from the environment. Outside production an
// optional .env file in the working directory is applied first; variables
// already set in the environment win.
func Load() (*Config, error) {
	if getEnv("ENVIRONMENT", "development") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf(".env: %w", err)
		}
	}

	cfg := &Config{}
	var errs []error
	intVar := func(key string, def int) int {
		n, err := getInt(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}
	uintVar := func(key string, def uint64) uint64 {
		n, err := getUint(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return n
	}

	// ── Server ────────────────────────────────────────────────────────────────
	rate, err := getFloat("RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_SECOND: %w", err))
	}
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout:      getDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		WSAllowedOrigins:     getList("WS_ALLOWED_ORIGINS"),
		RateLimitPerSecond:   rate,
		RateLimitBurst:       intVar("RATE_LIMIT_BURST", 20),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "lendpool"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    intVar("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    intVar("DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTTL:     getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    getDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
	}

	// ── Oracle ────────────────────────────────────────────────────────────────
	cfg.Oracle = OracleConfig{
		SourceURL:         getEnv("ORACLE_SOURCE_URL", ""),
		FetchTimeout:      getDuration("ORACLE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:          getDuration("ORACLE_CACHE_TTL", 1*time.Second),
		DefaultRecencySec: uint32(uintVar("ORACLE_DEFAULT_RECENCY_SEC", 90)),
		RefreshInterval:   getDuration("ORACLE_REFRESH_INTERVAL", 10*time.Second),
	}

	// ── Lending ───────────────────────────────────────────────────────────────
	cfg.Lending = LendingConfig{
		TreasuryAccountID:     getEnv("LENDING_TREASURY_ACCOUNT", "treasury"),
		LiquidationMarginal:   uintVar("LENDING_LIQUIDATION_MARGINAL", 5000),
		MinCollateralRatio:    uintVar("LENDING_MIN_CR", 15000),
		MaxUtilization:        uintVar("LENDING_MAX_UTILIZATION", 9000),
		FixedInterestRate:     uintVar("LENDING_FIXED_INTEREST_RATE", 1000),
		LiquidationBonus:      uintVar("LENDING_LIQUIDATION_BONUS", 1000),
		TokenCacheSize:        intVar("LENDING_TOKEN_CACHE_SIZE", 256),
		DefaultTokenDecimals:  uint8(uintVar("LENDING_DEFAULT_TOKEN_DECIMALS", 18)),
		RestrictPoolCreation:  getBool("LENDING_RESTRICT_POOL_CREATION", false),
		PositionsPageMaxLimit: intVar("LENDING_PAGE_MAX_LIMIT", 100),
	}

	// ── Transfers ─────────────────────────────────────────────────────────────
	cfg.Transfer = TransferConfig{
		GatewayURL:       getEnv("TRANSFER_GATEWAY_URL", ""),
		RequestTimeout:   getDuration("TRANSFER_REQUEST_TIMEOUT", 5*time.Second),
		DispatchInterval: getDuration("TRANSFER_DISPATCH_INTERVAL", 5*time.Second),
		BatchSize:        intVar("TRANSFER_BATCH_SIZE", 50),
		MaxAttempts:      intVar("TRANSFER_MAX_ATTEMPTS", 5),
	}

	// ── Risk ──────────────────────────────────────────────────────────────────
	cfg.Risk = RiskConfig{
		ScanInterval:  getDuration("RISK_SCAN_INTERVAL", 30*time.Second),
		WarningMargin: uintVar("RISK_WARNING_MARGIN", 1000),
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	cfg.Metrics = MetricsConfig{
		Enabled: getBool("METRICS_ENABLED", true),
		Path:    getEnv("METRICS_PATH", "/metrics"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getUint(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

// getList splits a comma-separated env var, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
