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
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings for the operator API.
type ServerConfig struct {
	Port           string        // e.g. "8080"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s
	AllowedOrigins []string      // CORS + WS origins; empty allows all (dev)
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// ExchangeConfig holds funding-market API settings.
type ExchangeConfig struct {
	BaseURL      string        // default "https://api.bitfinex.com"
	FetchTimeout time.Duration // default 5s; bounds every outbound call
	Currency     string        // lending currency, default "USD"
	Symbol       string        // funding symbol, e.g. "fUSD" (derived when empty)
	APIKey       string
	APISecret    string
}

// FundingSymbol returns the funding symbol, deriving it from the currency
// when EXCHANGE_SYMBOL is not set explicitly (e.g. "USD" → "fUSD").
func (c *ExchangeConfig) FundingSymbol() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return "f" + c.Currency
}

// StrategyConfig holds the active strategy and its tunables.
type StrategyConfig struct {
	Name               string  // ladder | adaptive_ladder | spread_filler | market_taker | optimal_allocation
	MinOrderAmount     float64 // venue minimum per offer, default 150
	LendingPeriodDays  int     // default ladder/taker period, default 2
	TargetUtilization  float64 // optimal allocation target, default 0.96
	MaxSingleRatio     float64 // max share of remaining per order, default 0.15
	BaseRate           float64 // scoring base rate, default 0.08
	LadderCount        int     // ladder slices, default 5
	LadderRateSpread   float64 // rate step between slices, default 0.0001
	VolatilityMult     float64 // adaptive ladder spread multiplier, default 1.5
	LookbackHours      int     // adaptive ladder history window, default 24
	SpreadRatio        float64 // spread filler position in spread, default 0.5
	MinSpreadThreshold float64 // below this, spread filler joins best bid, default 0.0001
	TakerPercentage    float64 // market taker balance fraction, default 0.995
}

// SchedulerConfig holds the cron specs for the background jobs.
type SchedulerConfig struct {
	CycleSpec      string // allocation cycle, default "*/10 * * * *"
	SyncSpec       string // order status sync, default "*/5 * * * *"
	SettlementSpec string // daily settlement, default "15 0 * * *"
}

// DualWriteConfig holds migration toggles for the snapshot-store rollout.
type DualWriteConfig struct {
	NewSystemWrite bool // write aggregated snapshots alongside legacy rows, default true
	NewSystemRead  bool // serve reads from the new store, default false
	Comparison     bool // run per-write consistency checks, default true
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Exchange  ExchangeConfig
	Strategy  StrategyConfig
	Scheduler SchedulerConfig
	DualWrite DualWriteConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns every validation error encountered, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	switch c.Strategy.Name {
	case "ladder", "adaptive_ladder", "spread_filler", "market_taker", "optimal_allocation":
	default:
		errs = append(errs, fmt.Errorf("STRATEGY_NAME %q is not a known strategy", c.Strategy.Name))
	}

	if c.Strategy.MinOrderAmount <= 0 {
		errs = append(errs, fmt.Errorf("MIN_ORDER_AMOUNT must be positive, got %.2f", c.Strategy.MinOrderAmount))
	}
	if c.Strategy.TargetUtilization <= 0 || c.Strategy.TargetUtilization > 1 {
		errs = append(errs, fmt.Errorf(
			"TARGET_UTILIZATION must be in (0, 1], got %.4f", c.Strategy.TargetUtilization))
	}
	if c.Strategy.MaxSingleRatio <= 0 || c.Strategy.MaxSingleRatio > 1 {
		errs = append(errs, fmt.Errorf(
			"MAX_SINGLE_ORDER_RATIO must be in (0, 1], got %.4f", c.Strategy.MaxSingleRatio))
	}
	if c.Strategy.LadderCount <= 0 {
		errs = append(errs, fmt.Errorf("LADDER_COUNT must be positive, got %d", c.Strategy.LadderCount))
	}
	if c.Exchange.Currency == "" {
		errs = append(errs, errors.New("LENDING_CURRENCY must not be empty"))
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
		instance, loadErr = load()
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
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		AllowedOrigins: splitList(getEnv("SERVER_ALLOWED_ORIGINS", "")),
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
			getEnv("DB_NAME", "evetabi_lending"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Exchange ──────────────────────────────────────────────────────────────
	cfg.Exchange = ExchangeConfig{
		BaseURL:      getEnv("EXCHANGE_BASE_URL", "https://api.bitfinex.com"),
		FetchTimeout: getDuration("EXCHANGE_FETCH_TIMEOUT", 5*time.Second),
		Currency:     getEnv("LENDING_CURRENCY", "USD"),
		Symbol:       getEnv("EXCHANGE_SYMBOL", ""),
		APIKey:       getEnv("EXCHANGE_API_KEY", ""),
		APISecret:    getEnv("EXCHANGE_API_SECRET", ""),
	}

	// ── Strategy ──────────────────────────────────────────────────────────────
	minOrder, err := getFloat("MIN_ORDER_AMOUNT", 150)
	if err != nil {
		return nil, fmt.Errorf("MIN_ORDER_AMOUNT: %w", err)
	}
	period, err := getInt("LENDING_PERIOD_DAYS", 2)
	if err != nil {
		return nil, fmt.Errorf("LENDING_PERIOD_DAYS: %w", err)
	}
	targetUtil, err := getFloat("TARGET_UTILIZATION", 0.96)
	if err != nil {
		return nil, fmt.Errorf("TARGET_UTILIZATION: %w", err)
	}
	maxRatio, err := getFloat("MAX_SINGLE_ORDER_RATIO", 0.15)
	if err != nil {
		return nil, fmt.Errorf("MAX_SINGLE_ORDER_RATIO: %w", err)
	}
	baseRate, err := getFloat("BASE_RATE", 0.08)
	if err != nil {
		return nil, fmt.Errorf("BASE_RATE: %w", err)
	}
	ladders, err := getInt("LADDER_COUNT", 5)
	if err != nil {
		return nil, fmt.Errorf("LADDER_COUNT: %w", err)
	}
	spread, err := getFloat("LADDER_RATE_SPREAD", 0.0001)
	if err != nil {
		return nil, fmt.Errorf("LADDER_RATE_SPREAD: %w", err)
	}
	volMult, err := getFloat("VOLATILITY_SPREAD_MULTIPLIER", 1.5)
	if err != nil {
		return nil, fmt.Errorf("VOLATILITY_SPREAD_MULTIPLIER: %w", err)
	}
	lookback, err := getInt("LOOKBACK_PERIOD_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("LOOKBACK_PERIOD_HOURS: %w", err)
	}
	spreadRatio, err := getFloat("SPREAD_POSITION_RATIO", 0.5)
	if err != nil {
		return nil, fmt.Errorf("SPREAD_POSITION_RATIO: %w", err)
	}
	minSpread, err := getFloat("MIN_SPREAD_THRESHOLD", 0.0001)
	if err != nil {
		return nil, fmt.Errorf("MIN_SPREAD_THRESHOLD: %w", err)
	}
	takerPct, err := getFloat("TAKER_AMOUNT_PERCENTAGE", 0.995)
	if err != nil {
		return nil, fmt.Errorf("TAKER_AMOUNT_PERCENTAGE: %w", err)
	}

	cfg.Strategy = StrategyConfig{
		Name:               getEnv("STRATEGY_NAME", "optimal_allocation"),
		MinOrderAmount:     minOrder,
		LendingPeriodDays:  period,
		TargetUtilization:  targetUtil,
		MaxSingleRatio:     maxRatio,
		BaseRate:           baseRate,
		LadderCount:        ladders,
		LadderRateSpread:   spread,
		VolatilityMult:     volMult,
		LookbackHours:      lookback,
		SpreadRatio:        spreadRatio,
		MinSpreadThreshold: minSpread,
		TakerPercentage:    takerPct,
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	cfg.Scheduler = SchedulerConfig{
		CycleSpec:      getEnv("CYCLE_CRON", "*/10 * * * *"),
		SyncSpec:       getEnv("SYNC_CRON", "*/5 * * * *"),
		SettlementSpec: getEnv("SETTLEMENT_CRON", "15 0 * * *"),
	}

	// ── Dual write ────────────────────────────────────────────────────────────
	cfg.DualWrite = DualWriteConfig{
		NewSystemWrite: getBool("DW_NEW_SYSTEM_WRITE", true),
		NewSystemRead:  getBool("DW_NEW_SYSTEM_READ", false),
		Comparison:     getBool("DW_COMPARISON", true),
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

// splitList parses a comma-separated env value into a trimmed slice.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
