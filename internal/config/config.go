// Package config loads the engine's runtime configuration from environment
// variables, grounded on aristath-sentinel/trader/internal/config: env-var
// helpers with typed defaults plus a Validate pass, never a YAML/CLI layer
// (that loading mechanism is explicitly out of scope, spec.md §1).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized option from spec.md §6.
type Config struct {
	RPCURL   string
	RelayURL string

	SignerURL      string
	SignerKeyID    string
	SignerPassword string

	MinProfitWei         string // decimal string; parsed to *big.Int by callers
	MaxGasPriceGwei      int64
	MaxPositionSizeWei   string
	MaxDailyGasSpendWei  string
	MaxDailyLossWei      string

	TxRateWindow    time.Duration
	MaxTxPerWindow  int

	MaxSlippage float64 // fraction, e.g. 0.02 == 2%

	MinTargetValueWei string // front-run: victim tx must exceed this native value to be worth targeting

	MetricsResetInterval time.Duration
	HealthCheckInterval  time.Duration

	ContractWhitelist []string // empty disables the breaker

	NetworkBaseFeeCeilingGwei int64
	MaxBlockAge               time.Duration // network breaker: last-block age ceiling, spec.md §4.8

	Strategies        []string
	StrategyCooldown  time.Duration // minimum spacing between two Analyze calls for the same strategy
	StrategyWarmup    time.Duration // a strategy is not ready until this long after process start

	Dexes           []DexConfig
	FlashloanVenues []FlashloanVenueConfig

	Notifications NotificationsConfig

	DataDir  string
	LogLevel string
	DevMode  bool
	APIPort  int
}

// DexConfig describes one venue feeding the arbitrage connectivity graph.
type DexConfig struct {
	Name    string
	Factory string
}

// FlashloanVenueConfig seeds a provider identity for C5. Defaults are the
// union of provider identities and the fee table resolved per SPEC_FULL §6 /
// spec.md §9 Open Question #1 (source: core/flash_loan.py).
type FlashloanVenueConfig struct {
	VenueID     string
	Address     string
	FeeFraction float64
}

// NotificationsConfig names the external alert sinks; credentials are
// resolved from environment variables, never embedded in the struct
// literal, matching the teacher's credential-via-settings pattern.
type NotificationsConfig struct {
	Sinks []string // e.g. "slack", "pagerduty", "email"
}

// DefaultFlashloanVenues is the fee table from spec.md §9 Open Question #1.
func DefaultFlashloanVenues() []FlashloanVenueConfig {
	return []FlashloanVenueConfig{
		{VenueID: "aave", FeeFraction: 0.0009},
		{VenueID: "dydx", FeeFraction: 0.0},
		{VenueID: "balancer", FeeFraction: 0.0001},
		{VenueID: "uniswap", FeeFraction: 0.0005},
	}
}

// Load reads configuration from environment variables (and an optional
// .env file, loaded best-effort exactly as the teacher does).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		RPCURL:               getEnv("RPC_URL", ""),
		RelayURL:             getEnv("RELAY_URL", ""),
		SignerURL:            getEnv("SIGNER_URL", ""),
		SignerKeyID:          getEnv("SIGNER_KEY_ID", ""),
		SignerPassword:       getEnv("SIGNER_PASSWORD", ""),
		MinProfitWei:         getEnv("MIN_PROFIT_WEI", "1000000000000000"), // 0.001 native unit at 18 decimals
		MaxGasPriceGwei:      getEnvAsInt64("MAX_GAS_PRICE_GWEI", 150),
		MaxPositionSizeWei:   getEnv("MAX_POSITION_SIZE_WEI", "5000000000000000000"), // 5 native units
		MaxDailyGasSpendWei:  getEnv("MAX_DAILY_GAS_SPEND_WEI", "2000000000000000000"),
		MaxDailyLossWei:      getEnv("MAX_DAILY_LOSS_WEI", "1000000000000000000"),
		TxRateWindow:         getEnvAsDuration("TX_RATE_WINDOW", time.Second),
		MaxTxPerWindow:       getEnvAsInt("MAX_TX_PER_WINDOW", 5),
		MaxSlippage:          getEnvAsFloat("MAX_SLIPPAGE", 0.05),
		MinTargetValueWei:    getEnv("MIN_TARGET_VALUE_WEI", "500000000000000000"), // 0.5 native units
		MetricsResetInterval: getEnvAsDuration("METRICS_RESET_INTERVAL", 86400*time.Second),
		HealthCheckInterval:  getEnvAsDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
		ContractWhitelist:    getEnvAsList("CONTRACT_WHITELIST", nil),
		NetworkBaseFeeCeilingGwei: getEnvAsInt64("NETWORK_BASE_FEE_CEILING_GWEI", 500),
		MaxBlockAge:          getEnvAsDuration("MAX_BLOCK_AGE", 60*time.Second),
		Strategies:           getEnvAsList("STRATEGIES", []string{"arbitrage", "sandwich", "frontrun", "jit_liquidity", "new_pool_sniper"}),
		StrategyCooldown:     getEnvAsDuration("STRATEGY_COOLDOWN", 2*time.Second),
		StrategyWarmup:       getEnvAsDuration("STRATEGY_WARMUP", 5*time.Second),
		DataDir:              dataDir,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		APIPort:              getEnvAsInt("API_PORT", 8090),
		FlashloanVenues:      DefaultFlashloanVenues(),
		Notifications:        NotificationsConfig{Sinks: getEnvAsList("NOTIFICATION_SINKS", nil)},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration is present. Configuration errors
// are fatal at start-up only (spec.md §7).
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: RPC_URL is required")
	}
	if c.RelayURL == "" {
		return fmt.Errorf("config: RELAY_URL is required")
	}
	if c.MaxTxPerWindow <= 0 {
		return fmt.Errorf("config: MAX_TX_PER_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
