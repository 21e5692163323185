// Package config loads the engine's environment-driven configuration
// and constructs the process-wide logger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// HealthSource selects which authoritative health-ratio computation a
// caller trusts.
type HealthSource string

const (
	HealthSourceRecomputed HealthSource = "recomputed"
	HealthSourceHybrid     HealthSource = "hybrid"
)

// EvParams are the cost/bonus model the scheduler's EV estimate is
// built from.
type EvParams struct {
	CloseFactorPct      float64 // fraction of the debt liquidatable in one call, percent
	LiquidationBonusBps float64 // bonus spread seized on top of the repaid debt, basis points
	FlashloanFeeBps     float64 // flash-loan fee charged on the borrowed leg, basis points
	FixedGasUsd         float64 // fixed USD cost assumed per broadcast attempt
	SlippageBufferPct   float64 // swap-leg slippage buffer, percent
}

// Config is the full set of engine tunables.
type Config struct {
	SolanaRPCURL       string
	GeyserGRPCEndpoint string
	LendingProgramID   string
	MarketAddress      string
	AllowlistMints     []string
	WalletKeypairPath  string

	MinEvUsd    float64
	MaxTtlMin   float64
	MinHazard   float64
	HazardAlpha float64
	EvParams    EvParams

	HealthSource   HealthSource
	StaleSfSlotLag uint64

	PresubmitTopK    int
	PresubmitTTL     time.Duration
	PresubmitRefresh time.Duration

	BroadcastMaxAttempts     int
	BroadcastMinDelay        time.Duration
	CuLimit                  uint32
	CuPriceMicrolamports     uint64
	CuLimitBumpFactor        float64
	CuPriceBumpMicrolamports uint64
	FlashLoanEnabled         bool

	InactivityTimeoutSec   int
	MaxReconnectAttempts   int
	ReconnectDelay         time.Duration
	ReconnectBackoffFactor float64

	StatusAddr string
	LogLevel   string

	SnapshotPath   string
	PlanQueuePath  string
	SetupStatePath string

	JupiterBaseURL  string
	JupiterAPIKey   string
	SwapEnabled     bool
	SwapSlippageBps uint16
}

// LoadEnvFile loads a .env file from the repository root, and is a
// no-op (besides the error it swallows) if the file is absent.
func LoadEnvFile() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// Load reads configuration from environment variables, applying
// defaults where one exists.
func Load() (*Config, error) {
	cfg := &Config{
		SolanaRPCURL:       envOr("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		GeyserGRPCEndpoint: envOr("GEYSER_GRPC_ENDPOINT", ""),
		LendingProgramID:   os.Getenv("LENDING_PROGRAM_ID"),
		MarketAddress:      os.Getenv("MARKET_ADDRESS"),
		AllowlistMints:     splitCsv(os.Getenv("ALLOWLIST_MINTS")),
		WalletKeypairPath:  os.Getenv("WALLET_KEYPAIR_PATH"),

		MinEvUsd:    envFloat("MIN_EV_USD", 5),
		MaxTtlMin:   envFloat("MAX_TTL_MIN", 0), // 0 == unbounded
		MinHazard:   envFloat("MIN_HAZARD", 0),
		HazardAlpha: envFloat("HAZARD_ALPHA", 25),
		EvParams: EvParams{
			CloseFactorPct:      envFloat("EV_CLOSE_FACTOR_PCT", 50),
			LiquidationBonusBps: envFloat("EV_LIQUIDATION_BONUS_BPS", 500),
			FlashloanFeeBps:     envFloat("EV_FLASHLOAN_FEE_BPS", 9),
			FixedGasUsd:         envFloat("EV_FIXED_GAS_USD", 0.05),
			SlippageBufferPct:   envFloat("EV_SLIPPAGE_BUFFER_PCT", 0.5),
		},

		HealthSource:   HealthSource(envOr("HEALTH_SOURCE", string(HealthSourceRecomputed))),
		StaleSfSlotLag: envUint64("STALE_SF_SLOT_LAG", 200_000),

		PresubmitTopK:    envInt("PRESUBMIT_TOP_K", 5),
		PresubmitTTL:     envDuration("PRESUBMIT_TTL_MS", 60*time.Second),
		PresubmitRefresh: envDuration("PRESUBMIT_REFRESH_MS", 10*time.Second),

		BroadcastMaxAttempts:     envInt("BROADCAST_MAX_ATTEMPTS", 2),
		BroadcastMinDelay:        envDuration("BROADCAST_MIN_DELAY_MS", 10*time.Second),
		CuLimit:                  uint32(envUint64("CU_LIMIT", 600_000)),
		CuPriceMicrolamports:     envUint64("CU_PRICE_MICROLAMPORTS", 1000),
		CuLimitBumpFactor:        envFloat("CU_LIMIT_BUMP_FACTOR", 1.5),
		CuPriceBumpMicrolamports: envUint64("CU_PRICE_BUMP_MICROLAMPORTS", 2000),
		FlashLoanEnabled:         envOr("FLASH_LOAN_ENABLED", "true") == "true",

		InactivityTimeoutSec:   envInt("INACTIVITY_TIMEOUT_SEC", 15),
		MaxReconnectAttempts:   envInt("MAX_RECONNECT_ATTEMPTS", 8),
		ReconnectDelay:         envDuration("RECONNECT_DELAY_MS", 500*time.Millisecond),
		ReconnectBackoffFactor: envFloat("RECONNECT_BACKOFF_FACTOR", 2),

		StatusAddr: envOr("STATUS_ADDR", ":8090"),
		LogLevel:   envOr("LOG_LEVEL", "info"),

		SnapshotPath:   envOr("SNAPSHOT_PATH", "./data/obligations.snapshot.jsonl"),
		PlanQueuePath:  envOr("PLAN_QUEUE_PATH", "./data/plan_queue.json"),
		SetupStatePath: envOr("SETUP_STATE_PATH", "./data/setup_state.json"),

		JupiterBaseURL:  envOr("JUPITER_BASE_URL", "https://quote-api.jup.ag/v6"),
		JupiterAPIKey:   os.Getenv("JUPITER_API_KEY"),
		SwapEnabled:     envOr("SWAP_ENABLED", "false") == "true",
		SwapSlippageBps: uint16(envUint64("SWAP_SLIPPAGE_BPS", 50)),
	}

	if cfg.LendingProgramID == "" {
		return nil, fmt.Errorf("missing required environment variable: LENDING_PROGRAM_ID")
	}
	if cfg.MarketAddress == "" {
		return nil, fmt.Errorf("missing required environment variable: MARKET_ADDRESS")
	}
	if cfg.HealthSource != HealthSourceRecomputed && cfg.HealthSource != HealthSourceHybrid {
		return nil, fmt.Errorf("invalid HEALTH_SOURCE %q (must be recomputed|hybrid)", cfg.HealthSource)
	}

	return cfg, nil
}

// AllowlistActive reports whether scoring is restricted to a fixed
// mint allowlist.
func (c *Config) AllowlistActive() bool {
	return len(c.AllowlistMints) > 0
}

// MintAllowed reports whether mint is in the allowlist. Callers should
// only consult this after checking AllowlistActive.
func (c *Config) MintAllowed(mint string) bool {
	for _, m := range c.AllowlistMints {
		if m == mint {
			return true
		}
	}
	return false
}

// NewLogger constructs the process-wide logrus logger per LogLevel.
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envUint64(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func splitCsv(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
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
