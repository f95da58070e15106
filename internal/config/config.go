// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/verdigrid/retroledger/internal/ledger"
)

// Config holds the engine configuration. Prices are configured in gwei
// for operator convenience; the *Wei helpers convert for the estimator,
// which works in wei throughout.
type Config struct {
	RPCURL          string
	WSURL           string // WebSocket URL for newHeads confirmation wake-ups (optional)
	ChainID         int64
	RegistryAddress string
	PrivateKey      string // hex-encoded submitting key

	OracleURL     string
	OracleTimeout time.Duration

	CacheTTL          time.Duration
	PriceBufferPct    uint64
	MinPriceGwei      uint64
	MaxPriceGwei      uint64
	FallbackPriceGwei uint64

	BatchSize      int
	GasMarginPct   int
	ConfirmTimeout time.Duration

	MonitorInterval        time.Duration
	VolatilityThresholdPct uint64

	BlocksPerDay uint64

	DatabasePath string
	ListenAddr   string
	LogLevel     string

	// DevMode hosts the ledger on the in-process sim node instead of
	// connecting to RPCURL.
	DevMode bool

	// SubmitFile, when set, runs a one-shot submission of the requests
	// in the file and exits.
	SubmitFile string

	// ReportDays, when positive, prints a gas report over the trailing
	// window and exits.
	ReportDays int
}

// Defaults
const (
	DefaultRPCURL            = "http://localhost:8545"
	DefaultChainID           = 1337
	DefaultOracleTimeout     = 5 * time.Second
	DefaultCacheTTL          = 60 * time.Second
	DefaultPriceBufferPct    = 10
	DefaultMinPriceGwei      = 5
	DefaultMaxPriceGwei      = 150
	DefaultFallbackPriceGwei = 30
	DefaultBatchSize         = 10
	DefaultGasMarginPct      = 20
	DefaultConfirmTimeout    = 60 * time.Second
	DefaultMonitorInterval   = 5 * time.Minute
	DefaultVolatilityPct     = 20
	DefaultBlocksPerDay      = 7200
	DefaultDatabasePath      = "./data/retroledger.db"
	DefaultListenAddr        = ":3001"
	DefaultLogLevel          = "info"
)

// LedgerBatchCap is the protocol-level per-call record cap. Unlike
// BatchSize it is not an operational knob.
const LedgerBatchCap = ledger.MaxBatchRecords

const weiPerGwei = uint64(1_000_000_000)

// MinPriceWei returns the clamp floor in wei.
func (c *Config) MinPriceWei() uint64 { return c.MinPriceGwei * weiPerGwei }

// MaxPriceWei returns the clamp ceiling in wei.
func (c *Config) MaxPriceWei() uint64 { return c.MaxPriceGwei * weiPerGwei }

// FallbackPriceWei returns the last-resort price in wei.
func (c *Config) FallbackPriceWei() uint64 { return c.FallbackPriceGwei * weiPerGwei }

// Load reads configuration from environment variables and command-line
// flags. Flags take precedence over environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:            DefaultRPCURL,
		ChainID:           DefaultChainID,
		OracleTimeout:     DefaultOracleTimeout,
		CacheTTL:          DefaultCacheTTL,
		PriceBufferPct:    DefaultPriceBufferPct,
		MinPriceGwei:      DefaultMinPriceGwei,
		MaxPriceGwei:      DefaultMaxPriceGwei,
		FallbackPriceGwei: DefaultFallbackPriceGwei,
		BatchSize:         DefaultBatchSize,
		GasMarginPct:      DefaultGasMarginPct,
		ConfirmTimeout:    DefaultConfirmTimeout,
		MonitorInterval:   DefaultMonitorInterval,

		VolatilityThresholdPct: DefaultVolatilityPct,
		BlocksPerDay:           DefaultBlocksPerDay,
		DatabasePath:           DefaultDatabasePath,
		ListenAddr:             DefaultListenAddr,
		LogLevel:               DefaultLogLevel,
	}
	cfg.applyEnv()

	var (
		rpcURL     = flag.String("rpc", cfg.RPCURL, "Ledger node RPC URL")
		wsURL      = flag.String("ws", cfg.WSURL, "Ledger node WebSocket URL for newHeads (optional)")
		chainID    = flag.Int64("chainid", cfg.ChainID, "Chain ID")
		registry   = flag.String("registry", cfg.RegistryAddress, "Registry contract address")
		key        = flag.String("key", cfg.PrivateKey, "Hex private key of the submitting verifier")
		oracleURL  = flag.String("oracle", cfg.OracleURL, "Gas price oracle URL (optional)")
		oracleTO   = flag.Duration("oracle-timeout", cfg.OracleTimeout, "Oracle request timeout")
		cacheTTL   = flag.Duration("cache-ttl", cfg.CacheTTL, "Gas price cache TTL")
		bufferPct  = flag.Uint64("price-buffer-pct", cfg.PriceBufferPct, "Safety buffer over the raw gas price, percent")
		minGwei    = flag.Uint64("min-price-gwei", cfg.MinPriceGwei, "Gas price clamp floor, gwei")
		maxGwei    = flag.Uint64("max-price-gwei", cfg.MaxPriceGwei, "Gas price clamp ceiling, gwei")
		fbGwei     = flag.Uint64("fallback-price-gwei", cfg.FallbackPriceGwei, "Price when the oracle and the node estimate both fail, gwei")
		batchSize  = flag.Int("batch-size", cfg.BatchSize, "Records per submitted batch")
		gasMargin  = flag.Int("gas-margin-pct", cfg.GasMarginPct, "Safety margin over the raw gas estimate, percent")
		confirmTO  = flag.Duration("confirm-timeout", cfg.ConfirmTimeout, "Per-batch confirmation wait")
		monitorIv  = flag.Duration("monitor-interval", cfg.MonitorInterval, "Volatility monitor sample interval")
		volPct     = flag.Uint64("volatility-pct", cfg.VolatilityThresholdPct, "Price move that raises an alert, percent")
		blocksDay  = flag.Uint64("blocks-per-day", cfg.BlocksPerDay, "Blocks per day for analytics windows")
		dbPath     = flag.String("database", cfg.DatabasePath, "SQLite database path")
		listenAddr = flag.String("listen", cfg.ListenAddr, "Ops HTTP listen address")
		logLevel   = flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		devMode    = flag.Bool("dev", false, "Run against the in-process sim node")
		submitFile = flag.String("submit", "", "Submit the verification requests in this JSON file and exit")
		reportDays = flag.Int("report", 0, "Print a gas report over the trailing N days and exit")
	)
	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.ChainID = *chainID
	cfg.RegistryAddress = *registry
	cfg.PrivateKey = *key
	cfg.OracleURL = *oracleURL
	cfg.OracleTimeout = *oracleTO
	cfg.CacheTTL = *cacheTTL
	cfg.PriceBufferPct = *bufferPct
	cfg.MinPriceGwei = *minGwei
	cfg.MaxPriceGwei = *maxGwei
	cfg.FallbackPriceGwei = *fbGwei
	cfg.BatchSize = *batchSize
	cfg.GasMarginPct = *gasMargin
	cfg.ConfirmTimeout = *confirmTO
	cfg.MonitorInterval = *monitorIv
	cfg.VolatilityThresholdPct = *volPct
	cfg.BlocksPerDay = *blocksDay
	cfg.DatabasePath = *dbPath
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel
	cfg.DevMode = *devMode
	cfg.SubmitFile = *submitFile
	cfg.ReportDays = *reportDays

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the defaults.
func (c *Config) applyEnv() {
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			c.ChainID = id
		}
	}
	if v := os.Getenv("REGISTRY_ADDRESS"); v != "" {
		c.RegistryAddress = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		c.OracleURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.DevMode && c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchSize > LedgerBatchCap {
		return fmt.Errorf("batch size %d exceeds ledger record cap %d", c.BatchSize, LedgerBatchCap)
	}
	if c.MinPriceGwei == 0 || c.MaxPriceGwei == 0 {
		return fmt.Errorf("price clamps must be positive")
	}
	if c.MinPriceGwei > c.MaxPriceGwei {
		return fmt.Errorf("min price %d gwei exceeds max price %d gwei", c.MinPriceGwei, c.MaxPriceGwei)
	}
	if c.FallbackPriceGwei == 0 {
		return fmt.Errorf("fallback price must be positive")
	}
	if c.GasMarginPct < 0 {
		return fmt.Errorf("gas margin cannot be negative")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.VolatilityThresholdPct == 0 {
		return fmt.Errorf("volatility threshold must be positive")
	}
	if c.BlocksPerDay == 0 {
		return fmt.Errorf("blocks per day must be positive")
	}
	if c.ReportDays < 0 {
		return fmt.Errorf("report days cannot be negative")
	}
	return nil
}
