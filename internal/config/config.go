// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process configuration. The target network is fixed at build
// time; only the endpoint URL is overridable.
type Config struct {
	RPCURL             string
	ChainID            uint64
	ListenAddr         string
	DatabasePath       string
	WalletFilePath     string // newline-delimited private keys
	ProxyFilePath      string // optional, newline-delimited proxy URLs
	RunConfigPath      string // persisted run configuration (JSON)
	LogLevel           string // debug, info, warn, error
	CORSAllowedOrigins string // comma-separated list of allowed origins, or "*" for all
	RPCRateLimit       float64
}

// Defaults
const (
	NetworkName               = "sepolia"
	DefaultChainID            = 11155111
	DefaultRPCURL             = "https://ethereum-sepolia-rpc.publicnode.com"
	DefaultListenAddr         = ":3002"
	DefaultDatabasePath       = "./data/stakefarm.db"
	DefaultWalletFilePath     = "./wallets.txt"
	DefaultRunConfigPath      = "./runconfig.json"
	DefaultLogLevel           = "info"
	DefaultCORSAllowedOrigins = "*"
	DefaultRPCRateLimit       = 20.0 // requests per second per wallet client
)

// Load reads configuration from a .env file (when present) and environment
// variables. Command-line flags are applied by the caller afterwards and take
// precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RPCURL:             DefaultRPCURL,
		ChainID:            DefaultChainID,
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		WalletFilePath:     DefaultWalletFilePath,
		RunConfigPath:      DefaultRunConfigPath,
		LogLevel:           DefaultLogLevel,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		RPCRateLimit:       DefaultRPCRateLimit,
	}

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil && id > 0 {
			cfg.ChainID = id
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("WALLET_FILE"); v != "" {
		cfg.WalletFilePath = v
	}
	if v := os.Getenv("PROXY_FILE"); v != "" {
		cfg.ProxyFilePath = v
	}
	if v := os.Getenv("RUN_CONFIG_PATH"); v != "" {
		cfg.RunConfigPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("RPC_RATE_LIMIT"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			cfg.RPCRateLimit = rate
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	if c.WalletFilePath == "" {
		return fmt.Errorf("wallet file path is required")
	}
	if c.RunConfigPath == "" {
		return fmt.Errorf("run config path is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.RPCRateLimit <= 0 {
		return fmt.Errorf("RPC rate limit must be positive")
	}
	return nil
}
