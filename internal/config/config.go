// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Challenge settings
	PlatformAccount   string // ledger account collecting platform fees
	DefaultExpiryDays int

	// Deposit watcher (disabled unless CustodyAddress is set)
	RPCURL         string
	USDCContract   string
	CustodyAddress string

	// Security
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty = tracing disabled
}

// Base Sepolia defaults
const (
	DefaultRPCURL          = "https://sepolia.base.org"
	DefaultUSDCContract    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPlatformAccount = "atlas_treasury"
	DefaultExpiryDays      = 7
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PlatformAccount:   getEnv("PLATFORM_ACCOUNT", DefaultPlatformAccount),
		DefaultExpiryDays: int(getEnvInt64("DEFAULT_EXPIRY_DAYS", DefaultExpiryDays)),
		RPCURL:            getEnv("RPC_URL", DefaultRPCURL),
		USDCContract:      getEnv("USDC_CONTRACT", DefaultUSDCContract),
		CustodyAddress:    os.Getenv("CUSTODY_ADDRESS"), // Optional, watcher off if not set
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production")
	}

	if c.DefaultExpiryDays < 1 {
		return fmt.Errorf("DEFAULT_EXPIRY_DAYS must be at least 1")
	}

	if c.PlatformAccount == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT must not be empty")
	}

	if c.CustodyAddress != "" {
		if !isHexAddress(c.CustodyAddress) {
			return fmt.Errorf("CUSTODY_ADDRESS must be a 0x-prefixed 40-hex-char address")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required when CUSTODY_ADDRESS is set")
		}
	}

	return nil
}

// WatcherEnabled reports whether the on-chain deposit watcher should run
func (c *Config) WatcherEnabled() bool {
	return c.CustodyAddress != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
