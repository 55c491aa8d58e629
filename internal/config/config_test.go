package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, DefaultUSDCContract, cfg.USDCContract)
	assert.Equal(t, DefaultPlatformAccount, cfg.PlatformAccount)
	assert.Equal(t, DefaultExpiryDays, cfg.DefaultExpiryDays)
	assert.False(t, cfg.WatcherEnabled())
}

func TestLoad_WatcherSettings(t *testing.T) {
	setEnv(t, "CUSTODY_ADDRESS", "0x1234567890123456789012345678901234567890")
	setEnv(t, "RPC_URL", "https://mainnet.base.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.WatcherEnabled())
	assert.Equal(t, "https://mainnet.base.org", cfg.RPCURL)
}

func TestLoad_InvalidCustodyAddress(t *testing.T) {
	setEnv(t, "CUSTODY_ADDRESS", "not-an-address")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CUSTODY_ADDRESS")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Env:               "development",
		DefaultExpiryDays: 7,
		PlatformAccount:   "atlas_treasury",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad env",
			mutate:  func(c *Config) { c.Env = "test" },
			wantErr: "ENV must be",
		},
		{
			name:    "zero expiry days",
			mutate:  func(c *Config) { c.DefaultExpiryDays = 0 },
			wantErr: "DEFAULT_EXPIRY_DAYS",
		},
		{
			name:    "empty platform account",
			mutate:  func(c *Config) { c.PlatformAccount = "" },
			wantErr: "PLATFORM_ACCOUNT",
		},
		{
			name: "custody address without RPC",
			mutate: func(c *Config) {
				c.CustodyAddress = "0x1234567890123456789012345678901234567890"
				c.RPCURL = ""
			},
			wantErr: "RPC_URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestIsHexAddress(t *testing.T) {
	assert.True(t, isHexAddress("0x1234567890123456789012345678901234567890"))
	assert.True(t, isHexAddress("0xAbCdEf0000000000000000000000000000000000"))
	assert.False(t, isHexAddress("1234567890123456789012345678901234567890"))
	assert.False(t, isHexAddress("0x123"))
	assert.False(t, isHexAddress("0xzz34567890123456789012345678901234567890"))
}
