// Package config loads application configuration from environment variables.
// All variables use the POL_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	ZKCert      ZKCertConfig
	Lightning   LightningConfig
	Log         LogConfig
	CatalogPath string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL runs the
// server on in-memory stores.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL runs
// the snapshot tier in-process.
type CacheConfig struct {
	URL string
}

// ZKCertConfig holds certificate issuer settings.
type ZKCertConfig struct {
	ProofDelay time.Duration
	MintDelay  time.Duration
}

// LightningConfig holds Lightning payment settings.
type LightningConfig struct {
	Enabled      bool
	InvoiceDelay time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with POL_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("POL_SERVER_PORT", 8080),
			Host: envStr("POL_SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL:      envStr("POL_DATABASE_URL", ""),
			MaxConns: envInt("POL_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("POL_DATABASE_MIN_CONNS", 5),
		},
		Cache: CacheConfig{
			URL: envStr("POL_CACHE_URL", ""),
		},
		ZKCert: ZKCertConfig{
			ProofDelay: envDuration("POL_ZKCERT_PROOF_DELAY", 2*time.Second),
			MintDelay:  envDuration("POL_ZKCERT_MINT_DELAY", 1500*time.Millisecond),
		},
		Lightning: LightningConfig{
			Enabled:      envBool("POL_LIGHTNING_ENABLED", true),
			InvoiceDelay: envDuration("POL_LIGHTNING_INVOICE_DELAY", 500*time.Millisecond),
		},
		Log: LogConfig{
			Level:  envStr("POL_LOG_LEVEL", "info"),
			Format: envStr("POL_LOG_FORMAT", "json"),
		},
		CatalogPath: envStr("POL_CATALOG_PATH", "./content"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("POL_CATALOG_PATH is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("POL_SERVER_PORT must be a valid port, got %d", c.Server.Port)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("POL_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	if c.Database.URL != "" && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("POL_DATABASE_MIN_CONNS (%d) exceeds POL_DATABASE_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}

	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
