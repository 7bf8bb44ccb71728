package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends for the persisted wallet fact.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageNATS     = "nats"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Persistence configuration
	StorageBackend string
	StorageDir     string
	DatabaseURL    string
	NATSKVBucket   string
	PersistKey     string

	// NATS configuration
	NATSURL       string
	PublishEvents bool
	EventBuffer   int

	// Store timing
	SettleDelay time.Duration
	ClaimTTL    time.Duration

	// Bitcoin configuration
	BitcoinNetwork string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))

	// Persistence configuration
	cfg.StorageBackend = strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageFile))
	cfg.StorageDir = getEnvOrDefault("STORAGE_DIR", defaultStorageDir())
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSKVBucket = getEnvOrDefault("NATS_KV_BUCKET", "WALLETLINK")
	cfg.PersistKey = getEnvOrDefault("PERSIST_KEY", "walletlink.wallet")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	publish, err := parseBool("PUBLISH_EVENTS", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PublishEvents = publish
	}

	buffer, err := parseInt("EVENT_BUFFER", 64)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EventBuffer = buffer
	}

	// Store timing
	settle, err := parseDuration("SETTLE_DELAY", "50ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SettleDelay = settle
	}

	ttl, err := parseDuration("CLAIM_TTL", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ClaimTTL = ttl
	}

	cfg.BitcoinNetwork = strings.ToLower(getEnvOrDefault("BITCOIN_NETWORK", "mainnet"))

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return nil, fmt.Errorf("configuration validation failed: %v", errs)
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("SERVER_ADDR is required"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be one of debug, info, warn, error", c.LogLevel))
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageFile:
		if c.StorageDir == "" {
			errs = append(errs, fmt.Errorf("STORAGE_DIR is required for the file backend"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres backend"))
		}
	case StorageNATS:
		if c.NATSURL == "" {
			errs = append(errs, fmt.Errorf("NATS_URL is required for the nats backend"))
		}
		if c.NATSKVBucket == "" {
			errs = append(errs, fmt.Errorf("NATS_KV_BUCKET is required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q must be one of memory, file, postgres, nats", c.StorageBackend))
	}

	if c.PersistKey == "" {
		errs = append(errs, fmt.Errorf("PERSIST_KEY is required"))
	}

	if c.PublishEvents && c.NATSURL == "" {
		errs = append(errs, fmt.Errorf("NATS_URL is required when PUBLISH_EVENTS is set"))
	}

	if c.EventBuffer < 1 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be at least 1"))
	}

	if c.SettleDelay <= 0 {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY must be positive"))
	}

	if c.ClaimTTL < time.Second {
		errs = append(errs, fmt.Errorf("CLAIM_TTL must be at least 1 second"))
	}

	if c.ClaimTTL <= c.SettleDelay {
		errs = append(errs, fmt.Errorf("CLAIM_TTL (%v) must be greater than SETTLE_DELAY (%v)", c.ClaimTTL, c.SettleDelay))
	}

	switch c.BitcoinNetwork {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		errs = append(errs, fmt.Errorf("BITCOIN_NETWORK %q must be one of mainnet, testnet, signet, regtest", c.BitcoinNetwork))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func defaultStorageDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "walletlink"
	}
	return ".walletlink"
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
