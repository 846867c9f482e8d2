// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for pinned prices and other persisted state (always absolute)
	IndexDir      string // Directory scanned for index definition files (CSV/JSON), empty disables
	Port          int
	LogLevel      string
	DevMode       bool
	DefaultCash   float64       // Starting cash for simulated providers
	PriceCacheTTL time.Duration // How long real-time prices stay fresh
	RefreshCron   string        // Cron expression for the periodic portfolio refresh job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check REBALANCER_DATA_DIR environment variable
	// 2. If not set, default to the user cache dir
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("REBALANCER_DATA_DIR", "")
	if dataDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine cache directory: %w", err)
		}
		dataDir = filepath.Join(base, "rebalancer")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		IndexDir:      getEnv("REBALANCER_INDEX_DIR", ""),
		Port:          getEnvAsInt("REBALANCER_PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		DefaultCash:   getEnvAsFloat("REBALANCER_DEFAULT_CASH", 10000),
		PriceCacheTTL: time.Duration(getEnvAsInt("REBALANCER_PRICE_TTL_SECONDS", 3600)) * time.Second,
		RefreshCron:   getEnv("REBALANCER_REFRESH_CRON", "0 */15 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.PriceCacheTTL <= 0 {
		return fmt.Errorf("price cache TTL must be positive")
	}
	if c.DefaultCash < 0 {
		return fmt.Errorf("default cash must not be negative")
	}
	if c.IndexDir != "" {
		if info, err := os.Stat(c.IndexDir); err != nil || !info.IsDir() {
			return fmt.Errorf("index directory does not exist: %s", c.IndexDir)
		}
	}
	return nil
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as a float with a fallback default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a fallback default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
