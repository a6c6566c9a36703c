// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mhalvorsen/lookout/internal/modules/settings"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for databases, analyses, and backups (always absolute)
	AnalysesDir     string // Where analysis artifacts are written
	BackupDir       string // Where maintenance backups land
	DBPath          string
	Port            int
	DevMode         bool
	LogLevel        string
	ReasoningBinary string // Path to the reasoning engine executable
	ReasoningDir    string // Working directory for the reasoning subprocess

	// ReasoningCapabilities is the capability allowlist handed to every
	// reasoning call. Entries are opaque to lookout (e.g. "mcp__ib__*").
	ReasoningCapabilities []string
	VectorStoreURL  string
	GraphStoreURL   string
	Timezone        string // Trading timezone, e.g. "America/New_York"
	HolidaysPath    string // Optional YAML market-holiday overrides
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LOOKOUT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		AnalysesDir:     getEnv("LOOKOUT_ANALYSES_DIR", filepath.Join(absDataDir, "analyses")),
		BackupDir:       getEnv("LOOKOUT_BACKUP_DIR", filepath.Join(absDataDir, "backups")),
		DBPath:          getEnv("LOOKOUT_DB_PATH", filepath.Join(absDataDir, "lookout.db")),
		Port:            getEnvAsInt("LOOKOUT_PORT", 8010),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ReasoningBinary: getEnv("LOOKOUT_REASONING_BIN", "claude"),
		ReasoningDir:    getEnv("LOOKOUT_REASONING_DIR", absDataDir),
		VectorStoreURL:  getEnv("LOOKOUT_VECTOR_URL", "http://localhost:9100"),
		GraphStoreURL:   getEnv("LOOKOUT_GRAPH_URL", "http://localhost:9200"),
		Timezone:        getEnv("LOOKOUT_TIMEZONE", "America/New_York"),
		HolidaysPath:    getEnv("LOOKOUT_HOLIDAYS_FILE", ""),
	}
	cfg.ReasoningCapabilities = splitList(getEnv("LOOKOUT_REASONING_CAPABILITIES", "mcp__ib__*"))

	for _, dir := range []string{cfg.AnalysesDir, cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateFromSettings applies overrides from the settings database.
// Non-empty settings values take precedence over environment
// variables; empty ones keep the env fallback.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	overrides := []struct {
		key  string
		dest *string
	}{
		{"reasoning_binary", &c.ReasoningBinary},
		{"vector_store_url", &c.VectorStoreURL},
		{"graph_store_url", &c.GraphStoreURL},
		{settings.KeyLogLevel, &c.LogLevel},
	}
	for _, o := range overrides {
		val, err := settingsRepo.Get(o.key)
		if err != nil {
			return fmt.Errorf("failed to get %s from settings: %w", o.key, err)
		}
		if val != nil && *val != "" {
			*o.dest = *val
		}
	}

	caps, err := settingsRepo.Get("reasoning_capabilities")
	if err != nil {
		return fmt.Errorf("failed to get reasoning_capabilities from settings: %w", err)
	}
	if caps != nil && *caps != "" {
		c.ReasoningCapabilities = splitList(*caps)
	}
	return nil
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReasoningBinary == "" {
		return fmt.Errorf("reasoning binary must be set")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
