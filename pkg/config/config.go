// Package config loads node configuration from environment variables,
// following the flat Config-struct-plus-getEnv* idiom used throughout this
// codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Aureum node process.
type Config struct {
	// Server Configuration
	ListenAddr  string // JSON-RPC + /health surface
	MetricsAddr string

	// Storage Configuration
	DataDir    string // base directory for the embedded KV store and key material
	DBBackend  string // "goleveldb" (persistent) or "memdb" (tests/ephemeral)

	// Ed25519 Key Configuration
	Ed25519KeyPath string // path to node validator key file

	// Node Identity
	NodeID string

	// Genesis
	GenesisFile string

	// Consensus Configuration
	TickInterval        time.Duration
	RoundTimeout        time.Duration
	AuthorityVetoActive bool

	// P2P Configuration
	P2PListenAddr string
	Seeds         []string

	LogLevel string
}

// Load reads configuration from environment variables with safe local-dev
// defaults; production deployments are expected to override every field.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("AUREUM_LISTEN_ADDR", "0.0.0.0:8090"),
		MetricsAddr: getEnv("AUREUM_METRICS_ADDR", "0.0.0.0:9090"),

		DataDir:   getEnv("AUREUM_DATA_DIR", "./data"),
		DBBackend: getEnv("AUREUM_DB_BACKEND", "goleveldb"),

		Ed25519KeyPath: getEnv("AUREUM_ED25519_KEY_PATH", ""),

		NodeID: getEnv("AUREUM_NODE_ID", "node-default"),

		GenesisFile: getEnv("AUREUM_GENESIS_FILE", "./genesis.yaml"),

		TickInterval:        getEnvDuration("AUREUM_TICK_INTERVAL", 5*time.Second),
		RoundTimeout:        getEnvDuration("AUREUM_ROUND_TIMEOUT", 15*time.Second),
		AuthorityVetoActive: getEnvBool("AUREUM_AUTHORITY_VETO", true),

		P2PListenAddr: getEnv("AUREUM_P2P_LISTEN_ADDR", "0.0.0.0:26656"),
		Seeds:         parseCommaList(getEnv("AUREUM_SEEDS", "")),

		LogLevel: getEnv("AUREUM_LOG_LEVEL", "info"),
	}

	if cfg.Ed25519KeyPath == "" {
		cfg.Ed25519KeyPath = cfg.DataDir + "/ed25519_key.hex"
	}
	return cfg, nil
}

// Validate checks that configuration is internally consistent before the
// node starts serving traffic.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "AUREUM_DATA_DIR must not be empty")
	}
	if c.DBBackend != "goleveldb" && c.DBBackend != "memdb" {
		errs = append(errs, fmt.Sprintf("AUREUM_DB_BACKEND must be goleveldb or memdb, got %q", c.DBBackend))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, "AUREUM_TICK_INTERVAL must be positive")
	}
	if c.RoundTimeout <= 0 {
		errs = append(errs, "AUREUM_ROUND_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseCommaList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func parseCommaList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
