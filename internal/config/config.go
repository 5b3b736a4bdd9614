// Package config provides host configuration from environment variables and
// the routing profile loader.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all host configuration. The routing profile itself lives in a
// separate YAML file, see LoadProfile.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Engine      EngineConfig
	LogRotation LogRotationConfig
	LogLevel    string
	ProfilePath string
}

// ServerConfig holds HTTP host configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds ledger database configuration.
type DatabaseConfig struct {
	Path string
}

// EngineConfig holds routing engine tuning.
type EngineConfig struct {
	// MaxOutputTokens caps provider output and doubles as the assumed
	// output size for pre-call budget estimates.
	MaxOutputTokens int
	Temperature     float64
	// RankCacheSize bounds the ranking decision LRU.
	RankCacheSize int
	// LocalKind is the provider kind served by the built-in local echo
	// backend. Profile providers of this kind need no external client.
	LocalKind string
}

// LogRotationConfig holds log rotation settings powered by lumberjack.
type LogRotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "model-router.db",
		},
		Engine: EngineConfig{
			MaxOutputTokens: 2048,
			Temperature:     0.7,
			RankCacheSize:   1024,
			LocalKind:       "local",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		LogLevel:    "INFO",
		ProfilePath: "profile.yaml",
	}
}

// Load builds configuration from defaults, an optional .env file and
// environment variable overrides, in that order of precedence.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over its contents.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.Server.Host = getEnvStr("MODEL_ROUTER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("MODEL_ROUTER_PORT", cfg.Server.Port)
	cfg.Database.Path = getEnvStr("MODEL_ROUTER_DB_PATH", cfg.Database.Path)
	cfg.Engine.MaxOutputTokens = getEnvInt("MODEL_ROUTER_MAX_OUTPUT_TOKENS", cfg.Engine.MaxOutputTokens)
	cfg.Engine.RankCacheSize = getEnvInt("MODEL_ROUTER_RANK_CACHE_SIZE", cfg.Engine.RankCacheSize)
	cfg.Engine.LocalKind = getEnvStr("MODEL_ROUTER_LOCAL_KIND", cfg.Engine.LocalKind)
	cfg.LogLevel = getEnvStr("MODEL_ROUTER_LOG_LEVEL", cfg.LogLevel)
	cfg.ProfilePath = getEnvStr("MODEL_ROUTER_PROFILE", cfg.ProfilePath)
	cfg.LogRotation.MaxSizeMB = getEnvInt("MODEL_ROUTER_LOG_MAX_SIZE_MB", cfg.LogRotation.MaxSizeMB)
	cfg.LogRotation.MaxBackups = getEnvInt("MODEL_ROUTER_LOG_MAX_BACKUPS", cfg.LogRotation.MaxBackups)
	cfg.LogRotation.MaxAgeDays = getEnvInt("MODEL_ROUTER_LOG_MAX_AGE_DAYS", cfg.LogRotation.MaxAgeDays)
	cfg.LogRotation.Compress = getEnvBool("MODEL_ROUTER_LOG_COMPRESS", cfg.LogRotation.Compress)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Engine.MaxOutputTokens < 1 {
		return &ConfigError{Field: "engine.max_output_tokens", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration validation error. Config errors are
// fatal at load time and never occur during routing.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Helper functions for environment variable parsing.

func getEnvStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	lower := strings.ToLower(v)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "on"
}
