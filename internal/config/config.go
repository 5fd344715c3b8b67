// Package config loads devlog configuration from an optional YAML file and
// environment variables. Environment variables win over file values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// HTTP server
	ServerPort string

	// Ingestion
	IngestConcurrency int
	MaxEventBatch     int
	RunRetention      time.Duration

	// Instance pool
	PoolIdleTTL time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig mirrors the YAML config file layout.
type fileConfig struct {
	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Ingest struct {
		Concurrency   int    `yaml:"concurrency"`
		MaxEventBatch int    `yaml:"max_event_batch"`
		RunRetention  string `yaml:"run_retention"`
	} `yaml:"ingest"`
	Pool struct {
		IdleTTL string `yaml:"idle_ttl"`
	} `yaml:"pool"`
	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads configuration, layering env vars over the optional config file.
func Load() Config {
	cfg := Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "devlog",
		SurrealDBDatabase:  "observability",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		ServerPort: "8910",

		IngestConcurrency: 4,
		MaxEventBatch:     1000,
		RunRetention:      time.Hour,

		PoolIdleTTL: 15 * time.Minute,

		LogFile:  "/tmp/devlog.log",
		LogLevel: slog.LevelInfo,
	}

	if fc, err := loadFile(configPath()); err != nil {
		slog.Warn("failed to read config file, using defaults", "error", err)
	} else if fc != nil {
		applyFile(&cfg, fc)
	}
	applyEnv(&cfg)

	return cfg
}

// configPath returns the config file location (DEVLOG_CONFIG or
// ~/.devlog/config.yaml).
func configPath() string {
	if p := os.Getenv("DEVLOG_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".devlog", "config.yaml")
}

// loadFile parses the YAML config file. A missing file is not an error.
func loadFile(path string) (*fileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	setString(&cfg.SurrealDBURL, fc.SurrealDB.URL)
	setString(&cfg.SurrealDBNamespace, fc.SurrealDB.Namespace)
	setString(&cfg.SurrealDBDatabase, fc.SurrealDB.Database)
	setString(&cfg.SurrealDBUser, fc.SurrealDB.User)
	setString(&cfg.SurrealDBPass, fc.SurrealDB.Pass)
	setString(&cfg.SurrealDBAuthLevel, fc.SurrealDB.AuthLevel)
	setString(&cfg.ServerPort, fc.Server.Port)
	if fc.Ingest.Concurrency > 0 {
		cfg.IngestConcurrency = fc.Ingest.Concurrency
	}
	if fc.Ingest.MaxEventBatch > 0 {
		cfg.MaxEventBatch = fc.Ingest.MaxEventBatch
	}
	setDuration(&cfg.RunRetention, fc.Ingest.RunRetention)
	setDuration(&cfg.PoolIdleTTL, fc.Pool.IdleTTL)
	setString(&cfg.LogFile, fc.Log.File)
	if fc.Log.Level != "" {
		cfg.LogLevel = ParseLogLevel(fc.Log.Level)
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.SurrealDBURL, os.Getenv("SURREALDB_URL"))
	setString(&cfg.SurrealDBNamespace, os.Getenv("SURREALDB_NAMESPACE"))
	setString(&cfg.SurrealDBDatabase, os.Getenv("SURREALDB_DATABASE"))
	setString(&cfg.SurrealDBUser, os.Getenv("SURREALDB_USER"))
	setString(&cfg.SurrealDBPass, os.Getenv("SURREALDB_PASS"))
	setString(&cfg.SurrealDBAuthLevel, os.Getenv("SURREALDB_AUTH_LEVEL"))
	setString(&cfg.ServerPort, os.Getenv("DEVLOG_SERVER_PORT"))
	setInt(&cfg.IngestConcurrency, os.Getenv("DEVLOG_INGEST_CONCURRENCY"))
	setInt(&cfg.MaxEventBatch, os.Getenv("DEVLOG_MAX_EVENT_BATCH"))
	setDuration(&cfg.RunRetention, os.Getenv("DEVLOG_RUN_RETENTION"))
	setDuration(&cfg.PoolIdleTTL, os.Getenv("DEVLOG_POOL_IDLE_TTL"))
	setString(&cfg.LogFile, os.Getenv("DEVLOG_LOG_FILE"))
	if lvl := os.Getenv("DEVLOG_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = ParseLogLevel(lvl)
	}
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setInt(dst *int, val string) {
	if val == "" {
		return
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		*dst = n
	}
}

func setDuration(dst *time.Duration, val string) {
	if val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		*dst = d
	}
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
