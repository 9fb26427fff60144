// Package config loads Grimoire configuration from the environment and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreSurreal   = "surreal"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Blob backends.
const (
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

// Config holds all configuration values.
type Config struct {
	// HTTP
	ServerPort     string        `yaml:"server_port"`
	ServerURL      string        `yaml:"server_url"`
	ClientTimeout  time.Duration `yaml:"client_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`

	// Source store
	Store string `yaml:"store"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// SQLite
	SQLitePath string `yaml:"sqlite_path"`

	// Google Cloud
	GCPProjectID        string `yaml:"gcp_project_id"`
	FirestoreCollection string `yaml:"firestore_collection"`

	// Blob storage
	Blob    string `yaml:"blob"`
	BlobDir string `yaml:"blob_dir"`
	Bucket  string `yaml:"bucket"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// fileConfig mirrors Config for YAML decoding; the log level is kept as text.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables.
// If GRIMOIRE_CONFIG names a YAML file, its values replace the defaults;
// environment variables still win over the file.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("GRIMOIRE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.ServerPort = getEnv("GRIMOIRE_SERVER_PORT", cfg.ServerPort)
	cfg.ServerURL = getEnv("GRIMOIRE_SERVER_URL", cfg.ServerURL)
	cfg.ClientTimeout = getDuration("GRIMOIRE_CLIENT_TIMEOUT", cfg.ClientTimeout)
	cfg.MaxUploadBytes = getInt64("GRIMOIRE_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)

	cfg.Store = strings.ToLower(getEnv("GRIMOIRE_STORE", cfg.Store))

	cfg.SurrealDBURL = getEnv("SURREALDB_URL", cfg.SurrealDBURL)
	cfg.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", cfg.SurrealDBNamespace)
	cfg.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", cfg.SurrealDBDatabase)
	cfg.SurrealDBUser = getEnv("SURREALDB_USER", cfg.SurrealDBUser)
	cfg.SurrealDBPass = getEnv("SURREALDB_PASS", cfg.SurrealDBPass)
	cfg.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", cfg.SurrealDBAuthLevel)

	cfg.SQLitePath = getEnv("GRIMOIRE_SQLITE_PATH", cfg.SQLitePath)

	cfg.GCPProjectID = getEnv("GCP_PROJECT_ID", cfg.GCPProjectID)
	cfg.FirestoreCollection = getEnv("FIRESTORE_COLLECTION", cfg.FirestoreCollection)

	cfg.Blob = strings.ToLower(getEnv("GRIMOIRE_BLOB", cfg.Blob))
	cfg.BlobDir = getEnv("GRIMOIRE_BLOB_DIR", cfg.BlobDir)
	cfg.Bucket = getEnv("GRIMOIRE_BUCKET", cfg.Bucket)

	cfg.LogFile = getEnv("GRIMOIRE_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("GRIMOIRE_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ServerPort:     "8484",
		ServerURL:      "http://localhost:8484",
		ClientTimeout:  10 * time.Minute,
		MaxUploadBytes: 64 << 20,

		Store: StoreSurreal,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "grimoire",
		SurrealDBDatabase:  "sources",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		SQLitePath: "./data/grimoire.db",

		FirestoreCollection: "sources",

		Blob:    BlobLocal,
		BlobDir: "./data/uploads",
		Bucket:  "uploads",

		LogFile:  "/tmp/grimoire.log",
		LogLevel: slog.LevelInfo,
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	level := c.LogLevel
	if fc.LogLevel != "" {
		level = parseLogLevel(fc.LogLevel)
	}
	*c = fc.Config
	c.LogLevel = level
	return nil
}

// Validate rejects unknown backends and missing required settings.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSurreal, StoreSQLite:
	case StoreFirestore:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID must be set for the firestore store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.Blob {
	case BlobLocal:
		if c.BlobDir == "" {
			return fmt.Errorf("GRIMOIRE_BLOB_DIR must be set for the local blob store")
		}
	case BlobGCS:
		if c.Bucket == "" {
			return fmt.Errorf("GRIMOIRE_BUCKET must be set for the gcs blob store")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", val)
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", val)
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
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
