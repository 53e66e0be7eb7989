// Package config provides process configuration with support for command-line
// flags, environment variables, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Server   ServerConfig
	Data     DataConfig
	Store    StoreConfig
	Auth     AuthConfig
	Catalog  CatalogConfig
	Import   ImportConfig
	Notify   NotifyConfig
	Settings SettingsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string // json or pretty; empty picks by environment
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	// Inbound limiter for unauthenticated auth endpoints.
	AuthRPS   float64
	AuthBurst int
}

// DataConfig holds on-disk locations.
type DataConfig struct {
	BasePath string // ~/.gamereq by default
}

// StoreConfig selects and tunes the request store.
type StoreConfig struct {
	Driver      string // sqlite or postgres
	PostgresDSN string
	Timeout     time.Duration
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	AccessTokenKey      []byte // set from auth.LoadOrGenerateKey
	AccessTokenDuration time.Duration
}

// CatalogConfig configures the external game catalog client.
type CatalogConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	RPS          float64
	Burst        int
	MaxWait      time.Duration
	Timeout      time.Duration
	SearchTTL    time.Duration
	DetailTTL    time.Duration
	// PersistentCache enables the badger tier under Data.BasePath/cache.
	PersistentCache bool
}

// ImportConfig bounds the bulk import worker pool.
type ImportConfig struct {
	Concurrency  int
	MaxBatchSize int
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	QueueSize       int
	MaxRetries      int
	Backoff         time.Duration
	Timeout         time.Duration
	TelegramBaseURL string
}

// SettingsConfig points at the optional runtime settings seed file.
type SettingsConfig struct {
	SeedFile string
	Watch    bool
}

const (
	MaxImportConcurrency = 8
	DefaultCatalogURL    = "https://api.igdb.com/v4"
	DefaultTokenURL      = "https://id.twitch.tv/oauth2/token"
	DefaultTelegramURL   = "https://api.telegram.org"
)

// LoadConfig loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gamereq", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "Log format (json, pretty)")
	dataPath := fs.String("data-path", "", "Base path for databases, caches and keys")
	port := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 30s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	storeDriver := fs.String("store", "", "Request store driver (sqlite, postgres)")
	catalogRPS := fs.String("catalog-rps", "", "Catalog requests per second (default: 4)")
	importConcurrency := fs.String("import-concurrency", "", "Import worker count (default: 5, max 8)")
	seedFile := fs.String("settings-file", "", "TOML file seeding runtime settings")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Existing environment variables win over the file.
	_ = godotenv.Load(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:  getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			Format: getConfigValue(*logFormat, "LOG_FORMAT", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*port, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue("", "CORS_ORIGINS", "*")),
			AuthBurst:   getIntConfigValue("", "AUTH_RATE_BURST", 10),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Store: StoreConfig{
			Driver:      getConfigValue(*storeDriver, "STORE_DRIVER", "sqlite"),
			PostgresDSN: getConfigValue("", "DATABASE_URL", ""),
		},
		Catalog: CatalogConfig{
			ClientID:        getConfigValue("", "IGDB_CLIENT_ID", ""),
			ClientSecret:    getConfigValue("", "IGDB_CLIENT_SECRET", ""),
			BaseURL:         getConfigValue("", "IGDB_BASE_URL", DefaultCatalogURL),
			TokenURL:        getConfigValue("", "IGDB_TOKEN_URL", DefaultTokenURL),
			Burst:           getIntConfigValue("", "CATALOG_BURST", 4),
			PersistentCache: getBoolConfigValue("", "CATALOG_PERSISTENT_CACHE", true),
		},
		Import: ImportConfig{
			Concurrency:  getIntConfigValue(*importConcurrency, "IMPORT_CONCURRENCY", 5),
			MaxBatchSize: getIntConfigValue("", "IMPORT_MAX_BATCH", 100),
		},
		Notify: NotifyConfig{
			QueueSize:       getIntConfigValue("", "NOTIFY_QUEUE_SIZE", 256),
			MaxRetries:      getIntConfigValue("", "NOTIFY_MAX_RETRIES", 2),
			TelegramBaseURL: getConfigValue("", "TELEGRAM_BASE_URL", DefaultTelegramURL),
		},
		Settings: SettingsConfig{
			SeedFile: getConfigValue(*seedFile, "SETTINGS_FILE", ""),
			Watch:    getBoolConfigValue("", "SETTINGS_WATCH", true),
		},
	}

	var err error
	if cfg.Catalog.RPS, err = getFloatConfigValue(*catalogRPS, "CATALOG_RPS", 4); err != nil {
		return nil, err
	}
	if cfg.Server.AuthRPS, err = getFloatConfigValue("", "AUTH_RATE_RPS", 1); err != nil {
		return nil, err
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "30s"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Store.Timeout, "", "STORE_TIMEOUT", "5s"},
		{&cfg.Auth.AccessTokenDuration, "", "ACCESS_TOKEN_DURATION", "24h"},
		{&cfg.Catalog.MaxWait, "", "CATALOG_MAX_WAIT", "2s"},
		{&cfg.Catalog.Timeout, "", "CATALOG_TIMEOUT", "10s"},
		{&cfg.Catalog.SearchTTL, "", "CATALOG_SEARCH_TTL", "10m"},
		{&cfg.Catalog.DetailTTL, "", "CATALOG_DETAIL_TTL", "6h"},
		{&cfg.Notify.Backoff, "", "NOTIFY_BACKOFF", "500ms"},
		{&cfg.Notify.Timeout, "", "NOTIFY_TIMEOUT", "15s"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.envKey), raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Logger.Format {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or pretty)", c.Logger.Format)
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be sqlite or postgres)", c.Store.Driver)
	}

	if c.Catalog.RPS <= 0 || c.Catalog.Burst < 1 {
		return fmt.Errorf("catalog rate limit must be positive (rps=%v, burst=%d)", c.Catalog.RPS, c.Catalog.Burst)
	}
	if c.Catalog.MaxWait < 0 {
		return errors.New("catalog max wait cannot be negative")
	}

	if c.Import.Concurrency < 1 || c.Import.Concurrency > MaxImportConcurrency {
		return fmt.Errorf("import concurrency must be between 1 and %d, got %d", MaxImportConcurrency, c.Import.Concurrency)
	}
	if c.Import.MaxBatchSize < 1 {
		return fmt.Errorf("import max batch size must be positive, got %d", c.Import.MaxBatchSize)
	}

	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("notify queue size must be positive, got %d", c.Notify.QueueSize)
	}
	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify max retries cannot be negative, got %d", c.Notify.MaxRetries)
	}

	return nil
}

// CatalogConfigured reports whether catalog credentials were provided.
func (c *Config) CatalogConfigured() bool {
	return c.Catalog.ClientID != "" && c.Catalog.ClientSecret != ""
}

// SQLitePath returns the default sqlite database location.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Data.BasePath, "gamereq.db")
}

// CachePath returns the persistent catalog cache directory.
func (c *Config) CachePath() string {
	return filepath.Join(c.Data.BasePath, "cache", "catalog")
}

// SearchIndexPath returns the request name index directory.
func (c *Config) SearchIndexPath() string {
	return filepath.Join(c.Data.BasePath, "search")
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	path := c.Data.BasePath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.Data.BasePath = filepath.Join(homeDir, ".gamereq")
		return nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	c.Data.BasePath = filepath.Clean(abs)
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envKey != "" {
		if envValue := os.Getenv(envKey); envValue != "" {
			return envValue
		}
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue falls back to the default when the value does not parse.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) (float64, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), strValue, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
