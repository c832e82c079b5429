package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// Config holds all configuration for the scanner
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Scanner     ScannerConfig   `toml:"scanner"`
	Markets     MarketsConfig   `toml:"markets"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Storage backends.
const (
	StorageBadger    = "badger"
	StorageSQLite    = "sqlite"
	StorageSurrealDB = "surrealdb"
)

// StorageConfig selects and configures the result store backend.
type StorageConfig struct {
	Backend   string          `toml:"backend"` // "badger" (default), "sqlite" or "surrealdb"
	Badger    AreaConfig      `toml:"badger"`
	SQLite    AreaConfig      `toml:"sqlite"`
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
}

// AreaConfig holds path configuration for an embedded store.
type AreaConfig struct {
	Path string `toml:"path"`
}

// SurrealDBConfig holds SurrealDB connection settings.
type SurrealDBConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD EODHDConfig `toml:"eodhd"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ScannerConfig tunes the fetch and analysis pipeline.
type ScannerConfig struct {
	MaxConcurrent   int    `toml:"max_concurrent"`  // in-flight requests per batch, 50-400
	RequestDelay    string `toml:"request_delay"`   // spacing between request starts
	RequestTimeout  string `toml:"request_timeout"` // per request, 15s-30s
	BatchSize       int    `toml:"batch_size"`      // symbols per batch, 500-1000
	Workers         int    `toml:"workers"`         // analysis pool size
	LookbackDays    int    `toml:"lookback_days"`   // calendar days of history requested
	UniverseRetries int    `toml:"universe_retries"`
}

// GetRequestDelay parses the request spacing, default 10ms.
func (c *ScannerConfig) GetRequestDelay() time.Duration {
	d, err := time.ParseDuration(c.RequestDelay)
	if err != nil || d < 0 {
		return 10 * time.Millisecond
	}
	return d
}

// GetRequestTimeout parses the per-request timeout, default 20s.
func (c *ScannerConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// MarketsConfig holds the per-market settings.
type MarketsConfig struct {
	US MarketSection `toml:"us"`
	AU MarketSection `toml:"au"`
}

// MarketSection is the TOML shape of one market.
type MarketSection struct {
	Enabled        bool     `toml:"enabled"`
	Exchange       string   `toml:"exchange"`
	Venues         []string `toml:"venues"`
	MinTurnover    float64  `toml:"min_turnover"`
	MinVolumeRatio float64  `toml:"min_volume_ratio"`
	MinSqueezeDays int      `toml:"min_squeeze_days"`
	Schedule       string   `toml:"schedule"` // cron expression in the scheduler timezone
}

func (s MarketSection) toModel(m models.Market) models.MarketConfig {
	return models.MarketConfig{
		Market:         m,
		Exchange:       s.Exchange,
		Venues:         s.Venues,
		MinTurnover:    s.MinTurnover,
		MinVolumeRatio: s.MinVolumeRatio,
		MinSqueezeDays: s.MinSqueezeDays,
		Schedule:       s.Schedule,
		Enabled:        s.Enabled,
	}
}

// MarketConfigs returns the configured markets in a stable order.
func (c *Config) MarketConfigs() []models.MarketConfig {
	return []models.MarketConfig{
		c.Markets.US.toModel(models.MarketUS),
		c.Markets.AU.toModel(models.MarketAU),
	}
}

// MarketConfig returns the configuration for one market.
func (c *Config) MarketConfig(m models.Market) (models.MarketConfig, bool) {
	for _, mc := range c.MarketConfigs() {
		if mc.Market == m {
			return mc, true
		}
	}
	return models.MarketConfig{}, false
}

// SchedulerConfig controls the time-triggered scans.
type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	Timezone     string `toml:"timezone"`
	PollInterval string `toml:"poll_interval"`
	Cooldown     string `toml:"cooldown"`
	CatchUpGrace string `toml:"catch_up_grace"` // how late a missed trigger may still fire
}

// GetPollInterval parses the poll interval, default one minute.
func (c *SchedulerConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, time.Minute)
}

// GetCooldown parses the post-fire cool-down, default two minutes.
func (c *SchedulerConfig) GetCooldown() time.Duration {
	return parseDurationOr(c.Cooldown, 2*time.Minute)
}

// GetCatchUpGrace parses the catch-up window, default 30 minutes.
func (c *SchedulerConfig) GetCatchUpGrace() time.Duration {
	return parseDurationOr(c.CatchUpGrace, 30*time.Minute)
}

// GetLocation loads the scheduler timezone, falling back to Australia/Sydney.
func (c *SchedulerConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		if syd, err := time.LoadLocation(DefaultTimezone); err == nil {
			return syd
		}
		return time.UTC
	}
	return loc
}

// DefaultTimezone is the local time zone for triggers and result timestamps.
const DefaultTimezone = "Australia/Sydney"

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend: StorageBadger,
			Badger:  AreaConfig{Path: "data/badger"},
			SQLite:  AreaConfig{Path: "data/scanner.db"},
			SurrealDB: SurrealDBConfig{
				Address:   "ws://localhost:8000/rpc",
				Username:  "root",
				Password:  "root",
				Namespace: "scanner",
				Database:  "scanner",
			},
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 16,
				Timeout:   "30s",
			},
		},
		Scanner: ScannerConfig{
			MaxConcurrent:   100,
			RequestDelay:    "10ms",
			RequestTimeout:  "20s",
			BatchSize:       500,
			Workers:         10,
			LookbackDays:    400,
			UniverseRetries: 3,
		},
		Markets: MarketsConfig{
			US: MarketSection{
				Enabled:        true,
				Exchange:       "US",
				Venues:         []string{"NYSE", "NASDAQ", "NYSE ARCA", "NYSE MKT", "BATS"},
				MinTurnover:    5_000_000,
				MinVolumeRatio: 10,
				MinSqueezeDays: 5,
				Schedule:       "0 7 * * *",
			},
			AU: MarketSection{
				Enabled:        true,
				Exchange:       "AU",
				MinTurnover:    500_000,
				MinVolumeRatio: 5,
				MinSqueezeDays: 5,
				Schedule:       "30 16 * * *",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Timezone:     DefaultTimezone,
			PollInterval: "1m",
			Cooldown:     "2m",
			CatchUpGrace: "30m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// A .env file in the working directory is loaded first; it never overrides
// variables already set in the process environment.
func LoadConfig(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	validateScanner(&config.Scanner)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SCANNER_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("SCANNER_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("SCANNER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("SCANNER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if backend := os.Getenv("SCANNER_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = strings.ToLower(backend)
	}

	if path := os.Getenv("SCANNER_DATA_PATH"); path != "" {
		config.Storage.Badger.Path = filepath.Join(path, "badger")
		config.Storage.SQLite.Path = filepath.Join(path, "scanner.db")
	}

	if addr := os.Getenv("SCANNER_SURREALDB_ADDRESS"); addr != "" {
		config.Storage.SurrealDB.Address = addr
	}

	if v := os.Getenv("SCANNER_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Scheduler.Enabled = b
		}
	}

	if v := os.Getenv("SCANNER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scanner.MaxConcurrent = n
		}
	}
}

// validateScanner clamps fetch settings into their supported ranges.
func validateScanner(c *ScannerConfig) {
	c.MaxConcurrent = clampInt(c.MaxConcurrent, 50, 400)
	c.BatchSize = clampInt(c.BatchSize, 500, 1000)

	timeout := c.GetRequestTimeout()
	if timeout < 15*time.Second {
		c.RequestTimeout = "15s"
	} else if timeout > 30*time.Second {
		c.RequestTimeout = "30s"
	}

	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 400
	}
	if c.UniverseRetries < 0 {
		c.UniverseRetries = 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment, the state store, or fallback
func ResolveAPIKey(ctx context.Context, store interfaces.StateStore, name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"eodhd_api_key": {"EODHD_API_KEY", "SCANNER_EODHD_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if store != nil {
		apiKey, err := store.GetSystemKV(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or store", name)
}
