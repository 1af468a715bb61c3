// Package config manages application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"

	"ytupload/internal/retry"
	"ytupload/storage"
)

const (
	appName    = "ytupload"
	envPrefix  = "YTUPLOAD_"
	configFile = "ytupload.json"

	// chunkAlignment is the granularity YouTube requires for non-final chunks.
	chunkAlignment = 256 * 1024
)

// Config holds all application configuration for uploads.
type Config struct {
	// HistoryPath is the file holding the upload history
	HistoryPath string `json:"history_path"`
	// HistoryBackend selects the history store: "json" or "sqlite"
	HistoryBackend string `json:"history_backend"`
	// HistoryLimit is the number of history entries kept
	HistoryLimit int `json:"history_limit"`

	CategoriesCachePath string        `json:"categories_cache_path"`
	CategoriesTTL       time.Duration `json:"categories_ttl"`
	RegionCode          string        `json:"region_code"`

	// ClientSecretsPath is the OAuth client secrets file from the Google console
	ClientSecretsPath string `json:"client_secrets_path"`
	// TokenPath is where the authorized OAuth token is saved
	TokenPath string `json:"token_path"`

	// ChunkSize is the resumable upload chunk size in bytes
	ChunkSize int64 `json:"chunk_size"`
	// PollInterval is how often the CLI polls a running upload
	PollInterval time.Duration `json:"poll_interval"`
	// SearchMaxResults bounds the search used to find a cancelled upload
	SearchMaxResults int `json:"search_max_results"`
	// ScheduleScanCount is how many recent uploads are scanned for publish times
	ScheduleScanCount int `json:"schedule_scan_count"`
	// QuotaReserve is the API quota left untouched before uploads are refused
	QuotaReserve int `json:"quota_reserve"`

	// MaxRetries is the maximum number of retries for failed operations
	MaxRetries int `json:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `json:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `json:"max_backoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	MetricsAddr string `json:"metrics_addr"`
}

// DefaultConfig returns configuration with safe defaults. Files live in
// ~/.config/ytupload unless overridden.
func DefaultConfig() *Config {
	dir := defaultDir()
	return &Config{
		HistoryPath:         filepath.Join(dir, "history.json"),
		HistoryBackend:      storage.BackendJSON,
		HistoryLimit:        storage.DefaultHistoryLimit,
		CategoriesCachePath: filepath.Join(dir, "categories.json"),
		CategoriesTTL:       storage.DefaultCategoryTTL,
		RegionCode:          "US",
		ClientSecretsPath:   filepath.Join(dir, "client_secrets.json"),
		TokenPath:           filepath.Join(dir, "token.json"),
		ChunkSize:           4 * units.MiB,
		PollInterval:        100 * time.Millisecond,
		SearchMaxResults:    10,
		ScheduleScanCount:   50,
		QuotaReserve:        0,
		MaxRetries:          5,
		InitialBackoff:      1 * time.Second,
		MaxBackoff:          30 * time.Second,
		BackoffMultiplier:   2.0,
	}
}

func defaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", appName)
}

// Load loads configuration from environment variables, .env files, config
// file, and applies defaults.
// Priority: env vars > .env.local > .env > config file > defaults
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return load(wd, defaultDir())
}

func load(workDir, homeDir string) (*Config, error) {
	cfg := DefaultConfig()

	// Config file is optional
	if err := cfg.loadFromFile(workDir, homeDir); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	loadEnvFiles(workDir)

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads ytupload.json from the working directory, falling back
// to the one in the config directory.
func (c *Config) loadFromFile(workDir, homeDir string) error {
	paths := []string{
		filepath.Join(workDir, configFile),
		filepath.Join(homeDir, configFile),
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadEnvFiles loads .env.local then .env from dir. Variables already set in
// the environment win, and missing files are ignored.
func loadEnvFiles(dir string) {
	var files []string
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

// loadFromEnv overrides config with YTUPLOAD_* environment variables.
func (c *Config) loadFromEnv() error {
	strs := map[string]*string{
		"HISTORY_PATH":          &c.HistoryPath,
		"HISTORY_BACKEND":       &c.HistoryBackend,
		"CATEGORIES_CACHE_PATH": &c.CategoriesCachePath,
		"REGION_CODE":           &c.RegionCode,
		"CLIENT_SECRETS_PATH":   &c.ClientSecretsPath,
		"TOKEN_PATH":            &c.TokenPath,
		"METRICS_ADDR":          &c.MetricsAddr,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HISTORY_LIMIT":       &c.HistoryLimit,
		"SEARCH_MAX_RESULTS":  &c.SearchMaxResults,
		"SCHEDULE_SCAN_COUNT": &c.ScheduleScanCount,
		"QUOTA_RESERVE":       &c.QuotaReserve,
		"MAX_RETRIES":         &c.MaxRetries,
	}
	for key, dst := range ints {
		if v, ok := lookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CATEGORIES_TTL":  &c.CategoriesTTL,
		"POLL_INTERVAL":   &c.PollInterval,
		"INITIAL_BACKOFF": &c.InitialBackoff,
		"MAX_BACKOFF":     &c.MaxBackoff,
	}
	for key, dst := range durations {
		if v, ok := lookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return envError(key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookupEnv("CHUNK_SIZE"); ok {
		// Accepts plain bytes or sizes like "8MiB".
		n, err := units.RAMInBytes(v)
		if err != nil {
			return envError("CHUNK_SIZE", err)
		}
		c.ChunkSize = n
	}
	if v, ok := lookupEnv("BACKOFF_MULTIPLIER"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("BACKOFF_MULTIPLIER", err)
		}
		c.BackoffMultiplier = f
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envError(key string, err error) error {
	return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.HistoryPath == "" {
		return fmt.Errorf("history_path must be set")
	}
	if c.HistoryBackend != storage.BackendJSON && c.HistoryBackend != storage.BackendSQLite {
		return fmt.Errorf("history_backend must be %q or %q", storage.BackendJSON, storage.BackendSQLite)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if c.CategoriesTTL <= 0 {
		return fmt.Errorf("categories_ttl must be positive")
	}
	if len(c.RegionCode) != 2 {
		return fmt.Errorf("region_code must be a two letter country code")
	}
	if c.ChunkSize <= 0 || c.ChunkSize%chunkAlignment != 0 {
		return fmt.Errorf("chunk_size must be a positive multiple of %s", units.BytesSize(chunkAlignment))
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.SearchMaxResults < 1 || c.SearchMaxResults > 50 {
		return fmt.Errorf("search_max_results must be between 1 and 50")
	}
	if c.ScheduleScanCount <= 0 {
		return fmt.Errorf("schedule_scan_count must be positive")
	}
	if c.QuotaReserve < 0 {
		return fmt.Errorf("quota_reserve must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff <= 0 {
		return fmt.Errorf("max_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	return nil
}

// RetryConfig returns the backoff settings as a retry.Config.
func (c *Config) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = c.MaxRetries
	rc.InitialBackoff = c.InitialBackoff
	rc.MaxBackoff = c.MaxBackoff
	rc.Multiplier = c.BackoffMultiplier
	return rc
}
