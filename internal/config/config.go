// Package config loads the regimescan configuration from YAML with
// defaults and validation. One file drives the detector parameters, the
// market-data provider, the close cache, persistence, and the HTTP
// surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sawpanic/regimescan/internal/mdl"
)

// Config is the top-level regimescan configuration.
type Config struct {
	Detector  DetectorConfig  `yaml:"detector"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// DetectorConfig tunes the MDL scanner.
type DetectorConfig struct {
	Stride    int     `yaml:"stride"`
	Smoothing float64 `yaml:"smoothing"`
}

// Params converts the detector section into scanner parameters.
func (d DetectorConfig) Params() mdl.Params {
	return mdl.Params{Stride: d.Stride, Smoothing: d.Smoothing}
}

// ProviderConfig configures the daily-close provider. The API key is
// read from the environment variable named by APIKeyEnv and never stored
// in the file itself.
type ProviderConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKeyEnv          string `yaml:"api_key_env"`
	RequestTimeoutSec  int    `yaml:"request_timeout_sec"`
	RateLimitPerMin    int    `yaml:"rate_limit_per_min"`
	BreakerFailures    uint32 `yaml:"breaker_failures"`
	BreakerCooldownSec int    `yaml:"breaker_cooldown_sec"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (p ProviderConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSec) * time.Second
}

// BreakerCooldown returns the circuit breaker open-state cooldown.
func (p ProviderConfig) BreakerCooldown() time.Duration {
	return time.Duration(p.BreakerCooldownSec) * time.Second
}

// CacheConfig configures the Redis close cache. An empty Addr disables
// caching and the provider always goes to the upstream API.
type CacheConfig struct {
	Addr   string `yaml:"addr"`
	TTLSec int    `yaml:"ttl_sec"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// DatabaseConfig configures Postgres persistence. An empty DSN disables
// storing scan outcomes.
type DatabaseConfig struct {
	DSN        string `yaml:"dsn"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the per-query timeout.
func (d DatabaseConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSec) * time.Second
}

// ArtifactsConfig configures where scan artifacts are written.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Detector: DetectorConfig{
			Stride:    mdl.DefaultStride,
			Smoothing: mdl.DefaultSmoothing,
		},
		Provider: ProviderConfig{
			BaseURL:            "https://www.alphavantage.co",
			APIKeyEnv:          "ALPHAVANTAGE_API_KEY",
			RequestTimeoutSec:  10,
			RateLimitPerMin:    5, // free tier
			BreakerFailures:    5,
			BreakerCooldownSec: 60,
		},
		Cache: CacheConfig{
			TTLSec: 24 * 60 * 60, // daily bars do not change intraday
		},
		Database: DatabaseConfig{
			TimeoutSec: 5,
		},
		Server: ServerConfig{
			ListenAddr:         ":8090",
			ShutdownTimeoutSec: 10,
		},
		Artifacts: ArtifactsConfig{
			Dir: "artifacts",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges on every section.
func (c Config) Validate() error {
	if c.Detector.Stride < 1 {
		return fmt.Errorf("detector.stride must be positive, got %d", c.Detector.Stride)
	}
	if c.Detector.Smoothing <= 0 || c.Detector.Smoothing >= 1 {
		return fmt.Errorf("detector.smoothing must be in (0,1), got %v", c.Detector.Smoothing)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url must not be empty")
	}
	if c.Provider.RateLimitPerMin < 1 {
		return fmt.Errorf("provider.rate_limit_per_min must be positive, got %d", c.Provider.RateLimitPerMin)
	}
	if c.Provider.RequestTimeoutSec <= 0 {
		return fmt.Errorf("provider.request_timeout_sec must be positive, got %d", c.Provider.RequestTimeoutSec)
	}
	if c.Cache.Addr != "" && c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec must be positive when cache is enabled, got %d", c.Cache.TTLSec)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	return nil
}

// APIKey resolves the provider API key from the environment.
func (c Config) APIKey() (string, error) {
	key := os.Getenv(c.Provider.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("API key not set: export %s before fetching market data", c.Provider.APIKeyEnv)
	}
	return key, nil
}
