// Package config loads and validates the service configuration: built-in
// defaults, overlaid by an optional YAML file, overlaid by environment
// variables (LICSVC_ prefix). Later layers win.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the environment variable prefix for all settings.
const envPrefix = "LICSVC"

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Directory DirectoryConfig `yaml:"directory" envconfig:"DIRECTORY"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Token     TokenConfig     `yaml:"token" envconfig:"TOKEN"`
	Crypto    CryptoConfig    `yaml:"crypto" envconfig:"CRYPTO"`
	Services  []ServiceEntry  `yaml:"services" envconfig:"SERVICES"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DirectoryConfig contains the license directory client configuration.
type DirectoryConfig struct {
	BaseURL      string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	RetryMax     int           `yaml:"retry_max" envconfig:"RETRY_MAX"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" envconfig:"RETRY_WAIT_MAX"`
}

// CacheConfig contains the cache tiers and refresh pool configuration.
type CacheConfig struct {
	OnlineTTL       time.Duration `yaml:"online_ttl" envconfig:"ONLINE_TTL"`
	OfflineTTL      time.Duration `yaml:"offline_ttl" envconfig:"OFFLINE_TTL"`
	MaxEntries      int           `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
	SessionTTL      time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL"`
	SessionEntries  int           `yaml:"session_entries" envconfig:"SESSION_ENTRIES"`
	RefreshWorkers  int           `yaml:"refresh_workers" envconfig:"REFRESH_WORKERS"`
	RefreshBacklog  int           `yaml:"refresh_backlog" envconfig:"REFRESH_BACKLOG"`
	BlacklistMaxTTL time.Duration `yaml:"blacklist_max_ttl" envconfig:"BLACKLIST_MAX_TTL"`
}

// TokenConfig contains the access token issuer configuration.
type TokenConfig struct {
	Issuer     string        `yaml:"issuer" envconfig:"ISSUER"`
	TTL        time.Duration `yaml:"ttl" envconfig:"TTL"`
	JitterMax  time.Duration `yaml:"jitter_max" envconfig:"JITTER_MAX"`
	PrivateKey string        `yaml:"private_key" envconfig:"PRIVATE_KEY"`
}

// CryptoConfig contains the license material encryption and request
// signature settings. Empty key material is rejected at load time except
// for ClientPublicKey in development deployments that mint their own keys.
type CryptoConfig struct {
	Secret          string `yaml:"secret" envconfig:"SECRET"`
	Salt            string `yaml:"salt" envconfig:"SALT"`
	ClientPublicKey string `yaml:"client_public_key" envconfig:"CLIENT_PUBLIC_KEY"`
}

// ServiceEntry describes one service in the licensing catalog.
type ServiceEntry struct {
	ID              string `yaml:"id" json:"id"`
	RequireChecksum bool   `yaml:"require_checksum" json:"require_checksum"`
}

// RateLimitConfig contains issue-endpoint rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Default returns the built-in configuration. File and environment layers
// are applied on top of this, so every knob has a sensible value even when
// nothing else sets it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Directory: DirectoryConfig{
			BaseURL:      "http://localhost:9090",
			Timeout:      5 * time.Second,
			RetryMax:     3,
			RetryWaitMin: 200 * time.Millisecond,
			RetryWaitMax: 2 * time.Second,
		},
		Cache: CacheConfig{
			OnlineTTL:       30 * time.Minute,
			OfflineTTL:      720 * time.Hour,
			MaxEntries:      10000,
			SessionTTL:      24 * time.Hour,
			SessionEntries:  50000,
			RefreshWorkers:  4,
			RefreshBacklog:  64,
			BlacklistMaxTTL: 4 * time.Hour,
		},
		Token: TokenConfig{
			Issuer:    "licsvc",
			TTL:       time.Hour,
			JitterMax: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     50,
			Burst:   25,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/licsvc.log",
		},
	}
}

// Load layers the optional YAML file named by LICSVC_CONFIG_FILE (or
// config.yaml when present) and then the environment over the defaults,
// and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory base_url is required")
	}
	if c.Cache.OnlineTTL <= 0 || c.Cache.OfflineTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.OnlineTTL >= c.Cache.OfflineTTL {
		return fmt.Errorf("cache online_ttl must be shorter than offline_ttl")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.Token.JitterMax < 0 {
		return fmt.Errorf("token jitter_max must not be negative")
	}
	if c.Crypto.Secret == "" {
		return fmt.Errorf("crypto secret is required")
	}
	if len(c.Crypto.Salt) < 16 {
		return fmt.Errorf("crypto salt must be at least 16 bytes")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service catalog entry is required")
	}
	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if s.ID == "" {
			return fmt.Errorf("service catalog entries must have an id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate service catalog entry %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
