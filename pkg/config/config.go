// Package config holds the typed application configuration. Values are
// env-first (a .env file is loaded by main via godotenv) with an optional
// YAML overrides file for deployments that prefer files over env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	HTTPPort string `yaml:"http_port"`

	// MultiTenant refuses OTLP writes that cannot resolve a tenant instead
	// of falling back to "default".
	MultiTenant bool `yaml:"multi_tenant"`

	// SigningKey signs compliance reports (HMAC-SHA256). Empty disables
	// signing; reports then carry signature: null.
	SigningKey string `yaml:"signing_key"`

	// PayloadByteCap truncates oversized string content in payloads.
	PayloadByteCap int `yaml:"payload_byte_cap"`

	Retention RetentionConfig `yaml:"retention"`
	OTLP      OTLPConfig      `yaml:"otlp"`
	Replay    ReplayConfig    `yaml:"replay"`

	// BootstrapKeys seeds API keys on startup, formatted
	// "secret:tenant:org:role:tier" per entry (comma-separated in env).
	BootstrapKeys []string `yaml:"bootstrap_keys"`
}

// OTLPConfig controls the OTLP receiver endpoints.
type OTLPConfig struct {
	// BearerToken enables optional auth; compared constant-time. Empty
	// leaves the receiver open (the documented default).
	BearerToken string `yaml:"bearer_token"`

	// MaxBodyBytes caps request bodies. Default 10 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// PerIPPerMinute is the per-IP fixed-window rate limit.
	PerIPPerMinute int64 `yaml:"per_ip_per_minute"`
}

// ReplayConfig bounds the replay LRU cache.
type ReplayConfig struct {
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	MaxLLMHistory   int           `yaml:"max_llm_history"`
	DefaultPageSize int           `yaml:"default_page_size"`
}

// RetentionConfig controls the purge/partition job.
type RetentionConfig struct {
	// Interval is how often the purge loop runs.
	Interval time.Duration `yaml:"interval"`

	// WarningDays emits an approaching_expiry warning for events that would
	// be purged within this many days. 0 disables the warning.
	WarningDays int `yaml:"warning_days"`

	// FutureMonths is how many months of partitions to pre-create.
	FutureMonths int `yaml:"future_months"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:       "8080",
		PayloadByteCap: 256 * 1024,
		Retention: RetentionConfig{
			Interval:     12 * time.Hour,
			WarningDays:  3,
			FutureMonths: 3,
		},
		OTLP: OTLPConfig{
			MaxBodyBytes:   10 << 20,
			PerIPPerMinute: 1000,
		},
		Replay: ReplayConfig{
			CacheSize:       100,
			CacheTTL:        10 * time.Minute,
			MaxLLMHistory:   50,
			DefaultPageSize: 1000,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv("MULTI_TENANT"); v != "" {
		cfg.MultiTenant = v == "true" || v == "1"
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v := os.Getenv("PAYLOAD_BYTE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PayloadByteCap = n
		}
	}
	if v := os.Getenv("OTLP_BEARER_TOKEN"); v != "" {
		cfg.OTLP.BearerToken = v
	}
	if v := os.Getenv("BOOTSTRAP_KEYS"); v != "" {
		var keys []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				keys = append(keys, part)
			}
		}
		cfg.BootstrapKeys = keys
	}
}
