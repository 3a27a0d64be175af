// Package config holds the application configuration: one JSON file,
// environment overrides with the OWLAI_ prefix, defaults for everything.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration marshals as a human-readable string ("5m", "30s") and
// accepts either a string or nanoseconds when decoding.
type Duration time.Duration

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5m" style strings or raw nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value))
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete application configuration.
type Config struct {
	Cache   CacheConfig   `json:"cache"`
	Batch   BatchConfig   `json:"batch"`
	Breaker BreakerConfig `json:"breaker"`
	Degrade DegradeConfig `json:"degrade"`
	Redis   RedisConfig   `json:"redis"`
	NATS    NATSConfig    `json:"nats"`
	AI      AIConfig      `json:"ai"`
}

// CacheConfig tunes the query caches.
type CacheConfig struct {
	Capacity      int      `json:"capacity"`
	DefaultTTL    Duration `json:"default_ttl"`
	SweepInterval Duration `json:"sweep_interval"`
}

// BatchConfig tunes the write queue.
type BatchConfig struct {
	BatchSize     int      `json:"batch_size"`
	FlushInterval Duration `json:"flush_interval"`
}

// BreakerConfig tunes the shared circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	ResetTimeout     Duration `json:"reset_timeout"`
	Window           Duration `json:"window"`
}

// DegradeConfig tunes the degradation router.
type DegradeConfig struct {
	DefaultTimeout Duration `json:"default_timeout"`
}

// RedisConfig selects and configures the Redis store backend. An empty
// Addr keeps the in-memory store.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// NATSConfig enables cross-instance cache invalidation. An empty URL
// disables it.
type NATSConfig struct {
	URL           string   `json:"url,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
}

// AIConfig configures the completion client. An empty Model disables it.
type AIConfig struct {
	BaseURL      string   `json:"base_url,omitempty"`
	Model        string   `json:"model,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity:      1000,
			DefaultTTL:    Duration(5 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Batch: BatchConfig{
			BatchSize:     500,
			FlushInterval: Duration(time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(30 * time.Second),
			Window:           Duration(time.Minute),
		},
		Degrade: DegradeConfig{
			DefaultTimeout: Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			KeyPrefix: "owlai",
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive")
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("batch.batch_size must be positive, got %d", c.Batch.BatchSize)
	}
	if c.Batch.FlushInterval <= 0 {
		return fmt.Errorf("batch.flush_interval must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be positive")
	}
	if c.Degrade.DefaultTimeout <= 0 {
		return fmt.Errorf("degrade.default_timeout must be positive")
	}
	if c.Redis.Addr != "" && c.Redis.KeyPrefix == "" {
		return fmt.Errorf("redis.key_prefix is required when redis is enabled")
	}
	return nil
}

// Load reads configuration from the JSON file at path, fills unset
// fields from defaults, applies environment overrides, and validates.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides layers OWLAI_* environment variables over the
// file-provided configuration. Only connection settings and secrets are
// exposed this way.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("OWLAI_REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv("OWLAI_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("OWLAI_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("OWLAI_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv("OWLAI_OPENAI_BASE_URL"); val != "" {
		cfg.AI.BaseURL = val
	}
	if val := os.Getenv("OWLAI_OPENAI_MODEL"); val != "" {
		cfg.AI.Model = val
	}
	if val := os.Getenv("OWLAI_OPENAI_API_KEY"); val != "" {
		cfg.AI.APIKey = val
	}
}
