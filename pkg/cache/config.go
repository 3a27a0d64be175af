package cache

import (
	"fmt"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// Config contains configuration for cache creation.
type Config struct {
	// Capacity is the maximum number of entries. At capacity, Set evicts
	// the entry with the oldest store time.
	Capacity int `json:"capacity"`

	// DefaultTTL is the time-to-live applied by Set. SetWithTTL overrides
	// it per entry.
	DefaultTTL time.Duration `json:"default_ttl"`

	// SweepInterval is how often the background sweep removes expired
	// entries.
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		DefaultTTL:    5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("capacity cannot be negative, got %d", c.Capacity))
	}
	if c.DefaultTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("default_ttl cannot be negative, got %v", c.DefaultTTL))
	}
	if c.SweepInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("sweep_interval cannot be negative, got %v", c.SweepInterval))
	}
	return nil
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Capacity == 0 {
		c.Capacity = def.Capacity
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}
