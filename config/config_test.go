package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDuration_UnmarshalString(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"5m"`), &d))
	assert.Equal(t, 5*time.Minute, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"1h30m"`), &d))
	assert.Equal(t, 90*time.Minute, d.Std())
}

func TestDuration_UnmarshalNanoseconds(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"not a duration"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	out, err := json.Marshal(Duration(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"30s"`, string(out))

	var back Duration
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, 30*time.Second, back.Std())
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 500, cfg.Batch.BatchSize)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "owlai", cfg.Redis.KeyPrefix)
	assert.Empty(t, cfg.Redis.Addr, "in-memory store by default")
	assert.Empty(t, cfg.NATS.URL, "invalidation bus off by default")
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cache, cfg.Cache)
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Batch.BatchSize)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"cache": {"capacity": 50, "default_ttl": "2m", "sweep_interval": "10s"},
		"batch": {"batch_size": 25, "flush_interval": "500ms"},
		"breaker": {"failure_threshold": 3, "reset_timeout": "15s", "window": "30s"},
		"degrade": {"default_timeout": "5s"},
		"redis": {"addr": "localhost:6379", "key_prefix": "test"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.FlushInterval.Std())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "test", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Second, cfg.Degrade.DefaultTimeout.Std())
	// Sections the file omits stay unset
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.AI.Model)
}

func TestLoad_PartialFileKeepsDefaultSections(t *testing.T) {
	path := writeConfigFile(t, `{"batch": {"batch_size": 10, "flush_interval": "2s"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.BatchSize)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := writeConfigFile(t, `{"cache": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OWLAI_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("OWLAI_REDIS_DB", "3")
	t.Setenv("OWLAI_NATS_URL", "nats://bus:4222")
	t.Setenv("OWLAI_OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("OWLAI_OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `{"redis": {"addr": "from-file:6379", "key_prefix": "owlai"}}`)
	t.Setenv("OWLAI_REDIS_ADDR", "from-env:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", cfg.Redis.Addr)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cache capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"zero cache ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }},
		{"zero batch size", func(c *Config) { c.Batch.BatchSize = 0 }},
		{"zero flush interval", func(c *Config) { c.Batch.FlushInterval = 0 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"zero reset timeout", func(c *Config) { c.Breaker.ResetTimeout = 0 }},
		{"zero degrade timeout", func(c *Config) { c.Degrade.DefaultTimeout = 0 }},
		{"redis without key prefix", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Redis.KeyPrefix = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
