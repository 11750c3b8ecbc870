package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "127.0.0.1:8686", cfg.Server.Address())
	assert.Equal(t, "shadowreplay.db", cfg.Database.DSN)
	assert.Equal(t, "./cache", cfg.Recording.CachePath)
	assert.Equal(t, time.Second, cfg.Recording.SegmentPollInterval)
	assert.Equal(t, 30*time.Second, cfg.Recording.StaleThreshold)
	assert.Equal(t, 3, cfg.Recording.MaxSegmentRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Recording.RetryBackoffBase)
	assert.Equal(t, 5*time.Second, cfg.Recording.RetryBackoffCap)
	assert.False(t, cfg.Recording.AutoGenerate.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestStatusCheckIntervalFloor(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Recording.StatusCheckInterval = time.Second

	require.NoError(t, cfg.Validate())
	assert.Equal(t, MinStatusCheckInterval, cfg.Recording.StatusCheckInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"empty cache", func(c *Config) { c.Recording.CachePath = "" }},
		{"zero poll", func(c *Config) { c.Recording.SegmentPollInterval = 0 }},
		{"zero retries", func(c *Config) { c.Recording.MaxSegmentRetries = 0 }},
		{"cap below base", func(c *Config) { c.Recording.RetryBackoffCap = time.Millisecond }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStaleThresholdOverrides(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Recording.StaleThresholdOverrides = map[string]time.Duration{
		"douyin": 10 * time.Second,
	}

	assert.Equal(t, 10*time.Second, cfg.Recording.StaleThresholdFor("douyin"))
	assert.Equal(t, 30*time.Second, cfg.Recording.StaleThresholdFor("bilibili"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
recording:
  cache_path: /tmp/rec-cache
  segment_poll_interval: 2s
  stale_threshold_overrides:
    huya: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/tmp/rec-cache", cfg.Recording.CachePath)
	assert.Equal(t, 2*time.Second, cfg.Recording.SegmentPollInterval)
	assert.Equal(t, 45*time.Second, cfg.Recording.StaleThresholdFor("huya"))
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	// An explicitly named missing file is an error; only the search-path
	// lookup tolerates absence.
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
