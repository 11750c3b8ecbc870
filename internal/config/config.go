// Package config provides configuration management for shadowreplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8686
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultStatusCheckInterval = 30 * time.Second
	defaultSegmentPollInterval = 1 * time.Second
	defaultStaleThreshold      = 30 * time.Second
	defaultMaxSegmentRetries   = 3
	defaultRetryBackoffBase    = 500 * time.Millisecond
	defaultRetryBackoffCap     = 5 * time.Second
	defaultProbeTimeout        = 5 * time.Second
	defaultPlaylistTimeout     = 10 * time.Second
	defaultSegmentTimeout      = 30 * time.Second
	defaultDanmuBuffer         = 256

	// MinStatusCheckInterval is the floor for the global probe cadence.
	// Probing the platforms faster than this invites rate limiting.
	MinStatusCheckInterval = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Recording RecordingConfig `mapstructure:"recording"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// RecordingConfig holds the recording core configuration.
type RecordingConfig struct {
	// CachePath is the root directory for session storage:
	// <cache>/<platform>/<room_id>/<live_id>/.
	CachePath string `mapstructure:"cache_path"`
	// OutputPath is where clip artifacts are written.
	OutputPath string `mapstructure:"output_path"`
	// StatusCheckInterval is the probe cadence while waiting for a room to
	// go live. Clamped to MinStatusCheckInterval.
	StatusCheckInterval time.Duration `mapstructure:"status_check_interval"`
	// SegmentPollInterval is the playlist poll cadence during Recording.
	SegmentPollInterval time.Duration `mapstructure:"segment_poll_interval"`
	// StaleThreshold ends a session when no segment has been committed for
	// this long while the room still reports live.
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	// StaleThresholdOverrides is keyed by platform name.
	StaleThresholdOverrides map[string]time.Duration `mapstructure:"stale_threshold_overrides"`
	// MaxSegmentRetries bounds per-segment download attempts.
	MaxSegmentRetries int `mapstructure:"max_segment_retries"`
	// RetryBackoffBase is the initial retry delay, doubled per attempt.
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	// RetryBackoffCap caps the retry delay.
	RetryBackoffCap time.Duration `mapstructure:"retry_backoff_cap"`
	// ProbeTimeout, PlaylistTimeout, SegmentTimeout bound the platform I/O.
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	// DanmuBuffer bounds the channel between the danmu task and the writer.
	// Overflow drops oldest; chat is best-effort.
	DanmuBuffer int `mapstructure:"danmu_buffer"`
	// AutoGenerate schedules a full-session clip when a session ends.
	AutoGenerate AutoGenerateConfig `mapstructure:"auto_generate"`
	// ClipNameFormat is the clip filename template. Recognized placeholders:
	// {title} {platform} {room_id} {live_id} {x} {y} {created_at} {length}.
	ClipNameFormat string `mapstructure:"clip_name_format"`
}

// AutoGenerateConfig controls post-session clip generation.
type AutoGenerateConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	EncodeDanmu bool `mapstructure:"encode_danmu"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = look up "ffmpeg" on PATH
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with SHADOWREPLAY_, using underscores for nesting.
// Example: SHADOWREPLAY_SERVER_PORT=8686.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shadowreplay")
		v.AddConfigPath("$HOME/.shadowreplay")
	}

	v.SetEnvPrefix("SHADOWREPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This must be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.dsn", "shadowreplay.db")
	v.SetDefault("database.log_level", "warn")

	// Recording defaults
	v.SetDefault("recording.cache_path", "./cache")
	v.SetDefault("recording.output_path", "./output")
	v.SetDefault("recording.status_check_interval", defaultStatusCheckInterval)
	v.SetDefault("recording.segment_poll_interval", defaultSegmentPollInterval)
	v.SetDefault("recording.stale_threshold", defaultStaleThreshold)
	v.SetDefault("recording.max_segment_retries", defaultMaxSegmentRetries)
	v.SetDefault("recording.retry_backoff_base", defaultRetryBackoffBase)
	v.SetDefault("recording.retry_backoff_cap", defaultRetryBackoffCap)
	v.SetDefault("recording.probe_timeout", defaultProbeTimeout)
	v.SetDefault("recording.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("recording.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("recording.danmu_buffer", defaultDanmuBuffer)
	v.SetDefault("recording.auto_generate.enabled", false)
	v.SetDefault("recording.auto_generate.encode_danmu", false)
	v.SetDefault("recording.clip_name_format", "{title}_{platform}_{room_id}_{live_id}_{x}_{y}")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
}

// Validate checks the configuration for errors and clamps floored values.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Recording.CachePath == "" {
		return fmt.Errorf("recording.cache_path is required")
	}
	if c.Recording.StatusCheckInterval < MinStatusCheckInterval {
		c.Recording.StatusCheckInterval = MinStatusCheckInterval
	}
	if c.Recording.SegmentPollInterval <= 0 {
		return fmt.Errorf("recording.segment_poll_interval must be positive")
	}
	if c.Recording.MaxSegmentRetries < 1 {
		return fmt.Errorf("recording.max_segment_retries must be at least 1")
	}
	if c.Recording.RetryBackoffBase <= 0 || c.Recording.RetryBackoffCap < c.Recording.RetryBackoffBase {
		return fmt.Errorf("recording.retry_backoff_base/cap are inconsistent")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StaleThresholdFor returns the stale-stream threshold for a platform,
// honoring per-platform overrides.
func (c *RecordingConfig) StaleThresholdFor(platform string) time.Duration {
	if d, ok := c.StaleThresholdOverrides[platform]; ok && d > 0 {
		return d
	}
	return c.StaleThreshold
}
