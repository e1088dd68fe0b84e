// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Event delivery modes.
const (
	// EventModeSocket receives events over a Socket Mode websocket.
	EventModeSocket = "socket"
	// EventModeHTTP receives signed events on POST /slack/events.
	EventModeHTTP = "http"
)

// Static errors for configuration validation.
var (
	// ErrBotTokenRequired is returned when SLACK_BOT_TOKEN is not set.
	ErrBotTokenRequired = errors.New("config: SLACK_BOT_TOKEN is required")
	// ErrAppTokenRequired is returned when socket mode is used without SLACK_APP_TOKEN.
	ErrAppTokenRequired = errors.New("config: SLACK_APP_TOKEN is required in socket mode")
	// ErrSigningSecretRequired is returned when http mode is used without SLACK_SIGNING_SECRET.
	ErrSigningSecretRequired = errors.New("config: SLACK_SIGNING_SECRET is required in http mode")
	// ErrInvalid is returned when a setting is out of range.
	ErrInvalid = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int    `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	ServiceName string `env:"SERVICE_NAME, default=slack-video-frames" json:"service_name" validate:"required"`
	MetricsPort int    `env:"METRICS_PORT, default=0" json:"metrics_port" validate:"min=0,max=65535"`

	// Slack settings
	SlackBotToken      string `env:"SLACK_BOT_TOKEN" json:"-"`      // Masked in JSON
	SlackAppToken      string `env:"SLACK_APP_TOKEN" json:"-"`      // Masked in JSON
	SlackSigningSecret string `env:"SLACK_SIGNING_SECRET" json:"-"` // Masked in JSON
	SlackEventMode     string `env:"SLACK_EVENT_MODE, default=socket" json:"slack_event_mode" validate:"oneof=socket http"`
	SlackAPIURL        string `env:"SLACK_API_URL, default=https://slack.com/api" json:"slack_api_url" validate:"url"`

	// Sampling settings
	FrameInterval int `env:"FRAME_INTERVAL, default=3" json:"frame_interval" validate:"min=1"`
	MaxFrames     int `env:"MAX_FRAMES, default=10" json:"max_frames" validate:"min=1,max=100"`
	FrameQuality  int `env:"FRAME_QUALITY, default=2" json:"frame_quality" validate:"min=1,max=31"`

	// Decoder binaries
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Transfer settings
	UploadDelayMs      int   `env:"UPLOAD_DELAY_MS, default=500" json:"upload_delay_ms" validate:"min=0"`
	DownloadTimeoutSec int   `env:"DOWNLOAD_TIMEOUT_SEC, default=300" json:"download_timeout_sec" validate:"min=1"`
	SampleTimeoutSec   int   `env:"SAMPLE_TIMEOUT_SEC, default=300" json:"sample_timeout_sec" validate:"min=1"`
	MaxDownloadBytes   int64 `env:"MAX_DOWNLOAD_BYTES, default=0" json:"max_download_bytes" validate:"min=0"`

	// Storage settings
	TempDir string `env:"TEMP_DIR" json:"temp_dir"`

	// Optional S3 frame archive
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Duplicate event suppression
	DedupTTLSec   int    `env:"DEDUP_TTL_SEC, default=0" json:"dedup_ttl_sec" validate:"min=0"`
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db" validate:"min=0"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// DedupEnabled returns true if duplicate event suppression is on.
func (c *Config) DedupEnabled() bool {
	return c.DedupTTLSec > 0
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// UploadDelay returns the pause between consecutive frame uploads.
func (c *Config) UploadDelay() time.Duration {
	return time.Duration(c.UploadDelayMs) * time.Millisecond
}

// DownloadTimeout returns the deadline for a single video download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

// SampleTimeout returns the deadline for probing and sampling one video.
func (c *Config) SampleTimeout() time.Duration {
	return time.Duration(c.SampleTimeoutSec) * time.Second
}

// DedupTTL returns how long a processed file is remembered.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "slack-video-frames")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	if c.SlackBotToken == "" {
		return ErrBotTokenRequired
	}
	switch c.SlackEventMode {
	case EventModeSocket:
		if c.SlackAppToken == "" {
			return ErrAppTokenRequired
		}
	case EventModeHTTP:
		if c.SlackSigningSecret == "" {
			return ErrSigningSecretRequired
		}
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ServiceName: %s, EventMode: %s, FrameInterval: %d, MaxFrames: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, DedupTTLSec: %d, RedisAddr: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ServiceName,
		c.SlackEventMode,
		c.FrameInterval,
		c.MaxFrames,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.DedupTTLSec,
		c.RedisAddr,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
