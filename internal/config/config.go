// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrAPISecretRequired is returned when API_SECRET is not set.
	ErrAPISecretRequired = errors.New("config: API_SECRET is required")
	// ErrGitHubIncomplete is returned when only part of the GitHub backend
	// configuration is provided.
	ErrGitHubIncomplete = errors.New("config: GITHUB_TOKEN, GITHUB_OWNER and GITHUB_REPO must be set together")
	// ErrSupabaseIncomplete is returned when only one of SUPABASE_URL and
	// SUPABASE_API_KEY is provided.
	ErrSupabaseIncomplete = errors.New("config: SUPABASE_URL and SUPABASE_API_KEY must be set together")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port      int    `env:"PORT, default=8080" json:"port"`
	APISecret string `env:"API_SECRET, required" json:"-"` // Masked in JSON
	// PublicBaseURL is the externally visible base URL used to build watch links.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`

	// GitHub backend settings (primary storage)
	GitHubToken      string `env:"GITHUB_TOKEN" json:"-"` // Masked in JSON
	GitHubOwner      string `env:"GITHUB_OWNER" json:"github_owner,omitempty"`
	GitHubRepo       string `env:"GITHUB_REPO" json:"github_repo,omitempty"`
	GitHubBranch     string `env:"GITHUB_BRANCH, default=main" json:"github_branch"`
	GitHubUploadPath string `env:"GITHUB_UPLOAD_PATH, default=cdn/videos" json:"github_upload_path"`

	// Gofile backend settings (secondary storage)
	GofileToken string `env:"GOFILE_TOKEN" json:"-"` // Masked in JSON

	// Optional S3 backend settings (tertiary storage)
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Catalog settings. When DatabaseDSN is set the Postgres catalog is used;
	// otherwise Supabase if configured, otherwise an in-memory catalog.
	DatabaseDSN    string `env:"DATABASE_DSN" json:"-"` // Masked in JSON
	SupabaseURL    string `env:"SUPABASE_URL" json:"supabase_url,omitempty"`
	SupabaseAPIKey string `env:"SUPABASE_API_KEY" json:"-"` // Masked in JSON

	// Retention and limits
	RetentionSeconds         int   `env:"RETENTION_SECONDS, default=3600" json:"retention_seconds"`
	MaxFileSizeBytes         int64 `env:"MAX_FILESIZE_BYTES, default=104857600" json:"max_filesize_bytes"`
	MaxDurationSeconds       int   `env:"MAX_DURATION_SECONDS, default=600" json:"max_duration_seconds"`
	ReconcileIntervalSeconds int   `env:"RECONCILE_INTERVAL_SECONDS, default=60" json:"reconcile_interval_seconds"`

	// AllowedSourceHosts optionally restricts which hosts may be fetched from.
	// Empty means any host is accepted.
	AllowedSourceHosts []string `env:"ALLOWED_SOURCE_HOSTS" json:"allowed_source_hosts,omitempty"`

	// Transcode target profile
	TranscodeTargetHeight int    `env:"TRANSCODE_TARGET_HEIGHT, default=720" json:"transcode_target_height"`
	TranscodeVideoBitrate string `env:"TRANSCODE_VIDEO_BITRATE, default=1000k" json:"transcode_video_bitrate"`
	TranscodeAudioBitrate string `env:"TRANSCODE_AUDIO_BITRATE, default=128k" json:"transcode_audio_bitrate"`

	// Storage settings
	TempDir string `env:"TMP_DIR, default=/tmp/clipvault" json:"temp_dir"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// GitHubEnabled returns true if the GitHub backend is fully configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != "" && c.GitHubOwner != "" && c.GitHubRepo != ""
}

// S3Enabled returns true if S3 backend configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// SupabaseEnabled returns true if the Supabase catalog is fully configured.
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseAPIKey != ""
}

// Retention returns the retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// ReconcileInterval returns the reconciler cycle interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// MaxDuration returns the maximum source duration as a duration.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "API_SECRET") {
			return nil, ErrAPISecretRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and that optional
// backend configuration is not half-set.
func (c *Config) Validate() error {
	if c.APISecret == "" {
		return ErrAPISecretRequired
	}
	partialGitHub := c.GitHubToken != "" || c.GitHubOwner != "" || c.GitHubRepo != ""
	if partialGitHub && !c.GitHubEnabled() {
		return ErrGitHubIncomplete
	}
	partialSupabase := c.SupabaseURL != "" || c.SupabaseAPIKey != ""
	if partialSupabase && !c.SupabaseEnabled() {
		return ErrSupabaseIncomplete
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
		"Config{Port: %d, GitHubOwner: %s, GitHubRepo: %s, GitHubBranch: %s, S3Bucket: %s, RetentionSeconds: %d, MaxFileSizeBytes: %d, MaxDurationSeconds: %d, TempDir: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.GitHubOwner,
		c.GitHubRepo,
		c.GitHubBranch,
		c.S3Bucket,
		c.RetentionSeconds,
		c.MaxFileSizeBytes,
		c.MaxDurationSeconds,
		c.TempDir,
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
