// Package config provides application configuration and the recording
// constraints contract shared by every pipeline component.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/wavecap/wavecap/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultMaxFileSizeBytes  = 25 * 1024 * 1024 // 25 MiB transcription API cap
	DefaultSampleRate        = 16000
	DefaultBitsPerSample     = 16
	DefaultChannels          = 1
	DefaultSilenceThreshold  = -40.0
	DefaultSilenceDurationMs = 2000
	DefaultClippingThreshold = 0.99
	DefaultBufferSize        = 1024 // samples per capture pull
	DefaultWebPort           = 8080
)

// SizeCutoffFraction is the share of the file size limit at which capture
// force-stops, leaving headroom for the final encode and WAV header.
const SizeCutoffFraction = 0.95

// Constraints is the process-wide recording policy. It is read-only after
// startup; every component treats it as the bounding contract.
type Constraints struct {
	MaxFileSizeBytes  int64   `json:"max_file_size_bytes" validate:"gt=0"`
	SampleRate        int     `json:"sample_rate" validate:"gt=0"`
	BitsPerSample     int     `json:"bits_per_sample" validate:"oneof=16"`
	Channels          int     `json:"channels" validate:"oneof=1"`
	SilenceThreshold  float64 `json:"silence_threshold_db" validate:"lt=0"`
	SilenceDurationMs int64   `json:"silence_duration_ms" validate:"gt=0"`
	ClippingThreshold float64 `json:"clipping_threshold" validate:"gt=0,lte=1"`
	BufferSize        int     `json:"buffer_size" validate:"gt=0"`
}

// DefaultConstraints returns the standard mono 16 kHz capture policy.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxFileSizeBytes:  DefaultMaxFileSizeBytes,
		SampleRate:        DefaultSampleRate,
		BitsPerSample:     DefaultBitsPerSample,
		Channels:          DefaultChannels,
		SilenceThreshold:  DefaultSilenceThreshold,
		SilenceDurationMs: DefaultSilenceDurationMs,
		ClippingThreshold: DefaultClippingThreshold,
		BufferSize:        DefaultBufferSize,
	}
}

// Validate checks the constraints using struct validation tags.
func (c *Constraints) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid constraints: %w", err)
	}
	return nil
}

// ByteRate returns the PCM data rate in bytes per second.
func (c *Constraints) ByteRate() int64 {
	return int64(c.SampleRate) * int64(c.Channels) * int64(c.BitsPerSample/8)
}

// MaxRecordingDuration is the recording time bound derived from the file
// size limit and the byte rate.
func (c *Constraints) MaxRecordingDuration() time.Duration {
	seconds := float64(c.MaxFileSizeBytes) / float64(c.ByteRate())
	return time.Duration(seconds * float64(time.Second))
}

// SizeCutoffBytes returns the byte count at which capture force-stops.
func (c *Constraints) SizeCutoffBytes() int64 {
	return int64(float64(c.MaxFileSizeBytes) * SizeCutoffFraction)
}

// BufferDuration returns the wall-clock time covered by one capture buffer.
func (c *Constraints) BufferDuration() time.Duration {
	return time.Duration(c.BufferSize) * time.Second / time.Duration(c.SampleRate*c.Channels)
}

// BuffersForSilence returns how many consecutive silent buffers constitute
// confirmed silence.
func (c *Constraints) BuffersForSilence() int {
	perBufferMs := c.BufferDuration().Milliseconds()
	if perBufferMs <= 0 {
		return 1
	}
	n := int(c.SilenceDurationMs / perBufferMs)
	if n < 1 {
		return 1
	}
	return n
}

// Config holds all application configuration loaded from the environment.
type Config struct {
	// Capture settings
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/wavecap" json:"output_dir"`
	Device    string `env:"AUDIO_DEVICE" json:"device"` // Empty = platform default
	Preset    string `env:"QUALITY_PRESET, default=voice" json:"preset" validate:"oneof=voice standard raw"`

	// Transcription settings
	TranscribeURL    string  `env:"TRANSCRIBE_URL" json:"transcribe_url"`
	TranscribeAPIKey string  `env:"TRANSCRIBE_API_KEY" json:"-"` // Masked in JSON
	Language         string  `env:"TRANSCRIBE_LANGUAGE" json:"language,omitempty"`
	Model            string  `env:"TRANSCRIBE_MODEL, default=whisper-1" json:"model"`
	Prompt           string  `env:"TRANSCRIBE_PROMPT" json:"prompt,omitempty"`
	Temperature      float64 `env:"TRANSCRIBE_TEMPERATURE, default=0" json:"temperature"`

	// OAuth2 client-credentials settings (optional, instead of API key)
	OAuthTokenURL     string `env:"OAUTH_TOKEN_URL" json:"oauth_token_url,omitempty"`
	OAuthClientID     string `env:"OAUTH_CLIENT_ID" json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET" json:"-"` // Masked in JSON

	// Optional S3 archive settings
	S3Endpoint        string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Bucket          string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// RetentionDays controls local recording cleanup. 0 keeps forever.
	RetentionDays int `env:"RETENTION_DAYS, default=0" json:"retention_days" validate:"gte=0"`

	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"gt=0,lte=65535"`

	// Event log settings
	EventLogPath string `env:"EVENT_LOG_PATH" json:"event_log_path,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration using struct validation tags plus
// path sanity for the filesystem fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := util.ValidatePath("output_dir", c.OutputDir); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.EventLogPath != "" {
		if err := util.ValidatePath("event_log_path", c.EventLogPath); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// S3Enabled reports whether archive upload is configured.
func (c *Config) S3Enabled() bool {
	return util.IsConfigured(c.S3Bucket, c.S3AccessKeyID, c.S3SecretAccessKey)
}

// NewLogger creates a structured logger based on the configuration.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
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
