// Package config loads adfanout configuration.
//
// Values are layered with the following precedence (highest first):
// runtime overrides, ADFANOUT_* environment variables, the config file
// (adfanout.yaml), and built-in defaults.
package config

import (
	"time"
)

// Config is the fully resolved application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Workers   int             `mapstructure:"workers" validate:"gte=1,lte=256"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Media     MediaConfig     `mapstructure:"media"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Profile string `mapstructure:"profile" validate:"oneof=STRUCTURED CONSOLE"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// PlatformConfig selects and configures the ads platform backend.
type PlatformConfig struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=sandbox graph"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIVersion      string        `mapstructure:"api_version"`
	AccessToken     string        `mapstructure:"access_token"`
	AdAccountID     string        `mapstructure:"ad_account_id"`
	PageID          string        `mapstructure:"page_id"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"gte=0"`
	FallbackAdSetID string        `mapstructure:"fallback_ad_set_id"`
	Objective       string        `mapstructure:"objective"`
	DefaultBudget   BudgetConfig  `mapstructure:"default_budget"`
}

// BudgetConfig is the budget used when neither request nor template set one.
type BudgetConfig struct {
	Amount   int64  `mapstructure:"amount" validate:"gte=0"`
	Currency string `mapstructure:"currency" validate:"omitempty,len=3"`
	Type     string `mapstructure:"type" validate:"omitempty,oneof=DAILY LIFETIME"`
}

// TemplatesConfig selects the template store.
type TemplatesConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	Path     string `mapstructure:"path"`
	SeedFile string `mapstructure:"seed_file"`
}

// MediaConfig selects the media storage backend and upload limits.
type MediaConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=local s3"`
	LocalDir      string        `mapstructure:"local_dir"`
	BaseURL       string        `mapstructure:"base_url"`
	MaxImageBytes int64         `mapstructure:"max_image_bytes" validate:"gte=0"`
	MaxVideoBytes int64         `mapstructure:"max_video_bytes" validate:"gte=0"`
	S3            MediaS3Config `mapstructure:"s3"`
}

// MediaS3Config configures the S3 media backend.
type MediaS3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// JobsConfig configures job persistence and retention.
type JobsConfig struct {
	Store      string        `mapstructure:"store" validate:"oneof=memory file"`
	Dir        string        `mapstructure:"dir"`
	QueueSize  int           `mapstructure:"queue_size" validate:"gte=0"`
	Retention  time.Duration `mapstructure:"retention"`
	GCSchedule string        `mapstructure:"gc_schedule"`
}

// EventsConfig sizes the progress fan-out buffers.
type EventsConfig struct {
	Buffer    int   `mapstructure:"buffer" validate:"gte=1"`
	BusBuffer int64 `mapstructure:"bus_buffer" validate:"gte=0"`
}
