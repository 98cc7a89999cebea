// Package config loads the service settings from defaults, an optional
// animation_agent.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds every tunable of the service. The mapstructure tags are the
// viper keys; the upper-case key is the environment override.
type Config struct {
	PreviewTimeoutSeconds    int `mapstructure:"preview_timeout_seconds" validate:"gt=0"`
	RenderTimeoutSeconds     int `mapstructure:"render_timeout_seconds" validate:"gt=0"`
	ExportTimeoutSeconds     int `mapstructure:"export_timeout_seconds" validate:"gt=0"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds" validate:"gt=0"`
	RenderQuietSeconds       int `mapstructure:"render_quiet_seconds" validate:"gt=0"`

	// Preview sampling
	PreviewSampleEvery  int    `mapstructure:"preview_sample_every" validate:"gt=0"`
	PreviewMaxFrames    int    `mapstructure:"preview_max_frames" validate:"gt=0"`
	PreviewLimitActions int    `mapstructure:"preview_limit_actions" validate:"gt=0"`
	PreviewQuality      string `mapstructure:"preview_quality" validate:"oneof=low medium high"`

	DefaultRenderQuality string `mapstructure:"default_render_quality" validate:"oneof=low medium high"`
	DefaultAspectRatio   string `mapstructure:"default_aspect_ratio" validate:"oneof=16:9 9:16 1:1"`

	SyntaxFixAttempts  int `mapstructure:"syntax_fix_attempts" validate:"gt=0"`
	RuntimeFixAttempts int `mapstructure:"runtime_fix_attempts" validate:"gt=0"`
	CancelGraceSeconds int `mapstructure:"cancel_grace_seconds" validate:"gt=0"`

	ArtifactsDir string `mapstructure:"artifacts_dir" validate:"required"`
	WorkDir      string `mapstructure:"work_dir" validate:"required"`
	ManimBin     string `mapstructure:"manim_bin" validate:"required"`
	FFmpegBin    string `mapstructure:"ffmpeg_bin" validate:"required"`
	// PythonBin is the interpreter used for the syntax check. The lexical
	// checker takes over when it cannot be run.
	PythonBin string `mapstructure:"python_bin"`

	MaxConcurrentRenders int    `mapstructure:"max_concurrent_renders" validate:"gt=0"`
	RunRetentionHours    int    `mapstructure:"run_retention_hours" validate:"gt=0"`
	PurgeSchedule        string `mapstructure:"purge_schedule" validate:"required"`

	DatabaseURL       string `mapstructure:"database_url"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	LLMCacheMB        int    `mapstructure:"llm_cache_mb" validate:"gte=0"`
	LLMTimeoutSeconds int    `mapstructure:"llm_timeout_seconds" validate:"gt=0"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFile adds a rotated JSON log file next to stderr when set.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" validate:"gt=0"`
	LogMaxBackups int    `mapstructure:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" validate:"gte=0"`

	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

var defaults = map[string]any{
	"preview_timeout_seconds":    600,
	"render_timeout_seconds":     1800,
	"export_timeout_seconds":     600,
	"heartbeat_interval_seconds": 5,
	"render_quiet_seconds":       10,
	"preview_sample_every":       4,
	"preview_max_frames":         50,
	"preview_limit_actions":      8,
	"preview_quality":            "low",
	"default_render_quality":     "medium",
	"default_aspect_ratio":       "16:9",
	"syntax_fix_attempts":        2,
	"runtime_fix_attempts":       2,
	"cancel_grace_seconds":       3,
	"artifacts_dir":              "artifacts",
	"work_dir":                   "work",
	"manim_bin":                  "manim",
	"ffmpeg_bin":                 "ffmpeg",
	"python_bin":                 "python3",
	"max_concurrent_renders":     2,
	"run_retention_hours":        24,
	"purge_schedule":             "@every 15m",
	"database_url":               "",
	"gemini_api_key":             "",
	"llm_cache_mb":               16,
	"llm_timeout_seconds":        120,
	"log_level":                  "info",
	"log_file":                   "",
	"log_max_size_mb":            100,
	"log_max_backups":            7,
	"log_max_age_days":           7,
	"port":                       8000,
}

// Load reads the settings. A missing config file is not an error; a file
// that exists but cannot be parsed is.
func Load() (*Config, error) {
	return load(viper.New(), ".", "./configs")
}

// LoadFile reads the settings with path as the config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return read(v)
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("animation_agent")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return read(v)
}

func read(v *viper.Viper) (*Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config error: '%s' failed '%s' validation (got %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// PreviewTimeout is preview_timeout_seconds as a duration.
func (c *Config) PreviewTimeout() time.Duration { return seconds(c.PreviewTimeoutSeconds) }

// RenderTimeout is render_timeout_seconds as a duration.
func (c *Config) RenderTimeout() time.Duration { return seconds(c.RenderTimeoutSeconds) }

// ExportTimeout is export_timeout_seconds as a duration.
func (c *Config) ExportTimeout() time.Duration { return seconds(c.ExportTimeoutSeconds) }

// HeartbeatInterval is heartbeat_interval_seconds as a duration.
func (c *Config) HeartbeatInterval() time.Duration { return seconds(c.HeartbeatIntervalSeconds) }

// RenderQuiet is render_quiet_seconds as a duration.
func (c *Config) RenderQuiet() time.Duration { return seconds(c.RenderQuietSeconds) }

// CancelGrace is cancel_grace_seconds as a duration.
func (c *Config) CancelGrace() time.Duration { return seconds(c.CancelGraceSeconds) }

// RunRetention is run_retention_hours as a duration.
func (c *Config) RunRetention() time.Duration { return time.Duration(c.RunRetentionHours) * time.Hour }

// LLMTimeout is llm_timeout_seconds as a duration.
func (c *Config) LLMTimeout() time.Duration { return seconds(c.LLMTimeoutSeconds) }

// LLMCacheBytes is llm_cache_mb in bytes. Zero disables the cache.
func (c *Config) LLMCacheBytes() int64 { return int64(c.LLMCacheMB) << 20 }
