// Package config loads runtime settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the service.
type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	DatabaseDriver string   `yaml:"database_driver"` // sqlite, mysql, postgres; inferred from the URL when empty
	DatabaseURL    string   `yaml:"database_url"`
	Storage        Storage  `yaml:"storage"`
	AI             AI       `yaml:"ai"`
	Telegram       Telegram `yaml:"telegram"`
	Sweeper        Sweeper  `yaml:"sweeper"`
	LogLevel       string   `yaml:"log_level"`
}

// Storage selects where attachment bytes live.
type Storage struct {
	Backend     string `yaml:"backend"` // fs or s3
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Prefix    string `yaml:"s3_prefix"`
}

// AI configures the completion API used for task generation.
type AI struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Telegram enables the bot front-end when Token is set.
type Telegram struct {
	Token       string `yaml:"token"`
	SummaryTime string `yaml:"summary_time"` // HH:MM, empty disables the daily summary
}

// Sweeper controls removal of stored bytes no attachment refers to.
type Sweeper struct {
	IntervalMinutes int `yaml:"interval_minutes"` // 0 disables
	GraceMinutes    int `yaml:"grace_minutes"`
}

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Default returns a config with the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:    ":8000",
		DatabaseURL: "task_assistant.db",
		Storage: Storage{
			Backend:     BackendFS,
			UploadDir:   "uploads",
			MaxUploadMB: 32,
		},
		AI: AI{
			BaseURL:        "https://api.deepseek.com/v1",
			Model:          "deepseek-chat",
			TimeoutSeconds: 30,
		},
		Telegram: Telegram{SummaryTime: "09:00"},
		Sweeper:  Sweeper{IntervalMinutes: 60, GraceMinutes: 15},
		LogLevel: "info",
	}
}

// Load reads CONFIG_FILE (if set) over the defaults, then applies environment
// variables on top.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("HTTP_ADDR", &c.HTTPAddr)
	envString("DATABASE_DRIVER", &c.DatabaseDriver)
	envString("DATABASE_URL", &c.DatabaseURL)
	envString("STORAGE_BACKEND", &c.Storage.Backend)
	envString("UPLOAD_DIR", &c.Storage.UploadDir)
	envString("S3_BUCKET", &c.Storage.S3Bucket)
	envString("S3_REGION", &c.Storage.S3Region)
	envString("S3_ENDPOINT", &c.Storage.S3Endpoint)
	envString("S3_PREFIX", &c.Storage.S3Prefix)
	envString("DEEPSEEK_API_KEY", &c.AI.APIKey)
	envString("AI_API_KEY", &c.AI.APIKey)
	envString("AI_BASE_URL", &c.AI.BaseURL)
	envString("AI_MODEL", &c.AI.Model)
	envString("TELEGRAM_TOKEN", &c.Telegram.Token)
	envString("LOG_LEVEL", &c.LogLevel)
	// An explicitly empty SUMMARY_TIME turns the daily summary off.
	if v, ok := os.LookupEnv("SUMMARY_TIME"); ok {
		c.Telegram.SummaryTime = strings.TrimSpace(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_UPLOAD_MB", &c.Storage.MaxUploadMB},
		{"AI_TIMEOUT_SECONDS", &c.AI.TimeoutSeconds},
		{"ORPHAN_SWEEP_INTERVAL_MINUTES", &c.Sweeper.IntervalMinutes},
		{"ORPHAN_GRACE_MINUTES", &c.Sweeper.GraceMinutes},
	}
	for _, e := range ints {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", c.DatabaseDriver)
	}
	switch c.Storage.Backend {
	case BackendFS:
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required for the fs backend")
		}
	case BackendS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND: unsupported backend %q", c.Storage.Backend)
	}
	if c.Storage.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.AI.TimeoutSeconds <= 0 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be positive")
	}
	if c.Sweeper.IntervalMinutes < 0 || c.Sweeper.GraceMinutes < 0 {
		return fmt.Errorf("orphan sweeper minutes must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 { return int64(c.Storage.MaxUploadMB) << 20 }

func (c Config) AITimeout() time.Duration { return time.Duration(c.AI.TimeoutSeconds) * time.Second }

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalMinutes) * time.Minute
}

func (c Config) OrphanGrace() time.Duration {
	return time.Duration(c.Sweeper.GraceMinutes) * time.Minute
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	*dst = n
	return nil
}
