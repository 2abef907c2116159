package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/reelpost/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Publisher PublisherConfig `yaml:"publisher"`
	Session   SessionConfig   `yaml:"session"`
	Content   ContentConfig   `yaml:"content"`
	Security  SecurityConfig  `yaml:"security"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Path     string `yaml:"path"` // sqlite only
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	GracePeriod     string `yaml:"grace_period"`
	MinSeparation   string `yaml:"min_separation"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	FailedRetention string `yaml:"failed_retention"`
}

type PublisherConfig struct {
	RelayURL string `yaml:"relay_url"`
	APIToken string `yaml:"api_token"`
	Timeout  string `yaml:"timeout"`
}

type SessionConfig struct {
	Dir        string `yaml:"dir"`
	DeviceSalt string `yaml:"device_salt"`
}

type ContentConfig struct {
	BaseURL string `yaml:"base_url"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AuthConfig struct {
	TOTPSecret string  `yaml:"totp_secret"`
	RateLimit  float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst  int     `yaml:"rate_burst"`
}

// Grace is the tolerated lateness of a timer fire before the job counts as overdue.
func (c SchedulerConfig) Grace() time.Duration {
	return mustDuration(c.GracePeriod, 300*time.Second)
}

func (c SchedulerConfig) Separation() time.Duration {
	return mustDuration(c.MinSeparation, 5*time.Minute)
}

func (c SchedulerConfig) Retention() time.Duration {
	return mustDuration(c.FailedRetention, 7*24*time.Hour)
}

func (c PublisherConfig) RequestTimeout() time.Duration {
	return mustDuration(c.Timeout, 5*time.Minute)
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "reelpost.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.GracePeriod == "" {
		cfg.Scheduler.GracePeriod = "300s"
	}
	if cfg.Scheduler.MinSeparation == "" {
		cfg.Scheduler.MinSeparation = "5m"
	}
	if cfg.Scheduler.CleanupSchedule == "" {
		cfg.Scheduler.CleanupSchedule = "@every 2h"
	}
	if cfg.Scheduler.FailedRetention == "" {
		cfg.Scheduler.FailedRetention = "168h"
	}
	if cfg.Publisher.RelayURL == "" {
		cfg.Publisher.RelayURL = "http://localhost:8000"
	}
	if cfg.Publisher.Timeout == "" {
		cfg.Publisher.Timeout = "5m"
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = "sessions"
	}
	if cfg.Content.BaseURL == "" {
		cfg.Content.BaseURL = "uploads"
	}
	if cfg.Auth.RateBurst == 0 {
		cfg.Auth.RateBurst = 20
	}
}

// Validate checks every duration field up front so later accessors cannot fail.
func (c *Config) Validate() error {
	durations := map[string]string{
		"scheduler.grace_period":     c.Scheduler.GracePeriod,
		"scheduler.min_separation":   c.Scheduler.MinSeparation,
		"scheduler.failed_retention": c.Scheduler.FailedRetention,
		"publisher.timeout":          c.Publisher.Timeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s %q: must not be negative", key, value)
		}
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	return nil
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
