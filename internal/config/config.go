// Package config provides environment-driven configuration for the task server.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	Session  SessionConfig  `mapstructure:"session"`
	Task     TaskConfig     `mapstructure:"task"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Workers  int    `mapstructure:"workers"`
	LogLevel string `mapstructure:"logLevel"`
	LogDir   string `mapstructure:"logDir"`
}

// ClaudeConfig holds agent backend settings.
type ClaudeConfig struct {
	APIKey                string   `mapstructure:"apiKey"`
	BaseURL               string   `mapstructure:"baseUrl"`
	DefaultModel          string   `mapstructure:"defaultModel"`
	DefaultPermissionMode string   `mapstructure:"defaultPermissionMode"`
	DefaultAllowedTools   []string `mapstructure:"defaultAllowedTools"`
	MaxTurns              int      `mapstructure:"maxTurns"`
}

// SessionConfig holds session pool settings.
type SessionConfig struct {
	MaxConcurrent          int `mapstructure:"maxConcurrent"`
	IdleTimeoutSeconds     int `mapstructure:"idleTimeoutSeconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanupIntervalSeconds"`
}

// TaskConfig holds task execution settings.
type TaskConfig struct {
	DefaultTimeoutSeconds int `mapstructure:"defaultTimeoutSeconds"`
	MaxQueueSize          int `mapstructure:"maxQueueSize"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BearerToken string `mapstructure:"bearerToken"`
}

// ScheduleConfig holds recurring-task settings.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"dataDir"`
}

// IdleTimeout returns the session idle timeout as a duration.
func (s *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// CleanupInterval returns the reaper wake interval as a duration.
func (s *SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

// DefaultTimeout returns the default task timeout as a duration.
func (t *TaskConfig) DefaultTimeout() time.Duration {
	return time.Duration(t.DefaultTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.logDir", "logs")

	v.SetDefault("claude.defaultPermissionMode", "acceptEdits")
	v.SetDefault("claude.defaultAllowedTools", []string{"Read", "Write", "Edit", "Bash"})
	v.SetDefault("claude.maxTurns", 50)

	v.SetDefault("session.maxConcurrent", 10)
	v.SetDefault("session.idleTimeoutSeconds", 1800)
	v.SetDefault("session.cleanupIntervalSeconds", 300)

	v.SetDefault("task.defaultTimeoutSeconds", 3600)
	v.SetDefault("task.maxQueueSize", 100)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.dataDir", "data")
}

// bindEnv wires each config key to its environment variable. The env var
// spelling is prefix-grouped (SERVER_, CLAUDE_, SESSION_, TASK_, AUTH_,
// SCHEDULE_) rather than derived from the key path, so every binding is
// explicit.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.workers", "SERVER_WORKERS")
	_ = v.BindEnv("server.logLevel", "SERVER_LOG_LEVEL")
	_ = v.BindEnv("server.logDir", "SERVER_LOG_DIR")

	_ = v.BindEnv("claude.apiKey", "CLAUDE_API_KEY")
	_ = v.BindEnv("claude.baseUrl", "CLAUDE_BASE_URL")
	_ = v.BindEnv("claude.defaultModel", "CLAUDE_DEFAULT_MODEL")
	_ = v.BindEnv("claude.defaultPermissionMode", "CLAUDE_DEFAULT_PERMISSION_MODE")
	_ = v.BindEnv("claude.defaultAllowedTools", "CLAUDE_DEFAULT_ALLOWED_TOOLS")
	_ = v.BindEnv("claude.maxTurns", "CLAUDE_MAX_TURNS")

	_ = v.BindEnv("session.maxConcurrent", "SESSION_MAX_CONCURRENT")
	_ = v.BindEnv("session.idleTimeoutSeconds", "SESSION_IDLE_TIMEOUT_SECONDS")
	_ = v.BindEnv("session.cleanupIntervalSeconds", "SESSION_CLEANUP_INTERVAL_SECONDS")

	_ = v.BindEnv("task.defaultTimeoutSeconds", "TASK_DEFAULT_TIMEOUT_SECONDS")
	_ = v.BindEnv("task.maxQueueSize", "TASK_MAX_QUEUE_SIZE")

	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("auth.bearerToken", "AUTH_BEARER_TOKEN")

	_ = v.BindEnv("schedule.enabled", "SCHEDULE_ENABLED")
	_ = v.BindEnv("schedule.dataDir", "SCHEDULE_DATA_DIR")
}

// Load reads configuration from environment variables and defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Claude.APIKey == "" {
		return fmt.Errorf("CLAUDE_API_KEY environment variable is required")
	}
	if cfg.Auth.Enabled && cfg.Auth.BearerToken == "" {
		return fmt.Errorf("AUTH_BEARER_TOKEN required when authentication is enabled")
	}
	if cfg.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("session max concurrent must be positive, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Task.MaxQueueSize <= 0 {
		return fmt.Errorf("task max queue size must be positive, got %d", cfg.Task.MaxQueueSize)
	}
	return nil
}
