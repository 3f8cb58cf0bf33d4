// Package config provides configuration loading for scoped.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults as the lowest layer.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete scoped configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Providers ProvidersConfig `koanf:"providers"`
	Interview InterviewConfig `koanf:"interview"`
	Session   SessionConfig   `koanf:"session"`
	Events    EventsConfig    `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ProvidersConfig holds text generation provider configuration.
// Providers are tried in order: Anthropic first when configured, then OpenAI.
type ProvidersConfig struct {
	Anthropic ProviderConfig `koanf:"anthropic"`
	OpenAI    ProviderConfig `koanf:"openai"`
}

// ProviderConfig holds a single provider's configuration.
type ProviderConfig struct {
	APIKey     Secret   `koanf:"api_key"`
	Model      string   `koanf:"model"`
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// InterviewConfig holds quality-gate tuning for conversational turns.
type InterviewConfig struct {
	QualityThreshold float64 `koanf:"quality_threshold"`
	MaxAttempts      int     `koanf:"max_attempts"`
}

// SessionConfig holds session storage and concurrency configuration.
type SessionConfig struct {
	DataDir             string   `koanf:"data_dir"`
	LockTimeout         Duration `koanf:"lock_timeout"`
	LockIdleTTL         Duration `koanf:"lock_idle_ttl"`
	InactivityThreshold Duration `koanf:"inactivity_threshold"`
	AuditTranscript     bool     `koanf:"audit_transcript"`
}

// EventsConfig holds NATS event publishing configuration.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Interview.QualityThreshold < 0 || c.Interview.QualityThreshold > 10 {
		return fmt.Errorf("quality threshold must be in [0,10], got %v", c.Interview.QualityThreshold)
	}
	if c.Interview.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.Interview.MaxAttempts)
	}

	if c.Session.DataDir == "" {
		return errors.New("session data dir is required")
	}
	if c.Session.LockTimeout.Duration() <= 0 {
		return errors.New("lock timeout must be positive")
	}
	if c.Session.LockIdleTTL.Duration() <= 0 {
		return errors.New("lock idle TTL must be positive")
	}

	if !c.Providers.Anthropic.APIKey.IsSet() && !c.Providers.OpenAI.APIKey.IsSet() {
		return errors.New("at least one provider API key is required")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events URL required when events are enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	applyProviderDefaults(&cfg.Providers.Anthropic, "claude-3-5-sonnet-20241022")
	applyProviderDefaults(&cfg.Providers.OpenAI, "gpt-4o-mini")

	if cfg.Interview.QualityThreshold == 0 {
		cfg.Interview.QualityThreshold = 7.0
	}
	if cfg.Interview.MaxAttempts == 0 {
		cfg.Interview.MaxAttempts = 3
	}

	if cfg.Session.LockTimeout == 0 {
		cfg.Session.LockTimeout = Duration(5 * time.Second)
	}
	if cfg.Session.LockIdleTTL == 0 {
		cfg.Session.LockIdleTTL = Duration(10 * time.Minute)
	}
	if cfg.Session.InactivityThreshold == 0 {
		cfg.Session.InactivityThreshold = Duration(72 * time.Hour)
	}
}

func applyProviderDefaults(p *ProviderConfig, model string) {
	if p.Model == "" {
		p.Model = model
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(60 * time.Second)
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
}
