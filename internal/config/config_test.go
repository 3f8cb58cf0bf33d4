package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Session.DataDir = "/tmp/scoped-test"
	cfg.Providers.Anthropic.APIKey = Secret("sk-ant-test")
	return cfg
}

func TestConfig_Validate_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9180, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 7.0, cfg.Interview.QualityThreshold)
	assert.Equal(t, 3, cfg.Interview.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.LockTimeout.Duration())
	assert.Equal(t, 60*time.Second, cfg.Providers.Anthropic.Timeout.Duration())
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server port",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Interview.QualityThreshold = 11 },
			wantErr: "quality threshold",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Interview.MaxAttempts = -1 },
			wantErr: "max attempts",
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.Session.DataDir = "" },
			wantErr: "data dir",
		},
		{
			name: "no provider keys",
			mutate: func(c *Config) {
				c.Providers.Anthropic.APIKey = ""
				c.Providers.OpenAI.APIKey = ""
			},
			wantErr: "provider API key",
		},
		{
			name: "events enabled without URL",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.URL = ""
			},
			wantErr: "events URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_PORT", "server.port"},
		{"SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"INTERVIEW_QUALITY_THRESHOLD", "interview.quality_threshold"},
		{"SESSION_DATA_DIR", "session.data_dir"},
		{"PROVIDERS_ANTHROPIC_API_KEY", "providers.anthropic.api_key"},
		{"PROVIDERS_OPENAI_MODEL", "providers.openai.model"},
		{"EVENTS_URL", "events.url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, transformEnvKey(tt.in))
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-ant-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-ant-very-secret", s.Value())
	assert.True(t, s.IsSet())

	out, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-secret")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
