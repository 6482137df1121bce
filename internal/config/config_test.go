package config_test

import (
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/flowsession/internal/assert"
	"github.com/kode4food/flowsession/internal/assert/helpers"
	"github.com/kode4food/flowsession/internal/config"
)

func TestConfigValidation(t *testing.T) {
	as := assert.New(t)

	t.Run("default_config_needs_flow", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		as.ConfigInvalid(cfg, "flow id is required")
	})

	t.Run("valid_test_config", func(t *testing.T) {
		cfg := helpers.NewTestConfig()
		as.ConfigValid(cfg)
	})

	tests := []struct {
		name          string
		configMod     func(*config.Config)
		errorContains string
	}{
		{
			name: "http_scheme",
			configMod: func(c *config.Config) {
				c.ServerURL = "http://localhost:8005"
			},
			errorContains: "invalid server URL",
		},
		{
			name: "missing_host",
			configMod: func(c *config.Config) {
				c.ServerURL = "ws://"
			},
			errorContains: "invalid server URL",
		},
		{
			name: "empty_token_param",
			configMod: func(c *config.Config) {
				c.TokenParam = ""
			},
			errorContains: "token parameter name is required",
		},
		{
			name: "negative_reconnect_attempts",
			configMod: func(c *config.Config) {
				c.ReconnectAttempts = -1
			},
			errorContains: "reconnect attempts cannot be negative",
		},
		{
			name: "zero_reconnect_interval",
			configMod: func(c *config.Config) {
				c.ReconnectInterval = 0
			},
			errorContains: "reconnect interval must be positive",
		},
		{
			name: "zero_stream_timeout",
			configMod: func(c *config.Config) {
				c.StreamTimeout = 0
			},
			errorContains: "stream timeout must be positive",
		},
		{
			name: "zero_pong_wait",
			configMod: func(c *config.Config) {
				c.PongWait = 0
			},
			errorContains: "pong wait must be positive",
		},
		{
			name: "zero_message_size",
			configMod: func(c *config.Config) {
				c.MaxMessageSize = 0
			},
			errorContains: "max message size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := helpers.NewTestConfig()
			tt.configMod(cfg)
			as.ConfigInvalid(cfg, tt.errorContains)
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	as := assert.New(t)

	cfg := config.NewDefaultConfig()

	as.Equal(config.DefaultServerURL, cfg.ServerURL)
	as.Equal("token", cfg.TokenParam)
	as.Equal(3, cfg.ReconnectAttempts)
	as.Equal(3*time.Second, cfg.ReconnectInterval)
	as.Equal(30*time.Second, cfg.StreamTimeout)
	as.Equal(54*time.Second, cfg.PingPeriod())
	as.False(cfg.VerboseTranscript)
	as.Equal("info", cfg.LogLevel)
}

func TestSessionURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.ServerURL = "wss://flows.example.com/"
	cfg.FlowID = "flow 42"

	testify.Equal(t, "wss://flows.example.com/ws/flows/flow%2042",
		cfg.SessionURL())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_URL", "ws://backend:9000")
	t.Setenv("FLOW_ID", "abc")
	t.Setenv("RECONNECT_ATTEMPTS", "5")
	t.Setenv("RECONNECT_INTERVAL", "250ms")
	t.Setenv("STREAM_TIMEOUT", "2m")
	t.Setenv("VERBOSE_TRANSCRIPT", "true")
	t.Setenv("TOKEN_REDIS_ADDR", "redis:6379")
	t.Setenv("TOKEN_REDIS_DB", "2")
	t.Setenv("TOKEN_REDIS_KEY", "auth:token")

	cfg := config.NewDefaultConfig()
	testify.NoError(t, cfg.LoadFromEnv())

	testify.Equal(t, "ws://backend:9000", cfg.ServerURL)
	testify.Equal(t, "abc", cfg.FlowID)
	testify.Equal(t, 5, cfg.ReconnectAttempts)
	testify.Equal(t, 250*time.Millisecond, cfg.ReconnectInterval)
	testify.Equal(t, 2*time.Minute, cfg.StreamTimeout)
	testify.True(t, cfg.VerboseTranscript)
	testify.Equal(t, "redis:6379", cfg.TokenStore.Addr)
	testify.Equal(t, 2, cfg.TokenStore.DB)
	testify.Equal(t, "auth:token", cfg.TokenStore.Key)
	testify.NoError(t, cfg.Validate())
}

func TestLoadFromEnvZeroReconnects(t *testing.T) {
	t.Setenv("RECONNECT_ATTEMPTS", "0")

	cfg := config.NewDefaultConfig()
	testify.NoError(t, cfg.LoadFromEnv())
	testify.Equal(t, 0, cfg.ReconnectAttempts)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := map[string]string{
		"RECONNECT_ATTEMPTS": "lots",
		"MAX_MESSAGE_SIZE":   "-4",
		"STREAM_TIMEOUT":     "soon",
		"PONG_WAIT":          "-1s",
		"VERBOSE_TRANSCRIPT": "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()
			testify.Error(t, err)
			testify.Contains(t, err.Error(), key)
		})
	}
}
