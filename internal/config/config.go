package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type (
	// Config holds configuration settings for a flow test session
	Config struct {
		// Endpoint
		ServerURL  string
		FlowID     string
		TokenParam string

		// Connection
		ReconnectAttempts int
		ReconnectInterval time.Duration
		HandshakeTimeout  time.Duration
		WriteWait         time.Duration
		PongWait          time.Duration
		MaxMessageSize    int64

		// Session
		StreamTimeout     time.Duration
		VerboseTranscript bool

		// Auth
		AccessToken string
		TokenStore  TokenStoreConfig

		// Archive
		ArchiveBucketURL string
		ArchivePrefix    string

		LogLevel string
	}

	// TokenStoreConfig locates a shared bearer token cached in Redis
	TokenStoreConfig struct {
		Addr     string
		Password string
		DB       int
		Key      string
		MinTTL   time.Duration
	}
)

const (
	DefaultServerURL         = "ws://localhost:8005"
	DefaultTokenParam        = "token"
	DefaultReconnectAttempts = 3
	DefaultReconnectInterval = 3 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultMaxMessageSize    = 1 << 20
	DefaultStreamTimeout     = 30 * time.Second
	DefaultTokenKey          = "flowsession:access_token"
	DefaultTokenMinTTL       = 30 * time.Second
	DefaultArchivePrefix     = "transcripts/"

	MaxReconnectAttempts = 100
	MaxMessageSize       = 64 << 20

	sessionPath = "/ws/flows/"
)

var (
	ErrInvalidServerURL         = errors.New("invalid server URL")
	ErrFlowIDRequired           = errors.New("flow id is required")
	ErrInvalidTokenParam        = errors.New("token parameter name is required")
	ErrInvalidReconnectAttempts = errors.New(
		"reconnect attempts cannot be negative",
	)
	ErrInvalidReconnectInterval = errors.New(
		"reconnect interval must be positive",
	)
	ErrInvalidStreamTimeout = errors.New("stream timeout must be positive")
	ErrInvalidWriteWait     = errors.New("write wait must be positive")
	ErrInvalidPongWait      = errors.New("pong wait must be positive")
	ErrInvalidMessageSize   = errors.New("max message size must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// connection, streaming, and auth settings
func NewDefaultConfig() *Config {
	return &Config{
		ServerURL:         DefaultServerURL,
		TokenParam:        DefaultTokenParam,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectInterval: DefaultReconnectInterval,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		WriteWait:         DefaultWriteWait,
		PongWait:          DefaultPongWait,
		MaxMessageSize:    DefaultMaxMessageSize,
		StreamTimeout:     DefaultStreamTimeout,
		TokenStore: TokenStoreConfig{
			Key:    DefaultTokenKey,
			MinTTL: DefaultTokenMinTTL,
		},
		ArchivePrefix: DefaultArchivePrefix,
		LogLevel:      "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	loadEnvString("SERVER_URL", &c.ServerURL)
	loadEnvString("FLOW_ID", &c.FlowID)
	loadEnvString("TOKEN_PARAM", &c.TokenParam)
	loadEnvString("ACCESS_TOKEN", &c.AccessToken)
	loadEnvString("ARCHIVE_BUCKET_URL", &c.ArchiveBucketURL)
	loadEnvString("ARCHIVE_PREFIX", &c.ArchivePrefix)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadTokenStoreFromEnv(&c.TokenStore, "TOKEN")

	if v := os.Getenv("VERBOSE_TRANSCRIPT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid VERBOSE_TRANSCRIPT: %q", v)
		}
		c.VerboseTranscript = b
	}

	if err := loadEnvInt(
		"RECONNECT_ATTEMPTS", &c.ReconnectAttempts, -1, MaxReconnectAttempts,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_MESSAGE_SIZE", &c.MaxMessageSize, 0, MaxMessageSize,
	); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RECONNECT_INTERVAL", &c.ReconnectInterval},
		{"HANDSHAKE_TIMEOUT", &c.HandshakeTimeout},
		{"WRITE_WAIT", &c.WriteWait},
		{"PONG_WAIT", &c.PongWait},
		{"STREAM_TIMEOUT", &c.StreamTimeout},
		{"TOKEN_REDIS_MIN_TTL", &c.TokenStore.MinTTL},
	}
	for _, d := range durations {
		if err := loadEnvDuration(d.key, d.dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidServerURL, c.ServerURL)
	}

	if c.FlowID == "" {
		return ErrFlowIDRequired
	}

	if c.TokenParam == "" {
		return ErrInvalidTokenParam
	}

	if c.ReconnectAttempts < 0 {
		return ErrInvalidReconnectAttempts
	}

	if c.ReconnectInterval <= 0 {
		return ErrInvalidReconnectInterval
	}

	if c.StreamTimeout <= 0 {
		return ErrInvalidStreamTimeout
	}

	if c.WriteWait <= 0 {
		return ErrInvalidWriteWait
	}

	if c.PongWait <= 0 {
		return ErrInvalidPongWait
	}

	if c.MaxMessageSize <= 0 {
		return ErrInvalidMessageSize
	}

	return nil
}

// SessionURL returns the session-scoped endpoint for the configured flow. The
// token is never part of it; the connection manager attaches it at dial time
func (c *Config) SessionURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	return base + sessionPath + url.PathEscape(c.FlowID)
}

// PingPeriod returns how often keepalive pings are sent. It must be shorter
// than PongWait
func (c *Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func loadTokenStoreFromEnv(s *TokenStoreConfig, prefix string) {
	loadEnvString(prefix+"_REDIS_ADDR", &s.Addr)
	loadEnvString(prefix+"_REDIS_PASSWORD", &s.Password)
	loadEnvString(prefix+"_REDIS_KEY", &s.Key)
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil && db >= 0 {
			s.DB = db
		}
	}
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if the
// value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
