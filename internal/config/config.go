// Package config loads the broker configuration from an optional YAML file
// with RENDEZVOUS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		ListenAddr      string        `mapstructure:"listen_addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// TrustProxyHeaders derives client origins from X-Forwarded-For.
		// Enable only when the broker sits behind a trusted reverse proxy.
		TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
		// AllowedOrigins lists browser Origins admitted on the WebSocket
		// endpoint. Empty means same-host only; "*" admits any.
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Auth struct {
		JWTSecret string        `mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `mapstructure:"token_ttl"`
		// HandshakeTimeout bounds how long a WebSocket connection may stay
		// unauthenticated before it is closed.
		HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
		Users            map[string]string `mapstructure:"users"`
	} `mapstructure:"auth"`

	Match struct {
		ExcludeSameOrigin bool `mapstructure:"exclude_same_origin"`
	} `mapstructure:"match"`

	Liveness struct {
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"liveness"`

	Limits struct {
		MaxMessageBytes      int64 `mapstructure:"max_message_bytes"`
		MaxMessagesPerSecond int   `mapstructure:"max_messages_per_second"`
	} `mapstructure:"limits"`
}

// Load reads the config file at path, if any, applies environment overrides
// and defaults, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RENDEZVOUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trust_proxy_headers", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.handshake_timeout", 5*time.Second)

	v.SetDefault("match.exclude_same_origin", true)

	v.SetDefault("liveness.probe_interval", 30*time.Second)

	v.SetDefault("limits.max_message_bytes", int64(64*1024))
	v.SetDefault("limits.max_messages_per_second", 50)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret must be set")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %v", c.Auth.TokenTTL)
	}
	if c.Auth.HandshakeTimeout <= 0 {
		return fmt.Errorf("auth.handshake_timeout must be positive, got %v", c.Auth.HandshakeTimeout)
	}
	if c.Liveness.ProbeInterval <= 0 {
		return fmt.Errorf("liveness.probe_interval must be positive, got %v", c.Liveness.ProbeInterval)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(c *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.Log.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
