// Package config loads server configuration from defaults, an optional
// config file and ASSISTANT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "assistant-relay"
	envPrefix  = "ASSISTANT"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	OpenAI   OpenAIConfig
	WS       WSConfig
	Log      LogConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string
	// AllowedOrigins limits browser WebSocket origins; empty allows all.
	AllowedOrigins []string
}

// DatabaseConfig selects the catalog database.
type DatabaseConfig struct {
	Driver string // sqlite3 or postgres
	DSN    string
}

// AuthConfig holds the JWT signing secret.
type AuthConfig struct {
	JWTSecret string
}

// OpenAIConfig configures the assistant engine. An empty APIKey selects the
// local echo engine.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Instructions string
	EchoDelay    time.Duration
}

// WSConfig sizes the per-connection queues.
type WSConfig struct {
	SendBuffer int
	QueueSize  int
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "data/catalog.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.instructions", "Please address the user as Awesome User. The user has a premium account.")
	v.SetDefault("openai.echo_delay", 50*time.Millisecond)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.queue_size", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file (if any) into v and returns the typed config.
// With an empty path, ./assistant-relay.{yaml,toml,json} is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		OpenAI: OpenAIConfig{
			APIKey:       v.GetString("openai.api_key"),
			BaseURL:      v.GetString("openai.base_url"),
			Instructions: v.GetString("openai.instructions"),
			EchoDelay:    v.GetDuration("openai.echo_delay"),
		},
		WS: WSConfig{
			SendBuffer: v.GetInt("ws.send_buffer"),
			QueueSize:  v.GetInt("ws.queue_size"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set ASSISTANT_AUTH_JWT_SECRET)")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer must be positive, got %d", c.WS.SendBuffer)
	}
	if c.WS.QueueSize <= 0 {
		return fmt.Errorf("ws.queue_size must be positive, got %d", c.WS.QueueSize)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
