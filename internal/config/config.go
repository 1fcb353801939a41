// Package config handles SchoolHub configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `mapstructure:"data_dir" validate:"required"`

	// REST backend
	API APIConfig `mapstructure:"api"`

	// Push transport
	Realtime RealtimeConfig `mapstructure:"realtime"`

	// Polling fallback
	Fallback FallbackConfig `mapstructure:"fallback"`

	Store StoreConfig `mapstructure:"store"`
	Sound SoundConfig `mapstructure:"sound"`
	Log   LogConfig   `mapstructure:"log"`

	// Development backend
	Server ServerConfig `mapstructure:"server"`
}

// APIConfig for the REST backend
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1ms"`
}

// RealtimeConfig for the websocket transport
type RealtimeConfig struct {
	Path             string        `mapstructure:"path" validate:"required,startswith=/"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial" validate:"min=1ms"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max" validate:"min=1ms"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"min=0"`
	SendPolicy       string        `mapstructure:"send_policy" validate:"oneof=drop queue"`
	QueueLimit       int           `mapstructure:"queue_limit" validate:"min=0"`
	Heartbeat        time.Duration `mapstructure:"heartbeat" validate:"min=0"`
}

// FallbackConfig for REST polling while the transport is down
type FallbackConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	RetryAttempts uint          `mapstructure:"retry_attempts" validate:"min=1"`
}

// StoreConfig for the notification store
type StoreConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"min=1s"`
}

// SoundConfig for notification sounds
type SoundConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig for the logger
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig for the development backend
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"min=0,max=65535"`
	JWTSecret string `mapstructure:"jwt_secret"`
	DBPath    string `mapstructure:"db_path"`
}

const envPrefix = "SCHOOLHUB"

// DefaultDataDir returns ~/.schoolhub, or ./.schoolhub without a home dir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".schoolhub"
	}
	return filepath.Join(home, ".schoolhub")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("api.base_url", "http://localhost:8081")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 15*time.Second)

	v.SetDefault("realtime.path", "/ws/notifications")
	v.SetDefault("realtime.reconnect_initial", time.Second)
	v.SetDefault("realtime.reconnect_max", 30*time.Second)
	v.SetDefault("realtime.max_attempts", 0)
	v.SetDefault("realtime.send_policy", "drop")
	v.SetDefault("realtime.queue_limit", 64)
	v.SetDefault("realtime.heartbeat", 30*time.Second)

	v.SetDefault("fallback.poll_interval", 30*time.Second)
	v.SetDefault("fallback.retry_attempts", 3)

	v.SetDefault("store.cleanup_interval", 60*time.Second)

	v.SetDefault("sound.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.db_path", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns default configuration, with environment overrides applied.
func Default() *Config {
	cfg := &Config{}
	// Defaults always decode.
	_ = newViper().Unmarshal(cfg)
	return cfg
}

// Load loads config from a YAML file, falling back to defaults when the
// file does not exist. Environment variables override both.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Realtime.ReconnectMax < c.Realtime.ReconnectInitial {
		return fmt.Errorf("invalid config: realtime.reconnect_max (%s) is below realtime.reconnect_initial (%s)",
			c.Realtime.ReconnectMax, c.Realtime.ReconnectInitial)
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid config: api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid config: api.base_url must be http or https, got %q", u.Scheme)
	}
	return nil
}

// WebSocketURL derives the push endpoint from the REST base URL by
// swapping http for ws (https for wss) and appending the realtime path.
func (c *Config) WebSocketURL() (string, error) {
	return WebSocketURL(c.API.BaseURL, c.Realtime.Path)
}

// WebSocketURL derives a websocket URL from an http(s) base URL.
func WebSocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// DatabasePath returns the local sqlite file for client preferences.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "schoolhub.db")
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.yaml")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// Tokens and secrets never go to disk
	v.Set("data_dir", c.DataDir)
	v.Set("api.base_url", c.API.BaseURL)
	v.Set("api.timeout", c.API.Timeout.String())
	v.Set("realtime.path", c.Realtime.Path)
	v.Set("realtime.reconnect_initial", c.Realtime.ReconnectInitial.String())
	v.Set("realtime.reconnect_max", c.Realtime.ReconnectMax.String())
	v.Set("realtime.max_attempts", c.Realtime.MaxAttempts)
	v.Set("realtime.send_policy", c.Realtime.SendPolicy)
	v.Set("realtime.queue_limit", c.Realtime.QueueLimit)
	v.Set("realtime.heartbeat", c.Realtime.Heartbeat.String())
	v.Set("fallback.poll_interval", c.Fallback.PollInterval.String())
	v.Set("fallback.retry_attempts", c.Fallback.RetryAttempts)
	v.Set("store.cleanup_interval", c.Store.CleanupInterval.String())
	v.Set("sound.enabled", c.Sound.Enabled)
	v.Set("log.level", c.Log.Level)
	v.Set("log.development", c.Log.Development)
	v.Set("server.port", c.Server.Port)
	v.Set("server.db_path", c.Server.DBPath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
