package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend    BackendConfig    `toml:"backend"`
	Realtime   RealtimeConfig   `toml:"realtime"`
	Chat       ChatConfig       `toml:"chat"`
	Intercom   IntercomConfig   `toml:"intercom"`
	Automation AutomationConfig `toml:"automation"`
	Database   DatabaseConfig   `toml:"database"`
	Server     ServerConfig     `toml:"server"`
}

// BackendConfig locates the HTTP API and the event channel.
type BackendConfig struct {
	BaseURL          string `toml:"base_url"`
	SocketURL        string `toml:"socket_url"`
	PushPublicKey    string `toml:"push_public_key"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// RealtimeConfig bounds the reconnect backoff of the event channel.
type RealtimeConfig struct {
	ReconnectMinMS int `toml:"reconnect_min_ms"`
	ReconnectMaxMS int `toml:"reconnect_max_ms"`
	WriteTimeoutMS int `toml:"write_timeout_ms"`
}

// ChatConfig contains typing indicator and history settings.
type ChatConfig struct {
	TypingIdleMS     int `toml:"typing_idle_ms"`
	TypingThrottleMS int `toml:"typing_throttle_ms"`
	HistoryLimit     int `toml:"history_limit"`
}

// IntercomConfig contains alert bookkeeping settings.
type IntercomConfig struct {
	AckHistoryLimit int `toml:"ack_history_limit"`
}

// AutomationConfig controls how rule executions are followed.
type AutomationConfig struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
	PollTimeoutMS  int `toml:"poll_timeout_ms"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local status server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RequestTimeout returns the HTTP request timeout.
func (b BackendConfig) RequestTimeout() time.Duration {
	return Millis(b.RequestTimeoutMS, 15*time.Second)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the settings every client needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("%w: backend.base_url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Backend.SocketURL) == "" {
		return fmt.Errorf("%w: backend.socket_url is required", ErrInvalidConfig)
	}
	if c.Realtime.ReconnectMaxMS > 0 && c.Realtime.ReconnectMaxMS < c.Realtime.ReconnectMinMS {
		return fmt.Errorf("%w: realtime.reconnect_max_ms is below reconnect_min_ms", ErrInvalidConfig)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
