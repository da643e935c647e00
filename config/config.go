package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/devmonitor/mcp"
	"github.com/zhubert/devmonitor/paths"
)

// Config holds the application configuration. Values come from config.yaml
// and are then overridden by DEVMONITOR_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Log       LogConfig       `yaml:"log"`

	mu       sync.RWMutex
	filePath string
}

// ServerConfig locates the evaluation server
type ServerConfig struct {
	URL              string        `yaml:"url" env:"DEVMONITOR_SERVER_URL"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"DEVMONITOR_REQUEST_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"DEVMONITOR_HANDSHAKE_TIMEOUT"`
}

// HeartbeatConfig tunes liveness probing
type HeartbeatConfig struct {
	Interval   time.Duration `yaml:"interval" env:"DEVMONITOR_HEARTBEAT_INTERVAL"`
	StaleAfter time.Duration `yaml:"stale_after" env:"DEVMONITOR_HEARTBEAT_STALE_AFTER"`
}

// ReconnectConfig tunes the reconnection backoff
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay" env:"DEVMONITOR_RECONNECT_BASE_DELAY"`
	Factor      float64       `yaml:"factor" env:"DEVMONITOR_RECONNECT_FACTOR"`
	MaxAttempts int           `yaml:"max_attempts" env:"DEVMONITOR_RECONNECT_MAX_ATTEMPTS"`
}

// LogConfig controls the log file
type LogConfig struct {
	Debug bool   `yaml:"debug" env:"DEVMONITOR_DEBUG"`
	File  string `yaml:"file,omitempty" env:"DEVMONITOR_LOG_FILE"` // Empty means the default under the logs dir
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	s := mcp.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			URL:              s.ServerURL,
			RequestTimeout:   s.RequestTimeout,
			HandshakeTimeout: s.HandshakeTimeout,
		},
		Heartbeat: HeartbeatConfig{
			Interval:   s.HeartbeatInterval,
			StaleAfter: s.HeartbeatStale,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   s.ReconnectBaseDelay,
			Factor:      s.ReconnectFactor,
			MaxAttempts: s.MaxReconnectAttempts,
		},
	}
}

// Load reads config.yaml from the config directory, falling back to the
// defaults if it doesn't exist, then applies environment overrides.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url %q: scheme must be ws or wss", c.Server.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("server.url %q: missing host", c.Server.URL)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"server.request_timeout", c.Server.RequestTimeout},
		{"server.handshake_timeout", c.Server.HandshakeTimeout},
		{"heartbeat.interval", c.Heartbeat.Interval},
		{"heartbeat.stale_after", c.Heartbeat.StaleAfter},
		{"reconnect.base_delay", c.Reconnect.BaseDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}

	if c.Heartbeat.StaleAfter < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.stale_after (%s) must not be shorter than heartbeat.interval (%s)",
			c.Heartbeat.StaleAfter, c.Heartbeat.Interval)
	}
	if c.Reconnect.Factor < 1 {
		return fmt.Errorf("reconnect.factor must be at least 1, got %g", c.Reconnect.Factor)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1, got %d", c.Reconnect.MaxAttempts)
	}
	return nil
}

// Save writes the config to its file path as YAML
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// SetFilePath changes where Save writes.
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// FilePath returns where the config is loaded from and saved to.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetServerURL changes the evaluation server URL.
func (c *Config) SetServerURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.URL = u
}

// MCPSettings converts the config into client settings.
func (c *Config) MCPSettings() mcp.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return mcp.Settings{
		ServerURL:            c.Server.URL,
		RequestTimeout:       c.Server.RequestTimeout,
		HandshakeTimeout:     c.Server.HandshakeTimeout,
		HeartbeatInterval:    c.Heartbeat.Interval,
		HeartbeatStale:       c.Heartbeat.StaleAfter,
		ReconnectBaseDelay:   c.Reconnect.BaseDelay,
		ReconnectFactor:      c.Reconnect.Factor,
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
	}
}
