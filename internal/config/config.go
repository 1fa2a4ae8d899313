package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Business Business       `yaml:"business"`
	API      APIConfig      `yaml:"api"`
	Socket   SocketConfig   `yaml:"socket"`
	Sync     SyncConfig     `yaml:"sync"`
	Cache    CacheConfig    `yaml:"cache"`
	StateAPI StateAPIConfig `yaml:"state_api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Business identifies the tenant this instance syncs.
type Business struct {
	ID string `yaml:"id"`
}

// APIConfig contains support backend REST settings
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SocketConfig contains websocket transport settings
type SocketConfig struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// SyncConfig contains projection sync settings
type SyncConfig struct {
	NotificationLimit int           `yaml:"notification_limit"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	QueueStaleAfter   time.Duration `yaml:"queue_stale_after"`
	PersistInterval   time.Duration `yaml:"persist_interval"`
}

// CacheConfig contains warm-start snapshot cache settings
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StateAPIConfig contains local state HTTP server settings
type StateAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}

	if c.Socket.DialTimeout == 0 {
		c.Socket.DialTimeout = 10 * time.Second
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = 10 * time.Second
	}
	if c.Socket.PingInterval == 0 {
		c.Socket.PingInterval = 30 * time.Second
	}
	if c.Socket.PongWait == 0 {
		c.Socket.PongWait = 60 * time.Second
	}
	if c.Socket.ReconnectMin == 0 {
		c.Socket.ReconnectMin = 500 * time.Millisecond
	}
	if c.Socket.ReconnectMax == 0 {
		c.Socket.ReconnectMax = 30 * time.Second
	}
	if c.Socket.SendBuffer == 0 {
		c.Socket.SendBuffer = 64
	}

	if c.Sync.NotificationLimit == 0 {
		c.Sync.NotificationLimit = 50
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = 15 * time.Second
	}
	if c.Sync.QueueStaleAfter == 0 {
		c.Sync.QueueStaleAfter = 30 * time.Second
	}
	if c.Sync.PersistInterval == 0 {
		c.Sync.PersistInterval = 30 * time.Second
	}

	if c.Cache.Path == "" {
		c.Cache.Path = "/var/lib/deskstream/cache.db"
	}

	if c.StateAPI.ListenAddr == "" {
		c.StateAPI.ListenAddr = ":8085"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Business.ID == "" {
		return fmt.Errorf("business.id is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Socket.URL == "" {
		return fmt.Errorf("socket.url is required")
	}

	if c.Socket.PongWait <= c.Socket.PingInterval {
		return fmt.Errorf("socket.pong_wait must be greater than socket.ping_interval")
	}
	if c.Socket.ReconnectMin > c.Socket.ReconnectMax {
		return fmt.Errorf("socket.reconnect_min must not exceed socket.reconnect_max")
	}

	if c.Sync.NotificationLimit < 0 {
		return fmt.Errorf("sync.notification_limit must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
