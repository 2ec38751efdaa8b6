package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Packages PackagesConfig
	HTTP     HTTPConfig
	Sandbox  SandboxConfig
	Index    IndexConfig
	Logging  LogConfig
}

// PackagesConfig holds package acquisition settings.
type PackagesConfig struct {
	DataDir       string        `envconfig:"MODHOST_DATA_DIR" default:"/tmp/modhost"`
	ServerURL     string        `envconfig:"MODHOST_SERVER_URL" default:"https://localhost:8000"`
	DeviceInfo    string        `envconfig:"MODHOST_DEVICE_INFO" default:"/generic/modhost/1.0.0/"`
	ArchiveExt    string        `envconfig:"MODHOST_ARCHIVE_EXT" default:".crx"`
	ConnTimeout   time.Duration `envconfig:"MODHOST_CONN_TIMEOUT" default:"10s"`
	RetryInterval time.Duration `envconfig:"MODHOST_RETRY_INTERVAL" default:"2s"`
	UpdatePeriod  time.Duration `envconfig:"MODHOST_UPDATE_PERIOD" default:"24h"`
	MaxRedirects  int           `envconfig:"MODHOST_MAX_REDIRECTS" default:"5"`
}

// HTTPConfig holds remote index client settings.
type HTTPConfig struct {
	RequestsPerSecond float64 `envconfig:"MODHOST_HTTP_RPS" default:"0"`
	VersionRetries    int     `envconfig:"MODHOST_VERSION_RETRIES" default:"2"`
	InsecureTLS       bool    `envconfig:"MODHOST_INSECURE_TLS" default:"false"`
}

// SandboxConfig holds script host settings.
type SandboxConfig struct {
	Timeout       time.Duration `envconfig:"MODHOST_SCRIPT_TIMEOUT" default:"5s"`
	EnableConsole bool          `envconfig:"MODHOST_ENABLE_CONSOLE" default:"true"`
}

// IndexConfig holds reference index server settings.
type IndexConfig struct {
	Host       string `envconfig:"INDEX_HOST" default:"0.0.0.0"`
	Port       string `envconfig:"INDEX_PORT" default:"8000"`
	Dir        string `envconfig:"INDEX_DIR" default:"./index"`
	DeviceInfo string `envconfig:"INDEX_DEVICE_INFO" default:"/generic/modhost/1.0.0/"`

	RateLimit    int      `envconfig:"INDEX_RATE_LIMIT" default:"0"`
	Burst        int      `envconfig:"INDEX_BURST" default:"200"`
	AllowOrigins []string `envconfig:"INDEX_CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Packages: PackagesConfig{
			DataDir:       "/tmp/modhost",
			ServerURL:     "https://localhost:8000",
			DeviceInfo:    "/generic/modhost/1.0.0/",
			ArchiveExt:    ".crx",
			ConnTimeout:   10 * time.Second,
			RetryInterval: 2 * time.Second,
			UpdatePeriod:  24 * time.Hour,
			MaxRedirects:  5,
		},
		HTTP: HTTPConfig{
			RequestsPerSecond: 0,
			VersionRetries:    2,
		},
		Sandbox: SandboxConfig{
			Timeout:       5 * time.Second,
			EnableConsole: true,
		},
		Index: IndexConfig{
			Host:         "0.0.0.0",
			Port:         "8000",
			Dir:          "./index",
			DeviceInfo:   "/generic/modhost/1.0.0/",
			RateLimit:    0,
			Burst:        200,
			AllowOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate rejects settings the package manager cannot run with.
func (c *Config) Validate() error {
	p := c.Packages
	if p.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if p.ServerURL == "" {
		return fmt.Errorf("server url must not be empty")
	}
	if p.ConnTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive, got %s", p.ConnTimeout)
	}
	if p.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %s", p.RetryInterval)
	}
	if p.MaxRedirects < 0 {
		return fmt.Errorf("max redirects must not be negative, got %d", p.MaxRedirects)
	}
	if c.Index.RateLimit < 0 {
		return fmt.Errorf("index rate limit must not be negative, got %d", c.Index.RateLimit)
	}
	if c.HTTP.VersionRetries < 0 {
		return fmt.Errorf("version retries must not be negative, got %d", c.HTTP.VersionRetries)
	}
	return nil
}
