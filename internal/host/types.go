package host

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
)

// PackageLoader makes a package and its dependencies available on disk.
type PackageLoader interface {
	LoadPackage(ctx context.Context, name string) error
}

// Config defines script host settings.
type Config struct {
	Timeout       time.Duration // Execution timeout, including pending loads
	EnableConsole bool          // Expose console.log/info/warn/error
}

// Result holds the outcome of one Run.
type Result struct {
	Value    interface{}   // Exported completion value
	Console  []LogEntry    // Console output
	Duration time.Duration // Wall time including pending loads
}

// LogEntry is one console call.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// DefaultConfig returns the default host settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
	}
}

// ConfigFromSandbox converts loaded configuration into host settings.
func ConfigFromSandbox(cfg config.SandboxConfig) Config {
	c := Config{Timeout: cfg.Timeout, EnableConsole: cfg.EnableConsole}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig().Timeout
	}
	return c
}
