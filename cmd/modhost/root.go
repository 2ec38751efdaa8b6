package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/host"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manager"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/modules"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// globalFlags override the environment configuration.
type globalFlags struct {
	dataDir  string
	server   string
	logLevel string
	dev      bool
}

// stack is everything a command needs to install and run packages.
type stack struct {
	cfg     *config.Config
	logger  *logging.Logger
	layout  paths.Layout
	metrics *monitoring.Metrics
	manager *manager.Manager
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "modhost",
		Short: "Install signed packages and run scripts against them",
		Long: `modhost fetches signed package envelopes from a package index, installs
them with their dependencies into a confined package tree and runs
CommonJS scripts that require them.

Examples:
  modhost load add
  modhost run add 'pkg.add(1, 2)'
  modhost check --force
  modhost pack ./add signing.pem add.crx`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory (overrides MODHOST_DATA_DIR)")
	pf.StringVar(&flags.server, "server", "", "package index URL (overrides MODHOST_SERVER_URL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.dev, "dev", false, "human-readable debug logging")

	root.AddCommand(
		newLoadCmd(flags),
		newRunCmd(flags),
		newCheckCmd(flags),
		newListCmd(flags),
		newKeygenCmd(),
		newPackCmd(),
		newVerifyCmd(),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.dataDir != "" {
		cfg.Packages.DataDir = f.dataDir
	}
	if f.server != "" {
		cfg.Packages.ServerURL = f.server
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.dev {
		cfg.Logging.Development = true
	}
	return cfg, cfg.Validate()
}

// newStack wires the package manager from configuration.
func (f *globalFlags) newStack() (*stack, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
		if f.logLevel != "" {
			logCfg.Level = f.logLevel
		}
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	layout, err := paths.NewLayout(cfg.Packages.DataDir)
	if err != nil {
		return nil, err
	}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	client := fetch.NewClient(fetch.ClientOptions{
		Timeout:           fetch.DefaultClientOptions().Timeout,
		Retries:           cfg.HTTP.VersionRetries,
		RetryWait:         fetch.DefaultClientOptions().RetryWait,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		InsecureTLS:       cfg.HTTP.InsecureTLS,
	}, logger)
	installer := envelope.NewInstaller(layout, logger, metrics)
	engine := fetch.NewEngine(fetch.OptionsFromConfig(cfg.Packages), client, installer, layout, logger, metrics)
	mgr := manager.New(layout, engine, manager.OptionsFromConfig(cfg.Packages)).
		WithLogger(logger).
		WithMetrics(metrics)

	return &stack{cfg: cfg, logger: logger, layout: layout, metrics: metrics, manager: mgr}, nil
}

// runtime builds a script host over the stack's package tree.
func (s *stack) runtime() (*host.Runtime, error) {
	resolver, err := modules.NewResolver(s.layout.Packages)
	if err != nil {
		return nil, err
	}
	return host.New(resolver, s.manager, host.ConfigFromSandbox(s.cfg.Sandbox), s.logger).WithMetrics(s.metrics), nil
}

func (s *stack) close() {
	_ = s.logger.Sync()
}
