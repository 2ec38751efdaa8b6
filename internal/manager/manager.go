package manager

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/clock"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/pkglock"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// Fetcher talks to the package index.
type Fetcher interface {
	Download(ctx context.Context, name string) (*envelope.Result, error)
	LatestVersions(ctx context.Context, names []string) ([]string, error)
}

// State is the version-check gate.
type State int

const (
	NotChecked State = iota
	CheckingVersions
	Ready
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not-checked"
	case CheckingVersions:
		return "checking-versions"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Options tunes the manager.
type Options struct {
	// RetryInterval is how long a load waits before looking at the gate again.
	RetryInterval time.Duration
	// UpdatePeriod is the minimum time between two version checks.
	UpdatePeriod time.Duration
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		RetryInterval: 2 * time.Second,
		UpdatePeriod:  24 * time.Hour,
	}
}

// OptionsFromConfig extracts manager options from the package settings.
func OptionsFromConfig(cfg config.PackagesConfig) Options {
	return Options{
		RetryInterval: cfg.RetryInterval,
		UpdatePeriod:  cfg.UpdatePeriod,
	}
}

// Manager resolves packages and their dependencies onto disk.
type Manager struct {
	layout  paths.Layout
	fetcher Fetcher
	opts    Options
	lock    *pkglock.Lock
	clock   clock.Clock
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	state State         // Protected by mu
	ready chan struct{} // Closed when state becomes Ready
}

// New creates a manager with its own package lock.
func New(layout paths.Layout, fetcher Fetcher, opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if opts.UpdatePeriod <= 0 {
		opts.UpdatePeriod = defaults.UpdatePeriod
	}
	return &Manager{
		layout:  layout,
		fetcher: fetcher,
		opts:    opts,
		lock:    pkglock.New(),
		clock:   clock.Real(),
		logger:  logging.NewNop(),
		ready:   make(chan struct{}),
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *logging.Logger) *Manager {
	m.logger = logging.OrNop(logger).Component("manager")
	return m
}

// WithMetrics adds metrics tracking to the manager.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithClock replaces the time source.
func (m *Manager) WithClock(c clock.Clock) *Manager {
	m.clock = c
	return m
}

// WithLock shares a package lock with other managers over the same tree.
func (m *Manager) WithLock(l *pkglock.Lock) *Manager {
	m.lock = l
	return m
}

// Layout returns the filesystem layout the manager installs into.
func (m *Manager) Layout() paths.Layout {
	return m.layout
}

// State returns the version-check gate position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LoadPackage makes name and its transitive dependencies available locally.
// It blocks until the first version check has finished, then downloads
// whatever is missing.
func (m *Manager) LoadPackage(ctx context.Context, name string) error {
	if err := paths.ValidatePackageName(name); err != nil {
		return errdefs.Wrap(errdefs.InvalidArguments, name, "invalid package name", err)
	}

	for {
		ready, isReady := m.gate(ctx)
		if isReady {
			return m.resolve(ctx, name)
		}

		m.logger.Debug("Load delayed by version check", zap.String("package", name))
		select {
		case <-ctx.Done():
			return errdefs.Wrap(errdefs.DependencyUnavailable, name, "waiting for version check", ctx.Err())
		case <-ready:
		case <-m.clock.After(m.opts.RetryInterval):
		}
	}
}

// LoadPackageAsync runs LoadPackage in a goroutine and calls done exactly
// once with its result.
func (m *Manager) LoadPackageAsync(ctx context.Context, name string, done func(error)) {
	go func() {
		done(m.LoadPackage(ctx, name))
	}()
}

// gate advances the state machine. It starts the version check on first
// use and reports whether loads may proceed.
func (m *Manager) gate(ctx context.Context) (<-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Ready:
		return m.ready, true
	case NotChecked:
		m.state = CheckingVersions
		go m.versionCheckCycle(context.WithoutCancel(ctx))
	}
	return m.ready, false
}

func (m *Manager) versionCheckCycle(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.state = Ready
		close(m.ready)
		m.mu.Unlock()
	}()

	if _, err := m.CheckVersions(ctx, false); err != nil {
		m.logger.Warn("Version check failed", zap.Error(err))
	}
}

// resolve walks the dependency graph of name breadth-first.
func (m *Manager) resolve(ctx context.Context, name string) error {
	ctx, attempt := tracing.Ensure(ctx)
	log := &logging.Logger{Logger: m.logger.With(zap.String("attempt", attempt), zap.String("package", name))}
	start := m.clock.Now()

	queue := []string{name}
	seen := map[string]bool{name: true}
	var downloaded []string

	fail := func(pkg string, err error) error {
		m.rollback(ctx, downloaded, log)
		log.Warn("Package unavailable", zap.String("failed", pkg), zap.Error(err))
		return errdefs.Wrap(errdefs.DependencyUnavailable, name, "failed to obtain "+pkg, err)
	}

	for len(queue) > 0 {
		head := queue[0]

		if !m.layout.IsInstalled(head) {
			fetched, err := m.acquire(ctx, head, log)
			if err != nil {
				return fail(head, err)
			}
			if fetched {
				downloaded = append(downloaded, head)
			}
		}

		deps, err := m.dependencies(head)
		if err != nil {
			return fail(head, err)
		}
		queue = queue[1:]
		for _, dep := range deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
		}
	}

	log.Info("Package available",
		zap.Strings("downloaded", downloaded),
		zap.Duration("duration", m.clock.Now().Sub(start)))
	return nil
}

// acquire downloads pkg under the package lock unless a concurrent attempt
// installed it while this one waited. It reports whether it downloaded.
func (m *Manager) acquire(ctx context.Context, pkg string, log *logging.Logger) (bool, error) {
	if err := m.lock.Acquire(ctx); err != nil {
		return false, err
	}
	defer m.lock.Release()

	if m.layout.IsInstalled(pkg) {
		log.Debug("Package installed by a concurrent load", zap.String("dependency", pkg))
		return false, nil
	}
	log.Debug("Downloading", zap.String("dependency", pkg))
	if _, err := m.fetcher.Download(ctx, pkg); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) dependencies(pkg string) ([]string, error) {
	mf, err := manifest.Load(m.layout.ManifestPath(pkg))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.NotFound, pkg, "reading manifest", err)
	}
	deps := mf.DependencyNames()
	for _, dep := range deps {
		if err := paths.ValidatePackageName(dep); err != nil {
			return nil, errdefs.Wrap(errdefs.InvalidArguments, pkg, "invalid dependency name", err)
		}
	}
	return deps, nil
}

// rollback deletes every package this attempt downloaded. It holds the
// package lock and ignores cancellation of ctx so a cancelled load still
// cleans up.
func (m *Manager) rollback(ctx context.Context, downloaded []string, log *logging.Logger) {
	if len(downloaded) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := m.lock.Acquire(ctx); err != nil {
		log.Error("Rollback could not take the package lock", zap.Error(err))
		return
	}
	defer m.lock.Release()

	for _, pkg := range downloaded {
		if err := os.RemoveAll(m.layout.PackageDir(pkg)); err != nil {
			log.Error("Rollback failed to remove package", zap.String("dependency", pkg), zap.Error(err))
		}
	}
	m.metrics.AddRollbacks(len(downloaded))
	log.Info("Rolled back downloaded packages", zap.Strings("removed", downloaded))
}
