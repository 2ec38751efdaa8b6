package host_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope/envelopetest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/host"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manager"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/modules"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

type stack struct {
	rt      *host.Runtime
	mgr     *manager.Manager
	layout  paths.Layout
	metrics *monitoring.Metrics
}

// newStack serves packages from an index directory and wires a runtime
// to install from it.
func newStack(t *testing.T, packages map[string]map[string]string) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Index.Dir = t.TempDir()
	for name, files := range packages {
		data := envelopetest.Package(t, files)
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Index.Dir, name+cfg.Packages.ArchiveExt), data, 0644))
	}
	srv, err := server.NewServer(cfg, logging.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	layout, err := paths.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.Ensure())

	pkgCfg := cfg.Packages
	pkgCfg.ServerURL = ts.URL
	pkgCfg.RetryInterval = 10 * time.Millisecond

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	client := fetch.NewClient(fetch.ClientOptions{Retries: 0, RetryWait: time.Millisecond}, nil)
	installer := envelope.NewInstaller(layout, nil, metrics)
	engine := fetch.NewEngine(fetch.OptionsFromConfig(pkgCfg), client, installer, layout, nil, metrics)
	mgr := manager.New(layout, engine, manager.OptionsFromConfig(pkgCfg)).WithMetrics(metrics)

	resolver, err := modules.NewResolver(layout.Packages)
	require.NoError(t, err)
	rt := host.New(resolver, mgr, host.ConfigFromSandbox(cfg.Sandbox), nil).WithMetrics(metrics)
	t.Cleanup(func() { _ = rt.Close() })

	return &stack{rt: rt, mgr: mgr, layout: layout, metrics: metrics}
}

var published = map[string]map[string]string{
	"add": {
		"package.json": `{"version":"1.0.0","main":"lib/add.js","dependencies":{"num":"*"}}`,
		"lib/add.js":   "var num = require('num'); exports.add = function (a, b) { return num.check(a) + num.check(b); };",
	},
	"num": {
		"package.json": envelopetest.Manifest("0.3.0"),
		"index.js":     "exports.check = function (x) { if (typeof x !== 'number') throw new TypeError('not a number'); return x; };",
	},
}

func TestRequireAddFromIndex(t *testing.T) {
	s := newStack(t, published)

	result, err := s.rt.Run(context.Background(), "require('add').add(1, 2)")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Value)

	// The dependency arrived with the package
	assert.True(t, s.layout.IsInstalled("add"))
	assert.True(t, s.layout.IsInstalled("num"))
	assert.Equal(t, manager.Ready, s.mgr.State())
}

func TestLoadPackageFromIndex(t *testing.T) {
	s := newStack(t, published)

	_, err := s.rt.Run(context.Background(), `
		var outcome;
		loadPackage('add',
			function () { outcome = require('add').add(20, 22); },
			function (reason) { outcome = reason; });
	`)
	require.NoError(t, err)

	result, err := s.rt.Run(context.Background(), "outcome")
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Value)

	inventory, err := s.mgr.Inventory()
	require.NoError(t, err)
	require.Len(t, inventory, 2)
	assert.Equal(t, "add", inventory[0].Name)
	assert.Equal(t, "1.0.0", inventory[0].Version)
	assert.Equal(t, "num", inventory[1].Name)
}

func TestLoadPackageMissingDependency(t *testing.T) {
	s := newStack(t, map[string]map[string]string{"add": published["add"]})

	_, err := s.rt.Run(context.Background(), `
		var outcome;
		loadPackage('add',
			function () { outcome = 'ok'; },
			function (reason) { outcome = reason; });
	`)
	require.NoError(t, err)

	result, err := s.rt.Run(context.Background(), "outcome")
	require.NoError(t, err)
	assert.Contains(t, result.Value, "failed to obtain num")

	// The attempt is rolled back
	assert.False(t, s.layout.IsInstalled("add"))
	assert.False(t, s.layout.IsInstalled("num"))
}
