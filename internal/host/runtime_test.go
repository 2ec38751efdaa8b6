package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/modules"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

// fakePackages installs packages by writing their files below root.
type fakePackages struct {
	root  string
	files map[string]map[string]string
	block bool

	mu    sync.Mutex
	calls []string
}

func (f *fakePackages) LoadPackage(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	files, ok := f.files[name]
	if !ok {
		return errdefs.New(errdefs.DependencyUnavailable, name, "failed to obtain "+name)
	}
	for p, body := range files {
		full := filepath.Join(f.root, name, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(body), 0644); err != nil {
			return err
		}
	}
	return nil
}

var addFiles = map[string]string{
	"package.json": `{"version":"1.0.0","main":"add.js"}`,
	"add.js":       "exports.add = function (a, b) { return a + b; };",
}

func newTestRuntime(t *testing.T, cfg Config) (*Runtime, *fakePackages) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "packages")
	require.NoError(t, os.MkdirAll(root, 0755))
	resolver, err := modules.NewResolver(root)
	require.NoError(t, err)

	pkgs := &fakePackages{root: root, files: map[string]map[string]string{"add": addFiles}}
	rt := New(resolver, pkgs, cfg, nil)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, pkgs
}

func TestRuntimeExecution(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	tests := []struct {
		name   string
		script string
		want   interface{}
	}{
		{name: "simple return", script: "42", want: int64(42)},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "undefined", script: "undefined", want: nil},
		{name: "process removed", script: "typeof process", want: "undefined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := rt.Run(context.Background(), tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Value)
		})
	}
}

func TestRuntimeScriptError(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	result, err := rt.Run(context.Background(), "throw new Error('bad')")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Contains(t, err.Error(), "bad")
}

func TestConsoleCaptured(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	result, err := rt.Run(context.Background(), "console.log('hello', 1); console.warn('careful'); 'done'")
	require.NoError(t, err)
	require.Len(t, result.Console, 2)
	assert.Equal(t, "log", result.Console[0].Level)
	assert.Equal(t, "hello 1", result.Console[0].Message)
	assert.Equal(t, "warn", result.Console[1].Level)

	// Each run starts with an empty console
	result, err = rt.Run(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, result.Console)
}

func TestConsoleDisabled(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{Timeout: time.Second})

	result, err := rt.Run(context.Background(), "typeof console")
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Value)
}

func TestRequireInstallsOnDemand(t *testing.T) {
	rt, pkgs := newTestRuntime(t, DefaultConfig())

	result, err := rt.Run(context.Background(), "require('add').add(1, 2)")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Value)

	_, err = rt.Run(context.Background(), "require('add').add(2, 2)")
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, pkgs.calls)
}

func TestLoadPackageSuccess(t *testing.T) {
	rt, pkgs := newTestRuntime(t, DefaultConfig())

	_, err := rt.Run(context.Background(), `
		var calls = [];
		loadPackage('add',
			function () { calls.push('ok:' + require('add').add(1, 2)); },
			function (reason) { calls.push('fail:' + reason); });
	`)
	require.NoError(t, err)

	result, err := rt.Run(context.Background(), "calls.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "ok:3", result.Value)
	assert.Equal(t, []string{"add"}, pkgs.calls)
}

func TestLoadPackageFailure(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	_, err := rt.Run(context.Background(), `
		var calls = [];
		loadPackage('missing',
			function () { calls.push('ok'); },
			function (reason) { calls.push('fail:' + reason); });
	`)
	require.NoError(t, err)

	result, err := rt.Run(context.Background(), "calls.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "fail:missing: failed to obtain missing", result.Value)
}

func TestLoadPackageFailureWithoutCallback(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	_, err := rt.Run(context.Background(), "loadPackage('missing', function () {})")
	assert.NoError(t, err)
}

func TestLoadPackageInvalidArguments(t *testing.T) {
	rt, pkgs := newTestRuntime(t, DefaultConfig())

	tests := []struct {
		name string
		args string
	}{
		{name: "numeric name", args: "42, ok, fail"},
		{name: "missing name", args: "undefined, ok, fail"},
		{name: "non-callable success", args: "'add', 'ok', fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := rt.Run(context.Background(), `
				var got = [];
				var ok = function () { got.push('ok'); };
				var fail = function (reason) { got.push(reason); };
				loadPackage(`+tt.args+`);
				got.join(',')
			`)
			require.NoError(t, err)
			assert.Equal(t, invalidArguments, result.Value, "failure runs before loadPackage returns")
		})
	}
	assert.Empty(t, pkgs.calls)

	result, err := rt.Run(context.Background(), "try { loadPackage(1); 'no' } catch (e) { e instanceof TypeError }")
	require.NoError(t, err)
	assert.Equal(t, true, result.Value)
}

func TestCallbackErrorFailsRun(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	_, err := rt.Run(context.Background(), "loadPackage('add', function () { throw new Error('in callback'); })")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in callback")
}

func TestTimeout(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := rt.Run(context.Background(), "for (;;) {}")
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The runtime stays usable
	result, err := rt.Run(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Value)
}

func TestTimeoutWhileLoading(t *testing.T) {
	rt, pkgs := newTestRuntime(t, Config{Timeout: 100 * time.Millisecond})
	pkgs.block = true

	_, err := rt.Run(context.Background(), "var hit = false; loadPackage('add', function () { hit = true; }, function () { hit = true; })")
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	result, err := rt.Run(context.Background(), "hit")
	require.NoError(t, err)
	assert.Equal(t, false, result.Value)
}

func TestContextCancelled(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := rt.Run(ctx, "for (;;) {}")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestEval(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	result, err := rt.Eval(context.Background(), "add", "pkg.add(2, 3)")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Value)

	result, err = rt.Eval(context.Background(), "add", "")
	require.NoError(t, err)
	assert.Contains(t, result.Value, "add")
}

func TestHostBuiltin(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	result, err := rt.Run(context.Background(), "require('modhost').packagesDir")
	require.NoError(t, err)
	assert.Equal(t, rt.Loader().Resolver().Root(), result.Value)
}

func TestResetAndClose(t *testing.T) {
	rt, _ := newTestRuntime(t, DefaultConfig())

	_, err := rt.Run(context.Background(), "var leftover = 1")
	require.NoError(t, err)

	rt.Reset()
	result, err := rt.Run(context.Background(), "typeof leftover")
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Value)

	require.NoError(t, rt.Close())
	_, err = rt.Run(context.Background(), "1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfigFromSandbox(t *testing.T) {
	cfg := ConfigFromSandbox(config.SandboxConfig{Timeout: 2 * time.Second})
	assert.Equal(t, Config{Timeout: 2 * time.Second}, cfg)

	cfg = ConfigFromSandbox(config.SandboxConfig{EnableConsole: true})
	assert.Equal(t, DefaultConfig(), cfg)
}
