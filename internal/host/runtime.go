package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/modules"
)

const invalidArguments = "Invalid arguments"

var (
	// ErrTimeout is returned when a script or its pending loads outlive the
	// configured timeout.
	ErrTimeout = errors.New("execution timeout exceeded")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("runtime closed")
)

// completion carries a finished loadPackage back to the VM goroutine.
type completion struct {
	name string
	ok   goja.Callable
	fail goja.Callable
	err  error
}

// Runtime wraps a goja VM with require, loadPackage and console wired to
// the package tree.
type Runtime struct {
	resolver *modules.Resolver
	packages PackageLoader
	config   Config
	logger   *logging.Logger
	scripts  *logging.Logger
	metrics  *monitoring.Metrics

	mu     sync.Mutex
	vm     *goja.Runtime
	loader *modules.Loader

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex

	// Valid only while Run holds mu
	ctx     context.Context
	pending int
	done    chan completion
}

// New creates a runtime. packages may be nil, in which case require only
// sees what is already installed and loadPackage always fails.
func New(resolver *modules.Resolver, packages PackageLoader, cfg Config, logger *logging.Logger) *Runtime {
	logger = logging.OrNop(logger)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	r := &Runtime{
		resolver: resolver,
		packages: packages,
		config:   cfg,
		logger:   logger.Component("host"),
		scripts:  logger.Component("script"),
		ctx:      context.Background(),
	}
	r.setup()
	return r
}

// WithMetrics adds module load tracking.
func (r *Runtime) WithMetrics(metrics *monitoring.Metrics) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = metrics
	if r.loader != nil {
		r.loader.WithMetrics(metrics)
	}
	return r
}

// Loader returns the module loader bound to this runtime's VM.
func (r *Runtime) Loader() *modules.Loader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loader
}

// setup builds a fresh VM and loader. mu must be held or r unpublished.
func (r *Runtime) setup() {
	r.vm = goja.New()
	r.loader = modules.NewLoader(r.vm, r.resolver).
		WithLogger(r.logger).
		WithMetrics(r.metrics)
	if r.packages != nil {
		r.loader.WithInstaller(r.packages)
	}
	r.loader.RegisterBuiltin("modhost", r.hostModule)
	r.setupGlobals()
}

// setupGlobals configures global objects.
func (r *Runtime) setupGlobals() {
	vm := r.vm
	_ = vm.Set("process", goja.Undefined())
	_ = vm.Set("require", r.loader.RequireFunction())
	_ = vm.Set("loadPackage", r.loadPackage)

	if r.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error"} {
			_ = console.Set(level, r.makeConsoleFunc(level))
		}
		_ = vm.Set("console", console)
	}
}

// hostModule backs require('modhost').
func (r *Runtime) hostModule(vm *goja.Runtime, module *goja.Object) error {
	exports := vm.NewObject()
	if err := exports.Set("loadPackage", r.loadPackage); err != nil {
		return err
	}
	if err := exports.Set("packagesDir", r.resolver.Root()); err != nil {
		return err
	}
	return module.Set("exports", exports)
}

// Run executes script, then keeps the VM alive until every loadPackage it
// started has delivered its callback.
func (r *Runtime) Run(ctx context.Context, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}
	vm := r.vm
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	// Setup interrupt handler
	vm.ClearInterrupt()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				vm.Interrupt("context cancelled")
			} else {
				vm.Interrupt(ErrTimeout.Error())
			}
		case <-stop:
		}
	}()

	r.ctx = runCtx
	r.pending = 0
	r.done = make(chan completion)
	r.loader.SetContext(runCtx)
	defer func() {
		r.ctx = context.Background()
		r.loader.SetContext(context.Background())
	}()

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	val, err := vm.RunString(script)
	if err == nil {
		err = r.drain(runCtx)
	}

	result := &Result{Duration: time.Since(start)}
	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()

	if err != nil {
		return result, r.explain(ctx, err)
	}
	result.Value = exportValue(val)
	return result, nil
}

// Eval requires pkg as the variable pkg and evaluates expr against it. An
// empty expr yields the package's exports.
func (r *Runtime) Eval(ctx context.Context, pkg, expr string) (*Result, error) {
	quoted, err := sonic.MarshalString(pkg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(expr) == "" {
		expr = "pkg"
	}
	return r.Run(ctx, "var pkg = require("+quoted+");\n"+expr)
}

// drain delivers loadPackage completions until none are pending.
func (r *Runtime) drain(ctx context.Context) error {
	for r.pending > 0 {
		select {
		case c := <-r.done:
			r.pending--
			if err := r.complete(c); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// complete invokes exactly one of the callbacks for c.
func (r *Runtime) complete(c completion) error {
	if c.err == nil {
		r.logger.Debug("Package ready for script", zap.String("package", c.name))
		_, err := c.ok(goja.Undefined())
		return err
	}

	r.logger.Warn("Package load failed for script", zap.String("package", c.name), zap.Error(c.err))
	if c.fail == nil {
		return nil
	}
	_, err := c.fail(goja.Undefined(), r.vm.ToValue(c.err.Error()))
	return err
}

// loadPackage implements loadPackage(name, onSuccess, onFailure).
func (r *Runtime) loadPackage(call goja.FunctionCall) goja.Value {
	vm := r.vm
	name, isString := call.Argument(0).Export().(string)
	ok, okCallable := goja.AssertFunction(call.Argument(1))
	fail, failCallable := goja.AssertFunction(call.Argument(2))
	if !failCallable {
		fail = nil
	}

	if !isString || !okCallable {
		if fail == nil {
			panic(vm.NewTypeError("loadPackage: %s", invalidArguments))
		}
		if _, err := fail(goja.Undefined(), vm.ToValue(invalidArguments)); err != nil {
			if ex, isException := err.(*goja.Exception); isException {
				panic(ex.Value())
			}
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}

	ctx, done := r.ctx, r.done
	r.pending++
	go func() {
		var err error
		if r.packages == nil {
			err = fmt.Errorf("%s: no package source configured", name)
		} else {
			err = r.packages.LoadPackage(ctx, name)
		}
		select {
		case done <- completion{name: name, ok: ok, fail: fail, err: err}:
		case <-ctx.Done():
		}
	}()
	return goja.Undefined()
}

// makeConsoleFunc creates a console function that logs under "script".
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "warn":
			r.scripts.Warn(msg)
		case "error":
			r.scripts.Error(msg)
		default:
			r.scripts.Info(msg)
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// explain maps interrupts and deadline errors to ErrTimeout or the
// caller's cancellation.
func (r *Runtime) explain(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("script cancelled: %w", ctx.Err())
	}
	return fmt.Errorf("%w after %s", ErrTimeout, r.config.Timeout)
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Reset discards the VM, module cache and console, keeping configuration.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolver.Reset()
	r.console = []LogEntry{}
	r.setup()
}

// Close releases the VM. Run fails with ErrClosed afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.loader = nil
	r.console = nil
	return nil
}
