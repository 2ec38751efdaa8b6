package modules

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

// Installer makes a package available on disk.
type Installer interface {
	LoadPackage(ctx context.Context, name string) error
}

// Builtin initializes a module that ships with the host. It sets
// module.exports on the object it is given.
type Builtin func(vm *goja.Runtime, module *goja.Object) error

type extension struct {
	ext      string
	compiler Compiler
}

// Loader loads modules into one goja runtime. The runtime must only be
// driven by one goroutine at a time; the loader itself is safe for
// concurrent use.
type Loader struct {
	vm       *goja.Runtime
	resolver *Resolver

	installer Installer
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	mu         sync.Mutex
	ctx        context.Context
	extensions []extension
	cache      map[string]*Module // Protected by mu
	builtins   map[string]Builtin
	instances  map[string]*Module // Protected by mu
}

// NewLoader creates a loader with the default extensions: .js compiled as
// script, .node and .so as native plugins.
func NewLoader(vm *goja.Runtime, resolver *Resolver) *Loader {
	l := &Loader{
		vm:        vm,
		resolver:  resolver,
		logger:    logging.NewNop(),
		ctx:       context.Background(),
		cache:     make(map[string]*Module),
		builtins:  make(map[string]Builtin),
		instances: make(map[string]*Module),
	}
	l.RegisterExtension(".js", ScriptCompiler{})
	l.RegisterExtension(".node", NativeCompiler{})
	l.RegisterExtension(".so", NativeCompiler{})
	return l
}

// WithInstaller lets the loader install missing packages.
func (l *Loader) WithInstaller(installer Installer) *Loader {
	l.installer = installer
	return l
}

// WithLogger sets the logger.
func (l *Loader) WithLogger(logger *logging.Logger) *Loader {
	l.logger = logging.OrNop(logger).Component("modules")
	return l
}

// WithMetrics adds metrics tracking to the loader.
func (l *Loader) WithMetrics(metrics *monitoring.Metrics) *Loader {
	l.metrics = metrics
	return l
}

// Resolver returns the loader's resolver.
func (l *Loader) Resolver() *Resolver {
	return l.resolver
}

// SetContext sets the context used when the installer is asked for a
// package on behalf of a script.
func (l *Loader) SetContext(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx = ctx
}

func (l *Loader) context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// RegisterExtension binds a file extension to a compiler. A new extension
// is searched after the existing ones; re-registering keeps its position.
func (l *Loader) RegisterExtension(ext string, c Compiler) {
	l.mu.Lock()
	replaced := false
	for i := range l.extensions {
		if l.extensions[i].ext == ext {
			l.extensions[i].compiler = c
			replaced = true
		}
	}
	if !replaced {
		l.extensions = append(l.extensions, extension{ext: ext, compiler: c})
	}
	exts := make([]string, len(l.extensions))
	for i, e := range l.extensions {
		exts[i] = e.ext
	}
	l.mu.Unlock()

	l.resolver.SetExtensions(exts)
}

// RegisterBuiltin makes name requirable when nothing on disk matches it.
func (l *Loader) RegisterBuiltin(name string, b Builtin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins[name] = b
	delete(l.instances, name)
}

// Resolve resolves request relative to parent.
func (l *Loader) Resolve(request string, parent *Module) (string, error) {
	return l.resolver.Resolve(request, parent)
}

// Require returns the exports of the module request names.
func (l *Loader) Require(request string, parent *Module) (goja.Value, error) {
	return l.RequireContext(l.context(), request, parent)
}

// RequireContext is Require with an explicit context for package installs.
func (l *Loader) RequireContext(ctx context.Context, request string, parent *Module) (goja.Value, error) {
	filename, err := l.resolver.Resolve(request, parent)
	if errdefs.Is(err, errdefs.NotFound) {
		if v, ok, berr := l.builtin(request); ok || berr != nil {
			return v, berr
		}
		if pkg := PackageName(request); pkg != "" && l.installer != nil {
			l.logger.Info("Installing package for require", zap.String("package", pkg), zap.String("request", request))
			if ierr := l.installer.LoadPackage(ctx, pkg); ierr != nil {
				return nil, ierr
			}
			filename, err = l.resolver.Resolve(request, parent)
		}
	}
	if err != nil {
		return nil, err
	}
	m, err := l.load(filename, parent)
	if err != nil {
		return nil, err
	}
	return m.Exports(), nil
}

// load returns the cached module for filename or compiles it.
func (l *Loader) load(filename string, parent *Module) (*Module, error) {
	l.mu.Lock()
	if m, ok := l.cache[filename]; ok {
		l.mu.Unlock()
		l.metrics.RecordModuleLoad(monitoring.SourceCache)
		return m, nil
	}
	m := newModule(l.vm, filename, filename, parent)
	l.cache[filename] = m
	compiler := l.compilerFor(filename)
	l.mu.Unlock()

	if err := compiler.Compile(l, m); err != nil {
		l.mu.Lock()
		delete(l.cache, filename)
		l.mu.Unlock()
		l.logger.Warn("Module load failed", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	m.markLoaded()
	if parent != nil {
		parent.Children = append(parent.Children, m)
	}
	l.metrics.RecordModuleLoad(monitoring.SourceDisk)
	l.logger.Debug("Module loaded", zap.String("filename", filename))
	return m, nil
}

// compilerFor picks the compiler by extension, defaulting to .js. mu must
// be held.
func (l *Loader) compilerFor(filename string) Compiler {
	ext := filepath.Ext(filename)
	var fallback Compiler
	for _, e := range l.extensions {
		if e.ext == ext {
			return e.compiler
		}
		if e.ext == ".js" {
			fallback = e.compiler
		}
	}
	if fallback == nil {
		return ScriptCompiler{}
	}
	return fallback
}

// builtin instantiates a registered builtin once per loader.
func (l *Loader) builtin(name string) (goja.Value, bool, error) {
	l.mu.Lock()
	if m, ok := l.instances[name]; ok {
		l.mu.Unlock()
		l.metrics.RecordModuleLoad(monitoring.SourceCache)
		return m.Exports(), true, nil
	}
	b, ok := l.builtins[name]
	l.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	m := newModule(l.vm, name, "", nil)
	if err := b(l.vm, m.object); err != nil {
		return nil, false, err
	}
	m.markLoaded()

	l.mu.Lock()
	l.instances[name] = m
	l.mu.Unlock()
	l.metrics.RecordModuleLoad(monitoring.SourceBuiltin)
	return m.Exports(), true, nil
}

// Cached returns the module cached for filename.
func (l *Loader) Cached(filename string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.cache[filename]
	return m, ok
}

// Reset drops every cached module, builtin instance and resolved path.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.cache = make(map[string]*Module)
	l.instances = make(map[string]*Module)
	l.mu.Unlock()
	l.resolver.Reset()
}

// requireFunction builds the require function handed to module m.
func (l *Loader) requireFunction(m *Module) goja.Value {
	vm := l.vm
	req := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		request, ok := call.Argument(0).Export().(string)
		if !ok {
			panic(vm.NewTypeError("require: module name must be a string"))
		}
		v, err := l.Require(request, m)
		if err != nil {
			throw(vm, err)
		}
		return v
	}).(*goja.Object)

	_ = req.Set("resolve", func(call goja.FunctionCall) goja.Value {
		request, ok := call.Argument(0).Export().(string)
		if !ok {
			panic(vm.NewTypeError("require.resolve: module name must be a string"))
		}
		filename, err := l.Resolve(request, m)
		if err != nil {
			throw(vm, err)
		}
		return vm.ToValue(filename)
	})
	return req
}

// RequireFunction returns a require function for top-level scripts, which
// have no parent module.
func (l *Loader) RequireFunction() goja.Value {
	return l.requireFunction(nil)
}

// throw raises err as a script exception, rethrowing script exceptions
// unchanged.
func throw(vm *goja.Runtime, err error) {
	if ex, ok := err.(*goja.Exception); ok {
		panic(ex.Value())
	}
	panic(vm.NewGoError(err))
}
