package modules

import (
	"errors"
	"fmt"
	"os"
	"plugin"
	"strings"

	"github.com/dop251/goja"
)

// Compiler populates a module's exports from its file.
type Compiler interface {
	Compile(l *Loader, m *Module) error
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(l *Loader, m *Module) error

// Compile calls f.
func (f CompilerFunc) Compile(l *Loader, m *Module) error { return f(l, m) }

const (
	wrapperHead = "(function (exports, require, module, __filename, __dirname) {"
	wrapperTail = "\n})"
)

var errNotCallable = errors.New("module wrapper did not evaluate to a function")

// ScriptCompiler runs JavaScript sources inside the CommonJS wrapper.
type ScriptCompiler struct{}

// Compile evaluates the file with exports, require, module, __filename and
// __dirname bound. A leading shebang line is blanked so line numbers stay
// intact.
func (ScriptCompiler) Compile(l *Loader, m *Module) error {
	src, err := os.ReadFile(m.Filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", m.Filename, err)
	}

	prog, err := goja.Compile(m.Filename, wrapperHead+stripShebang(string(src))+wrapperTail, false)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", m.Filename, err)
	}

	vm := l.vm
	wrapper, err := vm.RunProgram(prog)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return errNotCallable
	}

	exports := m.Exports()
	_, err = fn(exports,
		exports,
		l.requireFunction(m),
		m.object,
		vm.ToValue(m.Filename),
		vm.ToValue(m.Dir()))
	return err
}

func stripShebang(src string) string {
	if !strings.HasPrefix(src, "#!") {
		return src
	}
	if i := strings.IndexByte(src, '\n'); i >= 0 {
		return src[i:]
	}
	return ""
}

// RegisterFunc is the symbol a native module plugin exports as Register.
// It receives the runtime and the module object and sets module.exports.
type RegisterFunc = func(vm *goja.Runtime, module *goja.Object) error

// NativeCompiler loads Go plugins built with -buildmode=plugin.
type NativeCompiler struct{}

// Compile opens the plugin and calls its Register function.
func (NativeCompiler) Compile(l *Loader, m *Module) error {
	p, err := plugin.Open(m.Filename)
	if err != nil {
		return fmt.Errorf("opening native module %s: %w", m.Filename, err)
	}
	sym, err := p.Lookup("Register")
	if err != nil {
		return fmt.Errorf("native module %s: %w", m.Filename, err)
	}
	register, ok := sym.(RegisterFunc)
	if !ok {
		if ptr, isPtr := sym.(*RegisterFunc); isPtr && ptr != nil {
			register, ok = *ptr, true
		}
	}
	if !ok {
		return fmt.Errorf("native module %s: Register has type %T", m.Filename, sym)
	}
	return register(l.vm, m.object)
}
