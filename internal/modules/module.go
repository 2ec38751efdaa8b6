package modules

import (
	"path/filepath"

	"github.com/dop251/goja"
)

// Module is one loaded module. Its exports live on the script-visible
// module object so scripts may replace module.exports wholesale.
type Module struct {
	ID       string
	Filename string
	Loaded   bool
	Parent   *Module
	Children []*Module
	// Paths are extra directories searched for bare requests made by this
	// module, ahead of the root.
	Paths []string

	object *goja.Object
}

func newModule(vm *goja.Runtime, id, filename string, parent *Module) *Module {
	obj := vm.NewObject()
	_ = obj.Set("id", id)
	_ = obj.Set("filename", filename)
	_ = obj.Set("loaded", false)
	_ = obj.Set("exports", vm.NewObject())
	return &Module{
		ID:       id,
		Filename: filename,
		Parent:   parent,
		object:   obj,
	}
}

// Object returns the script-visible module object.
func (m *Module) Object() *goja.Object {
	return m.object
}

// Exports returns the current value of module.exports.
func (m *Module) Exports() goja.Value {
	return m.object.Get("exports")
}

// Dir returns the directory of the module file.
func (m *Module) Dir() string {
	return filepath.Dir(m.Filename)
}

func (m *Module) markLoaded() {
	m.Loaded = true
	_ = m.object.Set("loaded", true)
}
