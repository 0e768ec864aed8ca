package vm

import "errors"

// ErrNoCompiler is returned by Interpret when no compiler backend is set.
var ErrNoCompiler = errors.New("vm: no compiler backend configured")

// ---------------------------------------------------------------------------
// CompilerBackend: Interface for compilation backends
// ---------------------------------------------------------------------------

// CompilerBackend compiles a whole program to its top-level function.
// The compiler package depends on vm, so the VM receives its compiler
// through this interface instead of importing it.
type CompilerBackend interface {
	Compile(source string) (*ObjFunction, error)

	// Name returns the name of this compiler backend.
	Name() string
}

// CompileFunc is the signature of compiler.Compile.
type CompileFunc func(source string) (*ObjFunction, error)

// funcBackend adapts a CompileFunc to CompilerBackend.
type funcBackend struct {
	name string
	fn   CompileFunc
}

func (b funcBackend) Compile(source string) (*ObjFunction, error) {
	return b.fn(source)
}

func (b funcBackend) Name() string {
	return b.name
}

// NewFuncBackend wraps a compile function as a named backend.
func NewFuncBackend(name string, fn CompileFunc) CompilerBackend {
	return funcBackend{name: name, fn: fn}
}

// UseCompiler installs the Go compiler. Pass compiler.Compile.
func (vm *VM) UseCompiler(fn CompileFunc) {
	vm.backend = NewFuncBackend("go", fn)
}

// UseBackend installs an arbitrary compiler backend.
func (vm *VM) UseBackend(b CompilerBackend) {
	vm.backend = b
}

// Backend returns the active compiler backend, or nil.
func (vm *VM) Backend() CompilerBackend {
	return vm.backend
}

// CompilerName returns the active backend's name.
func (vm *VM) CompilerName() string {
	if vm.backend == nil {
		return "none"
	}
	return vm.backend.Name()
}

// Compile compiles source with the active backend without running it.
func (vm *VM) Compile(source string) (*ObjFunction, error) {
	if vm.backend == nil {
		return nil, ErrNoCompiler
	}
	return vm.backend.Compile(source)
}
