package vm

import "time"

// DefineNative binds a host function as a global. Arity -1 accepts any
// number of arguments.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	vm.globals[name] = ObjVal(&ObjNative{Name: name, Arity: arity, Fn: fn})
}

func (vm *VM) defineNatives() {
	vm.DefineNative("clock", 0, clockNative)
}

// clockNative returns milliseconds since the Unix epoch.
func clockNative(argCount int, args []Value) (Value, error) {
	return Number(float64(time.Now().UnixMilli())), nil
}
