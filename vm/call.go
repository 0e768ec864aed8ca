package vm

// ---------------------------------------------------------------------------
// Calls and upvalues
// ---------------------------------------------------------------------------

// callValue dispatches a call on the callee sitting below argCount
// arguments.
func (vm *VM) callValue(callee Value, argCount int) error {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *ObjClosure:
			return vm.call(obj, argCount)

		case *ObjNative:
			if obj.Arity >= 0 && argCount != obj.Arity {
				return vm.runtimeError("expected %d arguments but got %d", obj.Arity, argCount)
			}
			args := make([]Value, argCount)
			copy(args, vm.stack[vm.sp-argCount:vm.sp])
			result, err := obj.Fn(argCount, args)
			if err != nil {
				return vm.runtimeError("%s: %v", obj.Name, err)
			}
			vm.sp -= argCount + 1
			vm.push(result)
			return nil

		case *ObjStruct:
			// Constructor arguments are evaluated but not stored.
			vm.sp -= argCount + 1
			vm.push(ObjVal(NewInstance(obj)))
			return nil
		}
	}
	return vm.runtimeError("can only call functions and structs")
}

// call pushes a frame for closure. The callee and its arguments become
// slots 0..argCount of the new frame.
func (vm *VM) call(closure *ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d", closure.Function.Arity, argCount)
	}
	if vm.frameCount == len(vm.frames) {
		return vm.runtimeError("stack overflow")
	}

	base := vm.sp - argCount - 1
	end := base + FrameSlots
	if end > len(vm.stack) {
		end = len(vm.stack)
	}

	frame := &vm.frames[vm.frameCount]
	frame.Closure = closure
	frame.IP = 0
	frame.base = base
	frame.Slots = vm.stack[base:end]
	vm.frameCount++
	return nil
}

// captureUpvalue returns the open upvalue for an absolute stack slot,
// creating it if no closure has captured the slot yet.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	var prev *ObjUpvalue
	up := vm.openUpvalues
	for up != nil && up.slot > slot {
		prev = up
		up = up.next
	}
	if up != nil && up.slot == slot {
		return up
	}

	created := &ObjUpvalue{location: &vm.stack[slot], slot: slot, next: up}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above slot last.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.slot >= last {
		up := vm.openUpvalues
		up.close()
		vm.openUpvalues = up.next
		up.next = nil
	}
}
