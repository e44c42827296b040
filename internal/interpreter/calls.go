package interpreter

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/value"
)

// NativeFunc is a host-implemented callable, the interpreter-side half of
// the host-call ABI (spec.md §4.12). It receives the VM so builtins can
// allocate, enqueue microtasks, or call back into JS.
type NativeFunc func(vm *VM, this value.Value, args []value.Value) (value.Value, error)

// NativeFunction is the heap-resident wrapper a KindNative Value points at.
type NativeFunction struct {
	Name   string
	Length int
	Fn     NativeFunc
}

func (n *NativeFunction) Trace(*heap.Tracer) {}

// RegisterNative allocates fn on the heap and returns it as a callable
// Value (spec.md §4.12 Host-call ABI). It binds the Value nowhere; callers
// such as hostabi.Registry.Define and builtins.go store it on the global
// object or on a namespace themselves.
func (vm *VM) RegisterNative(name string, length int, fn NativeFunc) (value.Value, error) {
	ref, err := vm.Heap.Alloc(value.KindNative, &NativeFunction{Name: name, Length: length, Fn: fn})
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindNative, ref), nil
}

// invoke dispatches a call to either a user Closure or a host NativeFunction,
// the shared path for Call/CallMethod/construct-like opcodes.
func (vm *VM) invoke(callee, this value.Value, args []value.Value) (value.Value, error) {
	if !callee.IsPointer() {
		return value.Undefined, otterrors.New(otterrors.Type, "value is not callable")
	}
	k, ref := callee.AsPointer()
	switch k {
	case value.KindClosure:
		c, ok := vm.Heap.Get(ref).(*Closure)
		if !ok {
			return value.Undefined, otterrors.New(otterrors.Type, "value is not callable")
		}
		return vm.Call(c, this, args)
	case value.KindNative:
		n, ok := vm.Heap.Get(ref).(*NativeFunction)
		if !ok {
			return value.Undefined, otterrors.New(otterrors.Type, "value is not callable")
		}
		return n.Fn(vm, this, args)
	default:
		return value.Undefined, otterrors.New(otterrors.Type, "value is not callable")
	}
}

// InvokeCallable exposes invoke to other packages (hostabi, builtins) that
// need to call an arbitrary callable Value directly, outside bytecode
// dispatch — e.g. resolving a thenable's `then` method.
func (vm *VM) InvokeCallable(callee, this value.Value, args []value.Value) (value.Value, error) {
	return vm.invoke(callee, this, args)
}

// execCall implements OpCall: the callee occupies register SrcA, its
// arguments the ArgCount registers immediately following it, and the
// result is written to Dst (spec.md §4.4 calling convention).
func (vm *VM) execCall(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	callee := f.Registers[ins.SrcA]
	args := gatherArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.invoke(callee, value.Undefined, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

// execCallWithReceiver implements OpCallWithReceiver/OpCallMethod: SrcA is
// the receiver (`this`), SrcB the callee, args follow the receiver register.
func (vm *VM) execCallWithReceiver(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	this := f.Registers[ins.SrcA]
	callee := f.Registers[ins.SrcB]
	args := gatherArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.invoke(callee, this, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

func gatherArgs(f *Frame, base, count int) []value.Value {
	args := make([]value.Value, count)
	for i := 0; i < count; i++ {
		args[i] = f.Registers[base+1+i]
	}
	return args
}

// execClosure implements OpClosure and its async/generator variants: a new
// Closure is minted over FuncIdx's Function, sharing the defining frame's
// Module for constant-pool access. Upvalue capture descriptors are not yet
// part of the wire format (SPEC_FULL.md open question, resolved in
// DESIGN.md: closures capture no upvalues until the compiler emits capture
// lists), so Upvalues starts empty.
func (vm *VM) execClosure(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	fn := f.Closure.Module.Functions[ins.FuncIdx]
	c := &Closure{
		Fn:          fn,
		Module:      f.Closure.Module,
		IsAsync:     ins.Op == bytecode.OpAsyncClosure || ins.Op == bytecode.OpAsyncGeneratorClosure,
		IsGenerator: ins.Op == bytecode.OpGeneratorClosure || ins.Op == bytecode.OpAsyncGeneratorClosure,
	}
	ref, err := vm.Heap.Alloc(value.KindClosure, c)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = value.Pointer(value.KindClosure, ref)
	return value.Undefined, ctrlNext, nil
}
