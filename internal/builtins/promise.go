package builtins

import (
	"github.com/octofhir/otter-sub002/internal/hostabi"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// installPromise registers the global Promise namespace (a plain object
// holding resolve, reject, and all; it is not callable, so there is no
// `new Promise(executor)` constructor) plus the prototype (then/catch/
// finally) that KindPromise receivers resolve methods against, and the
// queueMicrotask global (spec.md §4.6, §5 Ordering).
func installPromise(reg *hostabi.Registry) error {
	vm := reg.VM()

	proto := object.New()
	for _, m := range []struct {
		name string
		n    int
		fn   interpreter.NativeFunc
	}{
		{"then", 2, nativePromiseThen},
		{"catch", 1, nativePromiseCatch},
		{"finally", 1, nativePromiseFinally},
	} {
		v, err := vm.RegisterNative(m.name, m.n, m.fn)
		if err != nil {
			return err
		}
		proto.Set(shape.StringKey(m.name), v)
	}
	vm.PromisePrototype = proto

	ns := object.New()
	for _, m := range []struct {
		name string
		n    int
		fn   interpreter.NativeFunc
	}{
		{"resolve", 1, nativePromiseResolve},
		{"reject", 1, nativePromiseReject},
		{"all", 1, nativePromiseAll},
	} {
		v, err := vm.RegisterNative(m.name, m.n, m.fn)
		if err != nil {
			return err
		}
		ns.Set(shape.StringKey(m.name), v)
	}
	ref, err := vm.Heap.Alloc(value.KindObject, ns)
	if err != nil {
		return err
	}
	vm.Global.Set(shape.StringKey("Promise"), value.Pointer(value.KindObject, ref))

	return reg.Define("queueMicrotask", 1, nativeQueueMicrotask)
}

func boxed(vm *interpreter.VM, p *promise.Promise) (value.Value, error) {
	return hostabi.BoxPromise(vm, p)
}

func nativePromiseResolve(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) > 0 {
		if _, isP := vm.AsPromise(args[0]); isP {
			return args[0], nil // already a promise: pass through unchanged
		}
	}
	p := hostabi.NewPromise(vm)
	pv, err := boxed(vm, p)
	if err != nil {
		return value.Undefined, err
	}
	if len(args) > 0 {
		p.Resolve(args[0])
	} else {
		p.Resolve(value.Undefined)
	}
	return pv, nil
}

func nativePromiseReject(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	p := hostabi.NewPromise(vm)
	pv, err := boxed(vm, p)
	if err != nil {
		return value.Undefined, err
	}
	if len(args) > 0 {
		p.Reject(args[0])
	} else {
		p.Reject(value.Undefined)
	}
	return pv, nil
}

// nativePromiseAll settles with an array of results once every input
// settles, or rejects with the first rejection. Inputs must be an array;
// non-promise elements count as already fulfilled.
func nativePromiseAll(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "Promise.all requires an iterable argument")
	}
	arr, ok := vm.AsObject(args[0])
	if !ok || !arr.Flags.IsArray {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "Promise.all requires an array argument")
	}
	p := hostabi.NewPromise(vm)
	pv, err := boxed(vm, p)
	if err != nil {
		return value.Undefined, err
	}

	n := len(arr.Elements)
	results := make([]value.Value, n)
	remaining := n
	if n == 0 {
		resArr, err := vm.NewArrayValue(nil)
		if err != nil {
			return value.Undefined, err
		}
		p.Resolve(resArr)
		return pv, nil
	}
	for i, el := range arr.Elements {
		i := i
		ep, isP := vm.AsPromise(el)
		if !isP {
			results[i] = el
			remaining--
			if remaining == 0 {
				resArr, err := vm.NewArrayValue(results)
				if err != nil {
					return value.Undefined, err
				}
				p.Resolve(resArr)
			}
			continue
		}
		ep.Then(
			func(v value.Value) (value.Value, error) {
				results[i] = v
				remaining--
				if remaining == 0 {
					resArr, err := vm.NewArrayValue(results)
					if err != nil {
						return value.Undefined, err
					}
					p.Resolve(resArr)
				}
				return value.Undefined, nil
			},
			func(e value.Value) (value.Value, error) {
				p.Reject(e)
				return value.Undefined, nil
			},
		)
	}
	return pv, nil
}

// jsHandler adapts a JS callable into the Go handler shape promise.Then
// takes; a missing/non-callable handler maps to nil so Then applies its
// passthrough semantics.
func jsHandler(vm *interpreter.VM, cb value.Value) func(value.Value) (value.Value, error) {
	if !cb.IsPointer() {
		return nil
	}
	if k, _ := cb.AsPointer(); k != value.KindClosure && k != value.KindNative {
		return nil
	}
	return func(v value.Value) (value.Value, error) {
		return vm.InvokeCallable(cb, value.Undefined, []value.Value{v})
	}
}

func nativePromiseThen(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	p, ok := vm.AsPromise(this)
	if !ok {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "then called on a non-promise")
	}
	var onF, onR func(value.Value) (value.Value, error)
	if len(args) > 0 {
		onF = jsHandler(vm, args[0])
	}
	if len(args) > 1 {
		onR = jsHandler(vm, args[1])
	}
	return boxed(vm, p.Then(onF, onR))
}

func nativePromiseCatch(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	p, ok := vm.AsPromise(this)
	if !ok {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "catch called on a non-promise")
	}
	var onR func(value.Value) (value.Value, error)
	if len(args) > 0 {
		onR = jsHandler(vm, args[0])
	}
	return boxed(vm, p.Then(nil, onR))
}

func nativePromiseFinally(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	p, ok := vm.AsPromise(this)
	if !ok {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "finally called on a non-promise")
	}
	if len(args) == 0 {
		return boxed(vm, p.Then(nil, nil))
	}
	cb := args[0]
	return boxed(vm, p.Finally(func() error {
		_, err := vm.InvokeCallable(cb, value.Undefined, nil)
		return err
	}))
}

func nativeQueueMicrotask(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, vm.MakeErrorThrow("TypeError", "queueMicrotask requires a callback")
	}
	cb := args[0]
	vm.EnqueueMicrotask("queueMicrotask", func() {
		_, _ = vm.InvokeCallable(cb, value.Undefined, nil)
	}, cb)
	return value.Undefined, nil
}
