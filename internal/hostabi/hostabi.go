// Package hostabi implements Otter's host-call boundary (spec.md §4.12):
// the narrow interface through which external collaborators — filesystem,
// buffer, events, node-test bindings, all explicitly out of this
// repository's scope per spec.md's Non-goals — register native functions
// and built-in objects callable from JS, without the interpreter itself
// knowing anything about them.
package hostabi

import (
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// AsyncOp is how a native function defers work off the synchronous call
// path: it returns a pending Promise immediately and resolves/rejects it
// later (from another goroutine, a timer, an I/O callback) via Resolve/
// Reject, which enqueue the settlement as a microtask the way
// internal/promise already requires (spec.md §4.8 interop).
type AsyncOp struct {
	Promise *promise.Promise
}

// NewPromise constructs a Promise wired to vm's microtask queue and
// thenable-detection, for host functions that need to return one.
func NewPromise(vm *interpreter.VM) *promise.Promise {
	return vm.NewPromise()
}

// BoxPromise allocates p onto vm's heap and returns its boxed Value,
// recording the self-reference Promise.Resolve needs to reject `resolve
// (this)` (spec.md §4.6). Host ops with the "async" shape (spec.md §6)
// call NewPromise then BoxPromise to hand the pending promise back to JS
// before settling it later from another goroutine or callback.
func BoxPromise(vm *interpreter.VM, p *promise.Promise) (value.Value, error) {
	return vm.BoxPromise(p)
}

// Registry installs native functions and namespace objects onto a VM's
// global object (spec.md §4.12).
type Registry struct {
	vm *interpreter.VM
}

func NewRegistry(vm *interpreter.VM) *Registry { return &Registry{vm: vm} }

// Define installs a top-level native function as a global binding.
func (r *Registry) Define(name string, length int, fn interpreter.NativeFunc) error {
	v, err := r.vm.RegisterNative(name, length, fn)
	if err != nil {
		return err
	}
	r.vm.Global.Set(shape.StringKey(name), v)
	return nil
}

// VM exposes the underlying VM so builtins packages can allocate objects,
// box values, and recurse into JS callables.
func (r *Registry) VM() *interpreter.VM { return r.vm }
