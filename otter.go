// Package otter is Otter's embedding API: construct a Runtime, install
// builtins, and evaluate compiled modules. This mirrors the teacher's own
// top-level package shape (a Config type, a NewRuntime constructor, and a
// Runtime handle) generalized from WASM module instantiation to JS module
// evaluation.
package otter

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/builtins"
	"github.com/octofhir/otter-sub002/internal/engine/jitruntime"
	"github.com/octofhir/otter-sub002/internal/hostabi"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/linker"
	"github.com/octofhir/otter-sub002/internal/otterconfig"
	"github.com/octofhir/otter-sub002/internal/value"
)

// RuntimeConfig governs one Runtime's JIT tuning (spec.md §6) and is
// ordinarily sourced from otterconfig.Load() plus CLI flag overrides.
type RuntimeConfig struct {
	JIT otterconfig.JIT
}

// NewRuntimeConfig returns a RuntimeConfig with the documented defaults
// (spec.md §6), unaffected by the process environment; callers that want
// env/flag overrides call otterconfig.Load()/BindFlags explicitly first.
func NewRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{JIT: otterconfig.JIT{Background: true, HotThreshold: interpreter.DefaultHotThreshold, DeoptThreshold: 10}}
}

// Runtime owns one realm: a VM, its installed builtins, the host registry
// external collaborators install native functions through, and (unless
// OTTER_DISABLE_JIT is set) the JIT runtime that upgrades hot functions to
// native code (spec.md §4.9).
type Runtime struct {
	vm      *interpreter.VM
	hostReg *hostabi.Registry
	jitRT   *jitruntime.Runtime
	cfg     RuntimeConfig
}

// NewRuntime constructs a Runtime with the standard builtin intrinsics
// installed (spec.md §4.12) and the JIT runtime attached to the VM's
// dispatch seam (spec.md §4.9), unless cfg.JIT.Disable opts out (the
// OTTER_DISABLE_JIT env var, surfaced through otterconfig.Load).
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	vm := interpreter.NewVM()
	if cfg.JIT.HotThreshold > 0 {
		vm.HotThreshold = cfg.JIT.HotThreshold
	}
	reg := hostabi.NewRegistry(vm)
	if err := builtins.Install(reg); err != nil {
		return nil, err
	}
	rt := &Runtime{vm: vm, hostReg: reg, cfg: cfg}
	if !cfg.JIT.Disable {
		rt.jitRT = jitruntime.New(cfg.JIT)
		rt.jitRT.Attach(vm)
	}
	return rt, nil
}

// VM exposes the underlying interpreter VM for embedders that need direct
// access (registering further natives, inspecting heap stats).
func (r *Runtime) VM() *interpreter.VM { return r.vm }

// HostRegistry exposes the native-function registration surface (spec.md
// §4.12), the seam external collaborators (filesystem, buffer, events)
// plug into.
func (r *Runtime) HostRegistry() *hostabi.Registry { return r.hostReg }

// JITRuntime exposes the attached JIT runtime for embedders that want to
// read telemetry (spec.md §4.9) or force a synchronous compile. Returns nil
// if the JIT was disabled via RuntimeConfig/OTTER_DISABLE_JIT.
func (r *Runtime) JITRuntime() *jitruntime.Runtime { return r.jitRT }

// NewLinker builds a module linker (spec.md §4.7) bound to this Runtime's
// VM, so evaluated modules share its heap, globals, and microtask queue.
func (r *Runtime) NewLinker(resolver *linker.Resolver, loader linker.Loader) *linker.Linker {
	l := linker.New(resolver, loader, r.vm)
	l.InstallDynamicImport()
	return l
}

// Eval runs a standalone compiled Module's entry function directly,
// bypassing the linker — the path `cmd/otter` uses for single-file
// bytecode without import records.
func (r *Runtime) Eval(m *bytecode.Module) (value.Value, error) {
	if len(m.Functions) == 0 {
		return value.Undefined, nil
	}
	entry := m.Functions[m.EntryFunc]
	c := &interpreter.Closure{Fn: entry, Module: m}
	result, err := r.vm.Call(c, value.Undefined, nil)
	// A task boundary: drain the microtask queue to completion before
	// handing control back to the host (spec.md §5 Scheduling), then give
	// the heap a chance to collect. The result is rooted in a handle scope
	// across the collection so the Value handed back to the embedder
	// survives it; an embedder holding results across further Eval calls
	// must root them the same way (spec.md §3.9).
	r.vm.Microtasks.Drain()
	scope := r.vm.Handles.OpenScope()
	h := scope.New(result)
	r.vm.MaybeCollect()
	result = h.Get()
	scope.Close(r.vm.Handles)
	return result, err
}

// Close releases Runtime-owned resources: it stops the JIT runtime's
// background compile worker (if attached). The interpreter heap itself is
// garbage-collected Go memory with no external handles to release.
func (r *Runtime) Close() {
	if r.jitRT != nil {
		r.jitRT.Close()
	}
}
