// Package jitruntime implements Otter's JIT runtime (spec.md §4.9): the
// compile-request queue, a background compile worker with a synchronous
// fallback, execution dispatch against the atomic JIT entry pointer, and
// opt-in telemetry. It is the layer that owns the interpreter/jit seam:
// internal/interpreter never imports jit or jitruntime, so this package
// wires them together through interpreter.VM's Hooks and Dispatch fields
// (spec.md §4.9 "Execution dispatch").
package jitruntime

import (
	"sync"
	"sync/atomic"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/engine/jit"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/otterconfig"
	"github.com/octofhir/otter-sub002/internal/otterlog"
	"github.com/octofhir/otter-sub002/internal/value"
)

// compileRequest is one entry in the MPSC compile queue. Duplicate requests
// for the same *bytecode.Function are coalesced through Runtime.queued.
type compileRequest struct {
	fn  *bytecode.Function
	mod *bytecode.Module
}

// Telemetry is the opt-in counter set spec.md §4.9 enumerates. All fields
// are updated with atomics so concurrent compiles/executions never race.
type Telemetry struct {
	CompileRequests  int64
	CompileSuccesses int64
	CompileErrors    int64

	ExecuteAttempts   int64
	ExecuteHits       int64
	ExecuteNotCompiled int64
	BailoutsTotal     int64
	Deoptimizations   int64

	BackEdgeTriggeredCompiles int64
	OSRAttempts               int64
	OSRSuccesses              int64

	mu               sync.Mutex
	bailoutsByReason map[jit.Reason]int64
	// siteFrequency counts bailouts per (function, bytecode pc), the "top-K
	// hot bailout sites" spec.md §4.9 asks telemetry to expose.
	siteFrequency map[siteKey]int64
}

type siteKey struct {
	fn *bytecode.Function
	pc int
}

func newTelemetry() *Telemetry {
	return &Telemetry{
		bailoutsByReason: make(map[jit.Reason]int64),
		siteFrequency:    make(map[siteKey]int64),
	}
}

func (t *Telemetry) recordBailout(fn *bytecode.Function, reason jit.Reason, pc int) {
	atomic.AddInt64(&t.BailoutsTotal, 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bailoutsByReason[reason]++
	t.siteFrequency[siteKey{fn: fn, pc: pc}]++
}

// BailoutsByReason returns a snapshot of per-category bailout counts.
func (t *Telemetry) BailoutsByReason() map[jit.Reason]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[jit.Reason]int64, len(t.bailoutsByReason))
	for k, v := range t.bailoutsByReason {
		out[k] = v
	}
	return out
}

// TopBailoutSite describes one hot bailout site for telemetry reporting.
type TopBailoutSite struct {
	Function *bytecode.Function
	PC       int
	Opcode   bytecode.Opcode
	Count    int64
}

// TopSites returns the k most frequently bailed-out-of sites, descending by
// count (spec.md §4.9 "top-K hot bailout sites").
func (t *Telemetry) TopSites(k int) []TopBailoutSite {
	t.mu.Lock()
	defer t.mu.Unlock()
	sites := make([]TopBailoutSite, 0, len(t.siteFrequency))
	for key, count := range t.siteFrequency {
		op := bytecode.OpNop
		if key.pc < len(key.fn.Instructions) {
			op = key.fn.Instructions[key.pc].Op
		}
		sites = append(sites, TopBailoutSite{Function: key.fn, PC: key.pc, Opcode: op, Count: count})
	}
	for i := 1; i < len(sites); i++ {
		for j := i; j > 0 && sites[j].Count > sites[j-1].Count; j-- {
			sites[j], sites[j-1] = sites[j-1], sites[j]
		}
	}
	if k > 0 && len(sites) > k {
		sites = sites[:k]
	}
	return sites
}

// Runtime is the JIT runtime attached to exactly one interpreter.VM.
type Runtime struct {
	cfg otterconfig.JIT

	queue  chan compileRequest
	queued sync.Map // *bytecode.Function -> struct{}, for duplicate coalescing

	compiled sync.Map // *bytecode.Function -> *jit.CompiledFunction

	Stats *Telemetry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Runtime from JIT tuning configuration (spec.md §6 env
// vars, bound in internal/otterconfig).
func New(cfg otterconfig.JIT) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		queue:  make(chan compileRequest, 256),
		Stats:  newTelemetry(),
		stopCh: make(chan struct{}),
	}
	if cfg.Background && !cfg.Disable {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Attach wires this Runtime into vm: OnHot enqueues a compile request when
// a function's invocation counter crosses the hot threshold, OnBackEdge
// triggers an OSR-style synchronous compile at a loop back-edge, and
// Dispatch installs the "check JIT entry first" execution path spec.md
// §4.9 describes.
func (r *Runtime) Attach(vm *interpreter.VM) {
	if r.cfg.HotThreshold > 0 {
		vm.HotThreshold = r.cfg.HotThreshold
	}
	// interpreter.Hooks carries no Module reference alongside *bytecode.
	// Function (a Function has no owning-Module back-pointer, since in
	// principle one could be shared across constant pools), so hot/OSR
	// compiles triggered from these hooks pass mod=nil. jit.Compile never
	// dereferences Module for translation — the guarded-arithmetic fast
	// path is purely register-local — so this is safe; it only means a
	// CompiledFunction produced this way carries no Module for future
	// passes (e.g. an eventual constant-pool-aware optimization tier) that
	// might want one. Eager compilation in dispatch, which does have the
	// calling Closure's Module in hand, passes it through instead.
	vm.Hooks.OnHot = func(fn *bytecode.Function) {
		if r.cfg.Disable {
			return
		}
		r.enqueue(fn, nil)
	}
	vm.Hooks.OnBackEdge = func(fn *bytecode.Function, pc int) {
		if r.cfg.Disable {
			return
		}
		atomic.AddInt64(&r.Stats.BackEdgeTriggeredCompiles, 1)
		atomic.AddInt64(&r.Stats.OSRAttempts, 1)
		// OSR compiles synchronously: the interpreter is paused mid-loop at
		// the back-edge and needs an answer before it can decide whether to
		// transfer to native code (spec.md §4.8 "On-stack replacement").
		if _, err := r.compileNow(fn, nil); err == nil {
			atomic.AddInt64(&r.Stats.OSRSuccesses, 1)
		}
	}
	vm.Dispatch = r.dispatch
}

// enqueue schedules fn for background compilation, coalescing duplicate
// requests for the same function (spec.md §4.9 "duplicates are
// coalesced"). If background compilation is disabled, it compiles
// synchronously instead (spec.md §4.9 "Synchronous compilation is
// available as a fallback").
func (r *Runtime) enqueue(fn *bytecode.Function, mod *bytecode.Module) {
	if _, already := r.queued.LoadOrStore(fn, struct{}{}); already {
		return
	}
	atomic.AddInt64(&r.Stats.CompileRequests, 1)
	if !r.cfg.Background {
		r.queued.Delete(fn)
		_, _ = r.compileNow(fn, mod)
		return
	}
	select {
	case r.queue <- compileRequest{fn: fn, mod: mod}:
	default:
		// Queue full: rather than block the hot path, compile synchronously.
		// Dropping the request would leave the function interpreted for
		// good, since its invocation counter has already passed the
		// threshold and OnHot does not fire again.
		r.queued.Delete(fn)
		_, _ = r.compileNow(fn, mod)
	}
}

// worker is the single background compile thread (spec.md §4.9 "A single
// background worker thread dequeues requests, compiles, and publishes
// results back to the main thread").
func (r *Runtime) worker() {
	defer r.wg.Done()
	for {
		select {
		case req := <-r.queue:
			r.queued.Delete(req.fn)
			_, _ = r.compileNow(req.fn, req.mod)
		case <-r.stopCh:
			return
		}
	}
}

// compileNow compiles fn and, on success, atomically publishes the
// compiled entry onto fn.JITEntry (spec.md §3.7, §4.9 "publishes results
// back to the main thread ... under an atomic write").
func (r *Runtime) compileNow(fn *bytecode.Function, mod *bytecode.Module) (*jit.CompiledFunction, error) {
	cf, err := jit.Compile(fn, mod)
	if err != nil {
		atomic.AddInt64(&r.Stats.CompileErrors, 1)
		otterlog.Named("jit").Sugar().Debugw("compile failed, staying interpreted", "fn", fn.Name, "err", err)
		return nil, err
	}
	atomic.AddInt64(&r.Stats.CompileSuccesses, 1)
	r.compiled.Store(fn, cf)
	fn.JITEntry.Store(cf)
	return cf, nil
}

// dispatch is installed as vm.Dispatch (spec.md §4.9 "Execution
// dispatch"): check the JIT entry pointer; if present and the function
// isn't deoptimized, run compiled code and handle bailouts; otherwise
// interpret.
func (r *Runtime) dispatch(vm *interpreter.VM, c *interpreter.Closure, this value.Value, args []value.Value) (value.Value, error) {
	atomic.AddInt64(&r.Stats.ExecuteAttempts, 1)
	fn := c.Fn

	if r.cfg.Eager {
		if _, ok := r.compiled.Load(fn); !ok {
			_, _ = r.compileNow(fn, c.Module)
		}
	}

	entry, _ := fn.JITEntry.Load().(*jit.CompiledFunction)
	if entry == nil || fn.IsDeoptimized() {
		atomic.AddInt64(&r.Stats.ExecuteNotCompiled, 1)
		// CallInterpreted owns invocation counting and the hot-threshold
		// hook for the interpreted path, so this branch must not also
		// increment fn.InvocationCount — doing so here too would double-
		// count every interpreted call and could fire OnHot a call early.
		return vm.CallInterpreted(c, this, args)
	}
	atomic.AddInt64(&r.Stats.ExecuteHits, 1)
	// The native path bypasses CallInterpreted, so it must still advance
	// the invocation counter itself for telemetry parity; it does not
	// re-check the hot threshold since a JITEntry already exists.
	fn.InvocationCount++

	frame := interpreter.NewFrame(c, args, this)
	result, bailout, err := entry.Run(vm, frame)
	if err != nil {
		return value.Undefined, err
	}
	if bailout == nil {
		return result, nil
	}

	r.Stats.recordBailout(fn, bailout.Reason, bailout.BytecodePC)
	fn.BailoutCount++
	if deopt, ok := entry.DeoptAt(bailout.BytecodePC); ok {
		frame.IP = deopt.BytecodePC
	} else {
		frame.IP = 0
	}
	atomic.AddInt64(&r.Stats.Deoptimizations, 1)

	deoptThreshold := uint64(r.cfg.DeoptThreshold)
	if deoptThreshold == 0 {
		deoptThreshold = 10
	}
	if entry.BailoutCountAt(bailout.BytecodePC) >= deoptThreshold {
		fn.MarkDeoptimized()
	}

	return vm.RunFrame(frame)
}

// Close stops the background worker, if running.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
