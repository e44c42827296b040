package interpreter

import (
	"fmt"
	"math"
	"strconv"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/intrinsics"
	"github.com/octofhir/otter-sub002/internal/microtask"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/strvalue"
	"github.com/octofhir/otter-sub002/internal/value"
)

// HotThreshold is the invocation-counter crossing that enqueues a function
// for JIT compilation (spec.md §4.8, §6 OTTER_JIT_HOT_THRESHOLD). The JIT
// runtime package owns the actual enqueue; the interpreter only counts and
// notifies via OnHot.
const DefaultHotThreshold = 1000

// ThrownValue wraps a thrown JS value as a Go error so it can propagate
// through native (Go) call frames per spec.md §4.4 Exception handling:
// "Throws that unwind through a native frame surface as a host error
// result."
type ThrownValue struct{ V value.Value }

func (t *ThrownValue) Error() string { return fmt.Sprintf("uncaught exception: %v", uint64(t.V)) }

// JSValue exposes the thrown Value so layers that cross the Go error
// boundary (the promise package's reaction handlers) can re-reject with the
// original JS value instead of a stringified Go error.
func (t *ThrownValue) JSValue() value.Value { return t.V }

// Hooks lets embedders observe interpreter events without the interpreter
// depending on the jit/jitruntime packages directly (avoids an import
// cycle: jitruntime depends on interpreter's Closure/Frame types).
type Hooks struct {
	OnHot      func(fn *bytecode.Function)
	OnBackEdge func(fn *bytecode.Function, pc int)
}

// LoopHotThreshold is the back-edge counter crossing that triggers an OSR
// compile request (spec.md §4.8 "On-stack replacement").
const DefaultLoopHotThreshold = 8000

// Dispatch, when set, intercepts every Call before the interpreter runs it
// — the seam jitruntime.Runtime installs its "check the JIT entry pointer
// first" execution dispatch through (spec.md §4.9), without this package
// importing jit/jitruntime. Left nil, Call always interprets.
type DispatchFunc func(vm *VM, c *Closure, this value.Value, args []value.Value) (value.Value, error)

// VM is one realm's interpreter: heap, globals, microtask queue, and the
// Go-level call stack (spec.md §4.4 Scheduling model: single JS thread per
// realm, cooperative suspension).
type VM struct {
	Heap       *heap.Heap
	Handles    *heap.Context
	Global     *object.Object
	Microtasks *microtask.Queue
	Strings    *strvalue.Interner

	HotThreshold     uint32
	LoopHotThreshold uint32
	Hooks            Hooks
	// Dispatch, if set by jitruntime.Runtime.Attach, routes every Call
	// through the JIT's execution-dispatch check before falling back to
	// CallInterpreted (spec.md §4.9).
	Dispatch DispatchFunc

	// ArrayPrototype is the prototype new arrays chain to, wired by
	// internal/builtins.Install so Array.prototype.push resolves through
	// the ordinary prototype-chain lookup in object.Get (spec.md §4.12
	// builtins layer over the object model, never inside it).
	ArrayPrototype *object.Object

	// RegExpPrototype backs method lookup (test/exec) on KindRegExp
	// receivers, which have no Object/Shape of their own to chain through
	// (see primitivePrototype in propaccess.go).
	RegExpPrototype *object.Object

	// PromisePrototype backs then/catch/finally lookup on KindPromise
	// receivers, wired by internal/builtins.Install.
	PromisePrototype *object.Object

	// GeneratorPrototype backs next/return/throw lookup on KindGenerator
	// receivers; installed lazily the first time a generator is created.
	GeneratorPrototype *object.Object

	// ImportHook services OpImport (dynamic import): the linker installs a
	// hook that resolves, loads, links, and evaluates the specifier and
	// returns a promise of the module namespace (spec.md §4.7 "Dynamic
	// import"). Nil means no module system is attached and OpImport throws
	// NotFound.
	ImportHook func(specifier string) (value.Value, error)

	// OnUnhandledRejection is the host-visible hook a rejected promise with
	// no reaction reaches after the current microtask checkpoint (spec.md §7
	// Propagation).
	OnUnhandledRejection func(reason value.Value)

	// GCThreshold is the allocations-since-last-collection count at which
	// MaybeCollect actually collects. Zero means DefaultGCThreshold.
	GCThreshold int64

	// frames is the stack of frames currently being interpreted; together
	// with suspended (frames parked at an Await whose only reference is a
	// pending reaction) it supplies the "registers of live frames" entries
	// on spec.md §4.1's root list.
	frames    []*Frame
	suspended map[*Frame]struct{}
}

// DefaultGCThreshold is the allocation pressure at which a task-boundary
// MaybeCollect triggers a collection.
const DefaultGCThreshold int64 = 16384

func NewVM() *VM {
	vm := &VM{
		Heap:             heap.New(0),
		Handles:          heap.NewContext(),
		Global:           object.New(),
		Microtasks:       microtask.New(),
		Strings:          strvalue.NewInterner(),
		HotThreshold:     DefaultHotThreshold,
		LoopHotThreshold: DefaultLoopHotThreshold,
		suspended:        make(map[*Frame]struct{}),
	}
	vm.Heap.AddRoot(vm.Handles.Roots)
	vm.Heap.AddTraceRoot(vm.traceRoots)
	return vm
}

// traceRoots marks spec.md §4.1's root list: globals (and the installed
// prototype objects, which are globals in all but name), the registers,
// locals, and arguments of every live frame, frames parked at an Await, and
// the Values captured by pending microtask jobs. Open upvalues and
// pending-call state are reached transitively: closures trace their upvalue
// cells and callee Values sit in a frame register.
func (vm *VM) traceRoots(t *heap.Tracer) {
	t.MarkTraceable(vm.Global)
	for _, proto := range []*object.Object{vm.ArrayPrototype, vm.RegExpPrototype, vm.PromisePrototype, vm.GeneratorPrototype} {
		if proto != nil {
			t.MarkTraceable(proto)
		}
	}
	for _, f := range vm.frames {
		t.MarkTraceable(f)
	}
	for f := range vm.suspended {
		t.MarkTraceable(f)
	}
	for _, v := range vm.Microtasks.Roots() {
		t.MarkValue(v)
	}
}

// Collect forces a full mark-sweep collection. Callers must be at a safe
// point (spec.md §5 Suspension points): between tasks, or at an allocation
// site where every live Value is in a frame register or a handle slot.
func (vm *VM) Collect() int { return vm.Heap.Collect() }

// MaybeCollect collects once enough allocation has accumulated since the
// last collection. Runtime.Eval and the linker call it at task boundaries,
// where the only live Values are those reachable from the registered roots.
func (vm *VM) MaybeCollect() {
	threshold := vm.GCThreshold
	if threshold == 0 {
		threshold = DefaultGCThreshold
	}
	if vm.Heap.AllocatedSinceCollect() >= threshold {
		vm.Heap.Collect()
	}
}

// parkFrame roots a frame suspended at an Await whose continuation lives
// only in a pending promise reaction; unparkFrame releases it on resume.
func (vm *VM) parkFrame(f *Frame)   { vm.suspended[f] = struct{}{} }
func (vm *VM) unparkFrame(f *Frame) { delete(vm.suspended, f) }

// PushLiveFrame/PopLiveFrame root a frame driven outside vm.run's own loop
// — the JIT's compiled-function executor — so its registers stay on the
// root list for the duration of the native run.
func (vm *VM) PushLiveFrame(f *Frame) { vm.frames = append(vm.frames, f) }
func (vm *VM) PopLiveFrame()          { vm.frames = vm.frames[:len(vm.frames)-1] }

// Call invokes a closure with the given `this` and arguments. If a JIT
// runtime has attached via Dispatch, the execution-dispatch check (spec.md
// §4.9: "before executing a function, the interpreter checks the JIT entry
// pointer") runs first; otherwise this interprets directly.
func (vm *VM) Call(c *Closure, this value.Value, args []value.Value) (value.Value, error) {
	// Generator and async closures never run eagerly and never dispatch to
	// JIT code: invoking one mints a suspended generator object or a promise
	// plus a parked frame (spec.md §4.4 Generators and async).
	if c.IsGenerator {
		return vm.callGenerator(c, this, args)
	}
	if c.IsAsync {
		return vm.callAsync(c, this, args)
	}
	if vm.Dispatch != nil {
		return vm.Dispatch(vm, c, this, args)
	}
	return vm.CallInterpreted(c, this, args)
}

// CallInterpreted always runs c in the bytecode interpreter, bypassing any
// attached JIT dispatch. jitruntime uses this as the fallback path when a
// compiled entry is absent, deoptimized, or bails out.
func (vm *VM) CallInterpreted(c *Closure, this value.Value, args []value.Value) (value.Value, error) {
	frame := NewFrame(c, args, this)
	c.Fn.InvocationCount++
	if vm.Hooks.OnHot != nil && uint32(c.Fn.InvocationCount) == vm.HotThreshold {
		vm.Hooks.OnHot(c.Fn)
	}
	return vm.run(frame)
}

// StepInstruction executes exactly one instruction against f, applying the
// same exception-unwind and control-flow handling vm.run's loop body does.
// It reports done=true when the frame returned (result is then the return
// value) and done=false when execution should continue at the (possibly
// now-jumped) f.IP. This is the seam internal/engine/jit's baseline
// compiler re-enters the interpreter through for every opcode outside its
// guarded-arithmetic fast path (spec.md §4.8 "runtime helper calls").
func (vm *VM) StepInstruction(f *Frame, ins bytecode.Instruction) (result value.Value, done bool, err error) {
	result, ctrl, err := vm.step(f, ins)
	if err != nil {
		if tv, ok := err.(*ThrownValue); ok {
			if target, found := f.unwind(); found {
				f.IP = target
				f.Registers[0] = tv.V
				return value.Undefined, false, nil
			}
		}
		return value.Undefined, true, err
	}
	switch ctrl {
	case ctrlReturn:
		return result, true, nil
	case ctrlJump:
		return value.Undefined, false, nil
	case ctrlYield, ctrlAwait:
		return value.Undefined, true, otterrors.New(otterrors.Internal,
			"yield/await outside a generator or async frame")
	default:
		f.IP++
		return value.Undefined, false, nil
	}
}

// RunFrame executes an already-constructed frame to completion. Exposed so
// the JIT runtime's OSR path can hand the interpreter a frame whose
// registers were reconstructed from native state (spec.md §4.8 OSR) rather
// than only ever starting fresh via Call.
func (vm *VM) RunFrame(f *Frame) (value.Value, error) {
	return vm.run(f)
}

// run executes frame's bytecode from its current IP until Return or an
// unrecovered Throw. Nested function calls recurse into run via Go's own
// call stack, which is how spec.md's "throws that unwind through a native
// frame" falls out naturally: if a nested run returns a *ThrownValue this
// loop's own handler stack gets first refusal before the error keeps
// propagating to whichever Go frame called Call.
func (vm *VM) run(f *Frame) (value.Value, error) {
	vm.frames = append(vm.frames, f)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()
	code := f.Closure.Fn.Instructions
	for {
		if f.IP >= len(code) {
			return value.Undefined, nil
		}
		ins := code[f.IP]
		result, ctrl, err := vm.step(f, ins)
		if err != nil {
			if tv, ok := err.(*ThrownValue); ok {
				if target, found := f.unwind(); found {
					f.IP = target
					f.Registers[0] = tv.V // well-known location for Catch
					continue
				}
			}
			return value.Undefined, err
		}
		switch ctrl {
		case ctrlReturn:
			return result, nil
		case ctrlJump:
			continue
		case ctrlYield, ctrlAwait:
			return value.Undefined, otterrors.New(otterrors.Internal,
				"yield/await outside a generator or async frame")
		default:
			f.IP++
		}
	}
}

type control int

const (
	ctrlNext control = iota
	ctrlJump
	ctrlReturn
	// ctrlYield and ctrlAwait suspend the frame; only the generator/async
	// drivers in async.go observe them — a plain run() treats either as a
	// misplaced-opcode internal error.
	ctrlYield
	ctrlAwait
)

func (vm *VM) step(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	switch ins.Op {
	case bytecode.OpNop, bytecode.OpDebugger:
		return value.Undefined, ctrlNext, nil

	case bytecode.OpLoadUndefined:
		f.Registers[ins.Dst] = value.Undefined
	case bytecode.OpLoadNull:
		f.Registers[ins.Dst] = value.Null
	case bytecode.OpLoadTrue:
		f.Registers[ins.Dst] = value.True
	case bytecode.OpLoadFalse:
		f.Registers[ins.Dst] = value.False
	case bytecode.OpLoadInt8:
		f.Registers[ins.Dst] = value.Int32(int32(ins.ImmI8))
	case bytecode.OpLoadInt32:
		f.Registers[ins.Dst] = value.Int32(ins.ImmI32)
	case bytecode.OpLoadConst:
		f.Registers[ins.Dst] = vm.loadConst(f, ins.ConstIdx)

	case bytecode.OpGetLocal:
		f.Registers[ins.Dst] = f.Locals[ins.LocalIdx]
	case bytecode.OpSetLocal:
		f.Locals[ins.LocalIdx] = f.Registers[ins.SrcA]
	case bytecode.OpGetUpvalue:
		f.Registers[ins.Dst] = f.Closure.Upvalues[ins.UpvalIdx].Get()
	case bytecode.OpSetUpvalue:
		f.Closure.Upvalues[ins.UpvalIdx].Set(f.Registers[ins.SrcA])
	case bytecode.OpLoadThis:
		f.Registers[ins.Dst] = f.This
	case bytecode.OpCloseUpvalue:
		// Upvalues are heap cells already independent of the stack slot;
		// nothing to copy-out, matches spec.md §3.5's "distinct heap cells".

	case bytecode.OpGetGlobal:
		name := vm.constString(f, ins.ConstIdx)
		v, _ := vm.Global.Get(shape.StringKey(name), 0)
		f.Registers[ins.Dst] = v
	case bytecode.OpSetGlobal:
		name := vm.constString(f, ins.ConstIdx)
		vm.Global.Set(shape.StringKey(name), f.Registers[ins.SrcA])

	case bytecode.OpAddI32:
		// Two int32 operands stay int32 unless the sum overflows; anything
		// else takes the generic `+` path.
		vm.recordBinaryFeedback(f, ins)
		a, b := f.Registers[ins.SrcA], f.Registers[ins.SrcB]
		if a.IsInt32() && b.IsInt32() {
			if sum := int64(a.AsInt32()) + int64(b.AsInt32()); sum >= math.MinInt32 && sum <= math.MaxInt32 {
				f.Registers[ins.Dst] = value.Int32(int32(sum))
				break
			}
		}
		f.Registers[ins.Dst] = vm.add(a, b)
	case bytecode.OpAdd, bytecode.OpAddF64:
		vm.recordBinaryFeedback(f, ins)
		f.Registers[ins.Dst] = vm.add(f.Registers[ins.SrcA], f.Registers[ins.SrcB])
	case bytecode.OpSub, bytecode.OpSubI32, bytecode.OpSubF64:
		vm.recordBinaryFeedback(f, ins)
		f.Registers[ins.Dst] = numOp(f.Registers[ins.SrcA], f.Registers[ins.SrcB], func(a, b float64) float64 { return a - b })
	case bytecode.OpMul, bytecode.OpMulI32, bytecode.OpMulF64:
		vm.recordBinaryFeedback(f, ins)
		f.Registers[ins.Dst] = numOp(f.Registers[ins.SrcA], f.Registers[ins.SrcB], func(a, b float64) float64 { return a * b })
	case bytecode.OpDiv, bytecode.OpDivI32, bytecode.OpDivF64:
		vm.recordBinaryFeedback(f, ins)
		f.Registers[ins.Dst] = numOp(f.Registers[ins.SrcA], f.Registers[ins.SrcB], divide)
	case bytecode.OpMod:
		f.Registers[ins.Dst] = numOp(f.Registers[ins.SrcA], f.Registers[ins.SrcB], jsMod)
	case bytecode.OpPow:
		f.Registers[ins.Dst] = numOp(f.Registers[ins.SrcA], f.Registers[ins.SrcB], math.Pow)
	case bytecode.OpNeg:
		f.Registers[ins.Dst] = value.Double(-toFloat(f.Registers[ins.SrcA]))
	case bytecode.OpInc:
		f.Registers[ins.Dst] = value.Double(toFloat(f.Registers[ins.SrcA]) + 1)
	case bytecode.OpDec:
		f.Registers[ins.Dst] = value.Double(toFloat(f.Registers[ins.SrcA]) - 1)

	case bytecode.OpBitAnd:
		f.Registers[ins.Dst] = value.Int32(toInt32(f.Registers[ins.SrcA]) & toInt32(f.Registers[ins.SrcB]))
	case bytecode.OpBitOr:
		f.Registers[ins.Dst] = value.Int32(toInt32(f.Registers[ins.SrcA]) | toInt32(f.Registers[ins.SrcB]))
	case bytecode.OpBitXor:
		f.Registers[ins.Dst] = value.Int32(toInt32(f.Registers[ins.SrcA]) ^ toInt32(f.Registers[ins.SrcB]))
	case bytecode.OpBitNot:
		f.Registers[ins.Dst] = value.Int32(^toInt32(f.Registers[ins.SrcA]))
	case bytecode.OpShl:
		f.Registers[ins.Dst] = value.Int32(toInt32(f.Registers[ins.SrcA]) << (uint32(toInt32(f.Registers[ins.SrcB])) & 31))
	case bytecode.OpShr:
		f.Registers[ins.Dst] = value.Int32(toInt32(f.Registers[ins.SrcA]) >> (uint32(toInt32(f.Registers[ins.SrcB])) & 31))
	case bytecode.OpUShr:
		res := uint32(toInt32(f.Registers[ins.SrcA])) >> (uint32(toInt32(f.Registers[ins.SrcB])) & 31)
		if res > math.MaxInt32 {
			f.Registers[ins.Dst] = value.Double(float64(res))
		} else {
			f.Registers[ins.Dst] = value.Int32(int32(res))
		}

	case bytecode.OpEq:
		f.Registers[ins.Dst] = value.Bool(abstractEquals(f.Registers[ins.SrcA], f.Registers[ins.SrcB]))
	case bytecode.OpNe:
		f.Registers[ins.Dst] = value.Bool(!abstractEquals(f.Registers[ins.SrcA], f.Registers[ins.SrcB]))
	case bytecode.OpStrictEq:
		f.Registers[ins.Dst] = value.Bool(value.StrictEquals(f.Registers[ins.SrcA], f.Registers[ins.SrcB]))
	case bytecode.OpStrictNe:
		f.Registers[ins.Dst] = value.Bool(!value.StrictEquals(f.Registers[ins.SrcA], f.Registers[ins.SrcB]))
	case bytecode.OpLt:
		f.Registers[ins.Dst] = value.Bool(toFloat(f.Registers[ins.SrcA]) < toFloat(f.Registers[ins.SrcB]))
	case bytecode.OpLe:
		f.Registers[ins.Dst] = value.Bool(toFloat(f.Registers[ins.SrcA]) <= toFloat(f.Registers[ins.SrcB]))
	case bytecode.OpGt:
		f.Registers[ins.Dst] = value.Bool(toFloat(f.Registers[ins.SrcA]) > toFloat(f.Registers[ins.SrcB]))
	case bytecode.OpGe:
		f.Registers[ins.Dst] = value.Bool(toFloat(f.Registers[ins.SrcA]) >= toFloat(f.Registers[ins.SrcB]))

	case bytecode.OpNot:
		f.Registers[ins.Dst] = value.Bool(!toBool(f.Registers[ins.SrcA]))
	case bytecode.OpTypeOf:
		f.Registers[ins.Dst] = vm.boxString(f.Registers[ins.SrcA].TypeOf())
	case bytecode.OpTypeOfName:
		// `typeof ident` on an undeclared global is "undefined", not a
		// ReferenceError, so this variant reads the name without throwing.
		name := vm.constString(f, ins.ConstIdx)
		v, _ := vm.Global.Get(shape.StringKey(name), 0)
		f.Registers[ins.Dst] = vm.boxString(v.TypeOf())
	case bytecode.OpToNumber:
		f.Registers[ins.Dst] = value.Double(toFloat(f.Registers[ins.SrcA]))
	case bytecode.OpRequireCoercible:
		if f.Registers[ins.SrcA].IsNullish() {
			return value.Undefined, ctrlNext, &ThrownValue{V: vm.makeError("TypeError", "value is not coercible to an object")}
		}
	case bytecode.OpInstanceOf:
		return vm.execInstanceOf(f, ins)
	case bytecode.OpIn:
		return vm.execIn(f, ins)

	case bytecode.OpNewObject:
		ref, err := vm.Heap.Alloc(value.KindObject, object.New())
		if err != nil {
			return value.Undefined, ctrlNext, err
		}
		f.Registers[ins.Dst] = value.Pointer(value.KindObject, ref)
	case bytecode.OpNewArray:
		arr := object.NewArray()
		if vm.ArrayPrototype != nil {
			arr.Prototype = vm.ArrayPrototype
		}
		ref, err := vm.Heap.Alloc(value.KindArray, arr)
		if err != nil {
			return value.Undefined, ctrlNext, err
		}
		f.Registers[ins.Dst] = value.Pointer(value.KindArray, ref)

	case bytecode.OpGetProp, bytecode.OpGetPropConst:
		return vm.execGetProp(f, ins)
	case bytecode.OpSetProp, bytecode.OpSetPropConst:
		return vm.execSetProp(f, ins)
	case bytecode.OpDeleteProp:
		return vm.execDeleteProp(f, ins)
	case bytecode.OpGetElem:
		return vm.execGetProp(f, ins)
	case bytecode.OpSetElem:
		return vm.execSetProp(f, ins)

	case bytecode.OpJump:
		if ins.JumpOffset < 0 {
			vm.countBackEdge(f)
		}
		f.IP += int(ins.JumpOffset) + 1
		return value.Undefined, ctrlJump, nil
	case bytecode.OpJumpIfTrue:
		if toBool(f.Registers[ins.SrcA]) {
			if ins.JumpOffset < 0 {
				vm.countBackEdge(f)
			}
			f.IP += int(ins.JumpOffset) + 1
			return value.Undefined, ctrlJump, nil
		}
	case bytecode.OpJumpIfFalse:
		if !toBool(f.Registers[ins.SrcA]) {
			if ins.JumpOffset < 0 {
				vm.countBackEdge(f)
			}
			f.IP += int(ins.JumpOffset) + 1
			return value.Undefined, ctrlJump, nil
		}
	case bytecode.OpJumpIfNullish:
		if f.Registers[ins.SrcA].IsNullish() {
			f.IP += int(ins.JumpOffset) + 1
			return value.Undefined, ctrlJump, nil
		}
	case bytecode.OpJumpIfNotNullish:
		if !f.Registers[ins.SrcA].IsNullish() {
			f.IP += int(ins.JumpOffset) + 1
			return value.Undefined, ctrlJump, nil
		}

	case bytecode.OpTryStart:
		f.pushHandler(f.IP + int(ins.JumpOffset) + 1)
	case bytecode.OpTryEnd:
		f.popHandler()
	case bytecode.OpThrow:
		return value.Undefined, ctrlNext, &ThrownValue{V: f.Registers[ins.SrcA]}
	case bytecode.OpCatch:
		f.Registers[ins.Dst] = f.Registers[0]

	case bytecode.OpMove:
		f.Registers[ins.Dst] = f.Registers[ins.SrcA]
	case bytecode.OpPop, bytecode.OpDup:
		// Stack-shaped bookkeeping ops; registers are addressed directly in
		// this machine so these are no-ops kept for wire-format parity.

	case bytecode.OpReturn:
		return f.Registers[ins.SrcA], ctrlReturn, nil

	case bytecode.OpForInNext:
		return vm.execForInNext(f, ins)

	case bytecode.OpGetIterator:
		return vm.execGetIterator(f, ins)
	case bytecode.OpGetAsyncIterator:
		return vm.execGetAsyncIterator(f, ins)
	case bytecode.OpIteratorNext:
		return vm.execIteratorNext(f, ins)

	case bytecode.OpDefineProperty:
		return vm.execDefineProperty(f, ins)
	case bytecode.OpDefineGetter, bytecode.OpDefineSetter:
		return vm.execDefineAccessor(f, ins)
	case bytecode.OpSpread:
		return vm.execSpread(f, ins)
	case bytecode.OpCreateArguments:
		return vm.execCreateArguments(f, ins)

	case bytecode.OpCall, bytecode.OpTailCall, bytecode.OpCallEval:
		return vm.execCall(f, ins)
	case bytecode.OpCallWithReceiver, bytecode.OpCallMethod:
		return vm.execCallWithReceiver(f, ins)
	case bytecode.OpCallMethodComputed:
		return vm.execCallMethodComputed(f, ins)
	case bytecode.OpCallSpread:
		return vm.execCallSpread(f, ins)
	case bytecode.OpConstruct:
		return vm.execConstruct(f, ins)
	case bytecode.OpConstructSpread:
		return vm.execConstructSpread(f, ins)
	case bytecode.OpClosure, bytecode.OpAsyncClosure, bytecode.OpGeneratorClosure, bytecode.OpAsyncGeneratorClosure:
		return vm.execClosure(f, ins)

	case bytecode.OpDefineClass:
		return vm.execDefineClass(f, ins)
	case bytecode.OpSetHomeObject:
		return vm.execSetHomeObject(f, ins)
	case bytecode.OpGetSuper:
		return vm.execGetSuper(f, ins)
	case bytecode.OpGetSuperProp:
		return vm.execGetSuperProp(f, ins)
	case bytecode.OpCallSuper:
		return vm.execCallSuper(f, ins)

	case bytecode.OpYield:
		f.resumeDst = ins.Dst
		return f.Registers[ins.SrcA], ctrlYield, nil
	case bytecode.OpAwait:
		f.resumeDst = ins.Dst
		return f.Registers[ins.SrcA], ctrlAwait, nil

	case bytecode.OpImport:
		return vm.execImport(f, ins)
	case bytecode.OpExport:
		return vm.execExport(f, ins)

	default:
		return value.Undefined, ctrlNext, otterrors.New(otterrors.Internal,
			fmt.Sprintf("opcode %s not supported by this interpreter build", ins.Op))
	}
	return value.Undefined, ctrlNext, nil
}

// loadConst materializes a constant-pool entry as a Value, boxing strings,
// regexes, and nested function constants onto the heap on first use.
func (vm *VM) loadConst(f *Frame, idx uint16) value.Value {
	m := f.Closure.Module
	if m == nil || int(idx) >= len(m.ConstPool) {
		return value.Undefined
	}
	c := m.ConstPool[idx]
	switch c.Kind {
	case bytecode.ConstNumber:
		return value.Double(c.Number)
	case bytecode.ConstString:
		return vm.boxString(c.Str)
	case bytecode.ConstRegex:
		pattern, flags := intrinsics.ParseLiteral(c.Regex)
		re, err := intrinsics.Compile(pattern, flags)
		if err != nil {
			return value.Undefined
		}
		ref, err := vm.Heap.Alloc(value.KindRegExp, re)
		if err != nil {
			return value.Undefined
		}
		return value.Pointer(value.KindRegExp, ref)
	case bytecode.ConstFunction:
		fn := m.Functions[c.FnIdx]
		closure := &Closure{Fn: fn, Module: m}
		ref, err := vm.Heap.Alloc(value.KindClosure, closure)
		if err != nil {
			return value.Undefined
		}
		return value.Pointer(value.KindClosure, ref)
	default:
		return value.Undefined
	}
}

// constString reads a ConstString entry's raw Go string, used by opcodes
// (GetGlobal/SetGlobal, property names) that need the name itself rather
// than a boxed Value.
func (vm *VM) constString(f *Frame, idx uint16) string {
	m := f.Closure.Module
	if m == nil || int(idx) >= len(m.ConstPool) {
		return ""
	}
	return m.ConstPool[idx].Str
}

func (vm *VM) boxString(s string) value.Value {
	interned := vm.Strings.Intern(s)
	ref, err := vm.Heap.Alloc(value.KindString, interned)
	if err != nil {
		return value.Undefined
	}
	return value.Pointer(value.KindString, ref)
}

// add implements `+`'s dual numeric-addition/string-concatenation behavior
// (spec.md §4.4 Arithmetic semantics): if either operand is a string, the
// other is stringified and the two are concatenated; otherwise both sides
// coerce to number.
func (vm *VM) add(a, b value.Value) value.Value {
	if isStringValue(a) || isStringValue(b) {
		return vm.boxString(vm.toGoString(a) + vm.toGoString(b))
	}
	return value.Double(toFloat(a) + toFloat(b))
}

func isStringValue(v value.Value) bool {
	if !v.IsPointer() {
		return false
	}
	k, _ := v.AsPointer()
	return k == value.KindString
}

func (vm *VM) toGoString(v value.Value) string {
	if v.IsPointer() {
		k, ref := v.AsPointer()
		if k == value.KindString {
			if s, ok := vm.Heap.Get(ref).(*strvalue.String); ok {
				return s.Go()
			}
		}
	}
	switch {
	case v.IsUndefined():
		return "undefined"
	case v.IsNull():
		return "null"
	case v.IsBool():
		return strconv.FormatBool(v.AsBool())
	case v.IsInt32():
		return strconv.FormatInt(int64(v.AsInt32()), 10)
	case v.IsDouble():
		return strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)
	default:
		return ""
	}
}

// ToGoString exposes toGoString for native functions that need to
// stringify a Value (e.g. console.log, String concatenation builtins).
func (vm *VM) ToGoString(v value.Value) string { return vm.toGoString(v) }

func toFloat(v value.Value) float64 {
	switch {
	case v.IsInt32():
		return float64(v.AsInt32())
	case v.IsDouble():
		return v.AsDouble()
	case v == value.True:
		return 1
	case v == value.Undefined:
		return math.NaN()
	default:
		return 0
	}
}

func toInt32(v value.Value) int32 {
	f := toFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int32(int64(f))
}

func toBool(v value.Value) bool {
	return value.ToBoolean(v, func(value.Value) bool { return false }, func(value.Value) bool { return false })
}

func numOp(a, b value.Value, f func(x, y float64) float64) value.Value {
	return value.Double(f(toFloat(a), toFloat(b)))
}

func divide(a, b float64) float64 { return a / b }

// jsMod follows sign-of-dividend per spec.md §4.4 Arithmetic semantics.
func jsMod(a, b float64) float64 { return math.Mod(a, b) }

// Observed-type tags for binary-op feedback slots (spec.md §4.4 Feedback
// collection). Opaque uint64 keys per FeedbackSlot.Observed's contract.
const (
	feedbackInt32 uint64 = iota + 1
	feedbackF64
	feedbackString
	feedbackOther
)

func feedbackTag(v value.Value) uint64 {
	switch {
	case v.IsInt32():
		return feedbackInt32
	case v.IsDouble():
		return feedbackF64
	case isStringValue(v):
		return feedbackString
	default:
		return feedbackOther
	}
}

// recordBinaryFeedback notes the observed operand-type pair at a
// cache-bearing arithmetic site, walking the monomorphic → polymorphic →
// megamorphic ladder; a saturated slot stops tracking pairs (spec.md §4.4).
func (vm *VM) recordBinaryFeedback(f *Frame, ins bytecode.Instruction) {
	fn := f.Closure.Fn
	if !ins.Op.IsCacheBearing() || int(ins.ICIndex) >= len(fn.Feedback) {
		return
	}
	slot := &fn.Feedback[ins.ICIndex]
	if slot.State == bytecode.FeedbackMegamorphic {
		return
	}
	pair := feedbackTag(f.Registers[ins.SrcA])<<8 | feedbackTag(f.Registers[ins.SrcB])
	for _, seen := range slot.Observed {
		if seen == pair {
			return
		}
	}
	slot.Observed = append(slot.Observed, pair)
	switch {
	case len(slot.Observed) == 1:
		slot.State = bytecode.FeedbackMonomorphic
	case len(slot.Observed) <= bytecode.PolymorphicCap:
		slot.State = bytecode.FeedbackPolymorphic
	default:
		slot.State = bytecode.FeedbackMegamorphic
		slot.Observed = nil
	}
}

// countBackEdge bumps the current function's loop back-edge counter and
// fires OnBackEdge once it crosses LoopHotThreshold, the OSR compile
// trigger (spec.md §4.8 "On-stack replacement").
func (vm *VM) countBackEdge(f *Frame) {
	fn := f.Closure.Fn
	fn.BackEdgeCount++
	threshold := vm.LoopHotThreshold
	if threshold == 0 {
		threshold = DefaultLoopHotThreshold
	}
	if vm.Hooks.OnBackEdge != nil && fn.BackEdgeCount == uint64(threshold) {
		vm.Hooks.OnBackEdge(fn, f.IP)
	}
}

func abstractEquals(a, b value.Value) bool {
	// A faithful ToPrimitive/ToNumber coercion ladder is object-model
	// dependent (spec.md §9 Open questions); numeric/boolean/nullish cases
	// are handled directly here and object coercion is layered by the
	// object package's ToPrimitive hook, invoked by execGetProp callers.
	if value.StrictEquals(a, b) {
		return true
	}
	if a.IsNullish() && b.IsNullish() {
		return true
	}
	if (a.IsInt32() || a.IsDouble() || a == value.True || a == value.False) &&
		(b.IsInt32() || b.IsDouble() || b == value.True || b == value.False) {
		return toFloat(a) == toFloat(b)
	}
	return false
}
