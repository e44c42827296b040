package interpreter

import (
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// vmThenable adapts the VM to promise.ThenableResolver: it knows how to
// find a callable `then` on an arbitrary Value and how to surface unhandled
// rejections through the host hook (spec.md §7 Propagation).
type vmThenable struct{ vm *VM }

func (r vmThenable) IsThenable(v value.Value) bool {
	if _, ok := r.vm.AsPromise(v); ok {
		return true
	}
	obj, ok := r.vm.asObject(v)
	if !ok {
		return false
	}
	then, found := obj.Get(shape.StringKey("then"), 0)
	return found && then.IsPointer()
}

func (r vmThenable) CallThen(v value.Value, p *promise.Promise) {
	if inner, ok := r.vm.AsPromise(v); ok {
		inner.Then(
			func(res value.Value) (value.Value, error) { p.FulfillDirect(res); return value.Undefined, nil },
			func(e value.Value) (value.Value, error) { p.RejectDirect(e); return value.Undefined, nil },
		)
		return
	}
	obj, ok := r.vm.asObject(v)
	if !ok {
		p.FulfillDirect(v)
		return
	}
	then, found := obj.Get(shape.StringKey("then"), 0)
	if !found {
		p.FulfillDirect(v)
		return
	}
	resolveFn, _ := r.vm.RegisterNative("", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		p.FulfillDirect(argOrUndefined(args, 0))
		return value.Undefined, nil
	})
	rejectFn, _ := r.vm.RegisterNative("", 1, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		p.RejectDirect(argOrUndefined(args, 0))
		return value.Undefined, nil
	})
	if _, err := r.vm.InvokeCallable(then, v, []value.Value{resolveFn, rejectFn}); err != nil {
		if tv, ok := err.(*ThrownValue); ok {
			p.RejectDirect(tv.V)
		} else {
			p.RejectDirect(r.vm.makeError("TypeError", err.Error()))
		}
	}
}

func (r vmThenable) MakeTypeError(message string) value.Value {
	return r.vm.makeError("TypeError", message)
}

func (r vmThenable) ReportUnhandled(reason value.Value) {
	if r.vm.OnUnhandledRejection != nil {
		r.vm.OnUnhandledRejection(reason)
	}
}

func argOrUndefined(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Undefined
}

// NewPromise constructs a pending promise bound to this VM's microtask
// queue and thenable resolution.
func (vm *VM) NewPromise() *promise.Promise {
	return promise.New(vm.Microtasks, vmThenable{vm: vm})
}

// BoxPromise allocates p onto the heap and records its self-reference for
// the resolve(this) TypeError rule (spec.md §4.6).
func (vm *VM) BoxPromise(p *promise.Promise) (value.Value, error) {
	ref, err := vm.Heap.Alloc(value.KindPromise, p)
	if err != nil {
		return value.Undefined, err
	}
	v := value.Pointer(value.KindPromise, ref)
	p.SetSelf(v)
	return v, nil
}

// AsPromise resolves a KindPromise Value back to its *promise.Promise.
func (vm *VM) AsPromise(v value.Value) (*promise.Promise, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	k, ref := v.AsPointer()
	if k != value.KindPromise {
		return nil, false
	}
	p, ok := vm.Heap.Get(ref).(*promise.Promise)
	return p, ok
}

// resumeFrame drives a suspendable frame until it returns, throws out, or
// suspends again at a Yield/Await. A parked frame resumes by writing the
// sent value into the register the suspending instruction designated, or by
// injecting a throw at the resume point (generator.throw, awaited-promise
// rejection).
func (vm *VM) resumeFrame(f *Frame, sent value.Value, thrown *value.Value) (value.Value, control, error) {
	vm.frames = append(vm.frames, f)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()
	code := f.Closure.Fn.Instructions
	if f.suspended {
		f.suspended = false
		f.IP++ // past the Yield/Await that parked us
		if thrown != nil {
			if target, found := f.unwind(); found {
				f.IP = target
				f.Registers[0] = *thrown
			} else {
				return value.Undefined, ctrlReturn, &ThrownValue{V: *thrown}
			}
		} else {
			f.Registers[f.resumeDst] = sent
		}
	}
	for {
		if f.IP >= len(code) {
			return value.Undefined, ctrlReturn, nil
		}
		ins := code[f.IP]
		result, ctrl, err := vm.step(f, ins)
		if err != nil {
			if tv, ok := err.(*ThrownValue); ok {
				if target, found := f.unwind(); found {
					f.IP = target
					f.Registers[0] = tv.V
					continue
				}
			}
			return value.Undefined, ctrlReturn, err
		}
		switch ctrl {
		case ctrlReturn:
			return result, ctrlReturn, nil
		case ctrlJump:
			continue
		case ctrlYield, ctrlAwait:
			f.suspended = true
			return result, ctrl, nil
		default:
			f.IP++
		}
	}
}

// genState tracks the generator protocol's observable positions.
type genState int

const (
	genSuspendedStart genState = iota
	genSuspendedYield
	genRunning
	genCompleted
)

// Generator is the explicit resumable-frame object backing both generator
// functions and async generators (spec.md §9 Iterator/generator mapping:
// not a thread — a saved frame dispatched back into the interpreter).
type Generator struct {
	vm      *VM
	frame   *Frame
	state   genState
	isAsync bool
}

func (g *Generator) Trace(t *heap.Tracer) {
	if g.frame != nil {
		g.frame.Trace(t)
	}
}

// callGenerator mints the suspended generator object for an invoked
// generator closure; no body code runs until the first next() (spec.md §4.4
// Generators and async).
func (vm *VM) callGenerator(c *Closure, this value.Value, args []value.Value) (value.Value, error) {
	if err := vm.ensureGeneratorPrototype(); err != nil {
		return value.Undefined, err
	}
	g := &Generator{vm: vm, frame: NewFrame(c, args, this), isAsync: c.IsAsync}
	ref, err := vm.Heap.Alloc(value.KindGenerator, g)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindGenerator, ref), nil
}

func (vm *VM) asGenerator(v value.Value) (*Generator, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	k, ref := v.AsPointer()
	if k != value.KindGenerator {
		return nil, false
	}
	g, ok := vm.Heap.Get(ref).(*Generator)
	return g, ok
}

// ensureGeneratorPrototype lazily installs next/return/throw on the shared
// per-VM generator prototype.
func (vm *VM) ensureGeneratorPrototype() error {
	if vm.GeneratorPrototype != nil {
		return nil
	}
	proto := object.New()
	for _, m := range []struct {
		name string
		fn   NativeFunc
	}{
		{"next", nativeGeneratorNext},
		{"return", nativeGeneratorReturn},
		{"throw", nativeGeneratorThrow},
		{iteratorKey, nativeGeneratorSelf},
		{asyncIteratorKey, nativeGeneratorSelf},
	} {
		v, err := vm.RegisterNative(m.name, 1, m.fn)
		if err != nil {
			return err
		}
		proto.Set(shape.StringKey(m.name), v)
	}
	vm.GeneratorPrototype = proto
	return nil
}

func nativeGeneratorSelf(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
	return this, nil
}

func nativeGeneratorNext(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
	g, ok := vm.asGenerator(this)
	if !ok {
		return value.Undefined, vm.throwTypeError("next called on a non-generator")
	}
	return g.resume(argOrUndefined(args, 0), nil)
}

func nativeGeneratorThrow(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
	g, ok := vm.asGenerator(this)
	if !ok {
		return value.Undefined, vm.throwTypeError("throw called on a non-generator")
	}
	e := argOrUndefined(args, 0)
	return g.resume(value.Undefined, &e)
}

func nativeGeneratorReturn(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
	g, ok := vm.asGenerator(this)
	if !ok {
		return value.Undefined, vm.throwTypeError("return called on a non-generator")
	}
	g.state = genCompleted
	v := argOrUndefined(args, 0)
	if g.isAsync {
		return g.settledResult(v, true)
	}
	return g.vm.newResultObject(v, true)
}

// resume drives the generator one step. Sync generators return the
// {value, done} record directly; async generators return a promise of it.
func (g *Generator) resume(sent value.Value, thrown *value.Value) (value.Value, error) {
	vm := g.vm
	if g.isAsync {
		return g.resumeAsync(sent, thrown)
	}
	switch g.state {
	case genCompleted:
		if thrown != nil {
			return value.Undefined, &ThrownValue{V: *thrown}
		}
		return vm.newResultObject(value.Undefined, true)
	case genRunning:
		return value.Undefined, vm.throwTypeError("generator is already running")
	}
	if g.state == genSuspendedStart && thrown != nil {
		g.state = genCompleted
		return value.Undefined, &ThrownValue{V: *thrown}
	}

	g.state = genRunning
	result, ctrl, err := vm.resumeFrame(g.frame, sent, thrown)
	if err != nil {
		g.state = genCompleted
		return value.Undefined, err
	}
	switch ctrl {
	case ctrlYield:
		g.state = genSuspendedYield
		return vm.newResultObject(result, false)
	case ctrlAwait:
		g.state = genCompleted
		return value.Undefined, vm.throwTypeError("await inside a non-async generator")
	default:
		g.state = genCompleted
		return vm.newResultObject(result, true)
	}
}

// settledResult boxes a promise already fulfilled with a {value, done}
// record, the shape every async-generator method resolves to.
func (g *Generator) settledResult(v value.Value, done bool) (value.Value, error) {
	vm := g.vm
	rec, err := vm.newResultObject(v, done)
	if err != nil {
		return value.Undefined, err
	}
	p := vm.NewPromise()
	pv, err := vm.BoxPromise(p)
	if err != nil {
		return value.Undefined, err
	}
	p.Resolve(rec)
	return pv, nil
}

// resumeAsync implements the async-generator protocol: each next() returns
// a promise; a Yield awaits the yielded value before producing it, and an
// Await chains the continuation through the awaited promise's settlement
// (spec.md §4.4 "An async generator combines both suspension mechanisms").
func (g *Generator) resumeAsync(sent value.Value, thrown *value.Value) (value.Value, error) {
	vm := g.vm
	p := vm.NewPromise()
	pv, err := vm.BoxPromise(p)
	if err != nil {
		return value.Undefined, err
	}
	if g.state == genCompleted {
		rec, err := vm.newResultObject(value.Undefined, true)
		if err != nil {
			return value.Undefined, err
		}
		p.Resolve(rec)
		return pv, nil
	}
	g.stepAsyncGen(p, sent, thrown)
	return pv, nil
}

func (g *Generator) stepAsyncGen(p *promise.Promise, sent value.Value, thrown *value.Value) {
	vm := g.vm
	vm.unparkFrame(g.frame)
	g.state = genRunning
	result, ctrl, err := vm.resumeFrame(g.frame, sent, thrown)
	if err != nil {
		g.state = genCompleted
		rejectWith(vm, p, err)
		return
	}
	switch ctrl {
	case ctrlYield:
		g.state = genSuspendedYield
		vm.parkFrame(g.frame)
		// Await the yielded value, then produce {value, done:false}. Once
		// the record settles the generator is idle again and the Generator
		// heap object is the frame's sole owner, so the park is released.
		vm.settle(result,
			func(v value.Value) {
				vm.unparkFrame(g.frame)
				rec, err := vm.newResultObject(v, false)
				if err != nil {
					p.Reject(vm.makeError("InternalError", err.Error()))
					return
				}
				p.Resolve(rec)
			},
			func(e value.Value) {
				vm.unparkFrame(g.frame)
				g.state = genCompleted
				p.Reject(e)
			})
	case ctrlAwait:
		vm.parkFrame(g.frame)
		vm.settle(result,
			func(v value.Value) { g.stepAsyncGen(p, v, nil) },
			func(e value.Value) { g.stepAsyncGen(p, value.Undefined, &e) })
	default:
		g.state = genCompleted
		rec, err := vm.newResultObject(result, true)
		if err != nil {
			p.Reject(vm.makeError("InternalError", err.Error()))
			return
		}
		p.Resolve(rec)
	}
}

// settle routes any Value through promise resolution — promises chain,
// thenables assimilate, plain values fulfill via a microtask — and invokes
// exactly one of the continuations at the settlement checkpoint.
func (vm *VM) settle(v value.Value, onFulfilled, onRejected func(value.Value)) {
	if p, ok := vm.AsPromise(v); ok {
		p.Then(
			func(res value.Value) (value.Value, error) { onFulfilled(res); return value.Undefined, nil },
			func(e value.Value) (value.Value, error) { onRejected(e); return value.Undefined, nil },
		)
		return
	}
	inner := vm.NewPromise()
	inner.Then(
		func(res value.Value) (value.Value, error) { onFulfilled(res); return value.Undefined, nil },
		func(e value.Value) (value.Value, error) { onRejected(e); return value.Undefined, nil },
	)
	inner.Resolve(v)
}

func rejectWith(vm *VM, p *promise.Promise, err error) {
	if tv, ok := err.(*ThrownValue); ok {
		p.Reject(tv.V)
		return
	}
	p.Reject(vm.makeError("InternalError", err.Error()))
}

// callAsync invokes an async closure: the body runs synchronously up to its
// first Await, and the returned promise settles when the state machine runs
// off the end or throws out (spec.md §9 Async mapping).
func (vm *VM) callAsync(c *Closure, this value.Value, args []value.Value) (value.Value, error) {
	p := vm.NewPromise()
	pv, err := vm.BoxPromise(p)
	if err != nil {
		return value.Undefined, err
	}
	frame := NewFrame(c, args, this)
	c.Fn.InvocationCount++
	vm.stepAsync(frame, p, value.Undefined, nil)
	return pv, nil
}

// stepAsync advances an async function frame until its next suspension or
// completion; each Await registers this same function as the continuation,
// resumed from the microtask queue at the awaited promise's settlement.
func (vm *VM) stepAsync(f *Frame, p *promise.Promise, sent value.Value, thrown *value.Value) {
	vm.unparkFrame(f)
	result, ctrl, err := vm.resumeFrame(f, sent, thrown)
	if err != nil {
		rejectWith(vm, p, err)
		return
	}
	switch ctrl {
	case ctrlAwait:
		vm.parkFrame(f)
		vm.settle(result,
			func(v value.Value) { vm.stepAsync(f, p, v, nil) },
			func(e value.Value) { vm.stepAsync(f, p, value.Undefined, &e) })
	case ctrlYield:
		rejectWith(vm, p, vm.throwTypeError("yield inside a non-generator async function"))
	default:
		p.Resolve(result)
	}
}
