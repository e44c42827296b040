// Package interpreter implements Otter's register-based bytecode
// interpreter (spec.md §4.4): the dispatch loop, call frames, exception
// handling, iteration, and the generator/async suspension model.
package interpreter

import (
	"sync"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Upvalue is a heap cell holding one Value under a mutex, shared by every
// closure that captured the same local (spec.md §3.5, §9 Cyclic
// references).
type Upvalue struct {
	mu sync.Mutex
	v  value.Value
}

func NewUpvalue(v value.Value) *Upvalue { return &Upvalue{v: v} }

func (u *Upvalue) Get() value.Value {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.v
}

func (u *Upvalue) Set(v value.Value) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.v = v
}

func (u *Upvalue) Trace(t *heap.Tracer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t.MarkValue(u.v)
}

// Closure owns a reference to its defining bytecode Function, its captured
// upvalues, async/generator flags, and the JS-visible function object
// carrying name/length/prototype (spec.md §3.5).
type Closure struct {
	Fn          *bytecode.Function
	Module      *bytecode.Module // owns the constant pool Fn's LoadConst/GetGlobal instructions index into
	Upvalues    []*Upvalue
	IsAsync     bool
	IsGenerator bool
	FuncObject  *object.Object
	// HomeObject backs `super` lookups in methods: set by OpSetHomeObject
	// when a method is installed on a class prototype or object literal
	// (spec.md §3.8's "optional home-object pointer").
	HomeObject *object.Object
}

func (c *Closure) Trace(t *heap.Tracer) {
	for _, uv := range c.Upvalues {
		uv.Trace(t)
	}
	if c.FuncObject != nil {
		t.MarkTraceable(c.FuncObject)
	}
	if c.HomeObject != nil {
		t.MarkTraceable(c.HomeObject)
	}
}

// TryHandler is one entry on a frame's exception-handler stack, pushed by
// TryStart and popped by TryEnd (spec.md §4.4 Exception handling).
type TryHandler struct {
	TargetPC int
}

// Frame is one activation record (spec.md §3.8).
type Frame struct {
	Closure    *Closure
	IP         int
	Registers  []value.Value
	Locals     []value.Value
	Args       []value.Value // the caller-supplied argument list, for OpCreateArguments
	This       value.Value
	HomeObject *object.Object // for `super`
	NewTarget  value.Value

	handlers []TryHandler

	// Suspension state for generators/async functions: when suspended, this
	// frame was parked by Yield/Await and resumes at IP with the sent value
	// written into resumeDst (spec.md §4.4 Generators and async, §9 Async
	// mapping).
	suspended bool
	resumeDst uint8
}

func NewFrame(c *Closure, args []value.Value, this value.Value) *Frame {
	f := &Frame{
		Closure:   c,
		Registers: make([]value.Value, c.Fn.RegisterCount),
		Locals:    make([]value.Value, c.Fn.LocalCount),
		Args:      args,
		This:      this,
		HomeObject: c.HomeObject,
	}
	for i := range f.Registers {
		f.Registers[i] = value.Undefined
	}
	for i, a := range args {
		if i < len(f.Locals) {
			f.Locals[i] = a
		}
	}
	return f
}

func (f *Frame) pushHandler(targetPC int) {
	f.handlers = append(f.handlers, TryHandler{TargetPC: targetPC})
}

func (f *Frame) popHandler() {
	if len(f.handlers) > 0 {
		f.handlers = f.handlers[:len(f.handlers)-1]
	}
}

// unwind pops the innermost handler and reports its target, or false if
// there is none left in this frame (the caller then propagates to the
// calling frame, per spec.md's cross-frame unwind).
func (f *Frame) unwind() (int, bool) {
	if len(f.handlers) == 0 {
		return 0, false
	}
	h := f.handlers[len(f.handlers)-1]
	f.handlers = f.handlers[:len(f.handlers)-1]
	return h.TargetPC, true
}

func (f *Frame) Trace(t *heap.Tracer) {
	for _, v := range f.Registers {
		t.MarkValue(v)
	}
	for _, v := range f.Locals {
		t.MarkValue(v)
	}
	for _, v := range f.Args {
		t.MarkValue(v)
	}
	t.MarkValue(f.This)
	t.MarkValue(f.NewTarget)
}
