package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/ic"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

func runMain(t *testing.T, fn *bytecode.Function) (value.Value, error) {
	t.Helper()
	fn.SizeFeedback()
	m := bytecode.NewModule()
	m.AddFunction(fn)
	vm := NewVM()
	c := &Closure{Fn: fn, Module: m}
	return vm.Call(c, value.Undefined, nil)
}

// TestArithmeticLoopSumsOneToTen implements a hand-assembled version of the
// canonical "sum 1..10" loop: r0 accumulator, r1 loop counter, r2 the
// constant 10, r3 the comparison result, r4 the literal 1.
func TestArithmeticLoopSumsOneToTen(t *testing.T) {
	fn := bytecode.NewFunction("sum", 0, 0, 5)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadInt8, Dst: 0, ImmI8: 0},  // r0 = 0 (sum)
		{Op: bytecode.OpLoadInt8, Dst: 1, ImmI8: 1},  // r1 = 1 (i)
		{Op: bytecode.OpLoadInt8, Dst: 2, ImmI8: 10}, // r2 = 10
		{Op: bytecode.OpLoadInt8, Dst: 4, ImmI8: 1},  // r4 = 1
		// loop head (index 4): if i > 10 goto end (index 9, the Return)
		{Op: bytecode.OpGt, Dst: 3, SrcA: 1, SrcB: 2},
		{Op: bytecode.OpJumpIfTrue, SrcA: 3, JumpOffset: 3}, // target = 5+1+3 = 9
		{Op: bytecode.OpAdd, Dst: 0, SrcA: 0, SrcB: 1},      // sum += i
		{Op: bytecode.OpAdd, Dst: 1, SrcA: 1, SrcB: 4},      // i++
		{Op: bytecode.OpJump, JumpOffset: -5},               // index 8: target = 8+1-5 = 4 (loop head)
		{Op: bytecode.OpReturn, SrcA: 0},
	}

	result, err := runMain(t, fn)
	require.NoError(t, err)
	require.True(t, result.IsDouble())
	require.Equal(t, float64(55), result.AsDouble())
}

func TestStringConcatenationViaAdd(t *testing.T) {
	fn := bytecode.NewFunction("concat", 0, 0, 2)
	m := bytecode.NewModule()
	fooIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "foo"})
	barIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "bar"})
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadConst, Dst: 0, ConstIdx: fooIdx},
		{Op: bytecode.OpLoadConst, Dst: 1, ConstIdx: barIdx},
		{Op: bytecode.OpAdd, Dst: 0, SrcA: 0, SrcB: 1},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	vm := NewVM()
	c := &Closure{Fn: fn, Module: m}
	result, err := vm.Call(c, value.Undefined, nil)
	require.NoError(t, err)
	require.True(t, result.IsPointer())
	require.Equal(t, "foobar", vm.toGoString(result))
}

// TestGetSetPropWarmsInlineCache implements spec.md §8 scenario 5's property
// access half: repeated GetProp on the same shape should resolve via the
// cache on its second hit.
func TestGetSetPropWarmsInlineCache(t *testing.T) {
	vm := NewVM()
	o := object.New()
	o.Set(shape.StringKey("x"), value.Int32(42))
	ref, err := vm.Heap.Alloc(value.KindObject, o)
	require.NoError(t, err)
	objVal := value.Pointer(value.KindObject, ref)

	fn := bytecode.NewFunction("getX", 0, 0, 2)
	m := bytecode.NewModule()
	xIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "x"})
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpGetPropConst, Dst: 1, SrcA: 0, ConstIdx: xIdx, ICIndex: 0},
		{Op: bytecode.OpGetPropConst, Dst: 1, SrcA: 0, ConstIdx: xIdx, ICIndex: 0},
		{Op: bytecode.OpReturn, SrcA: 1},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	c := &Closure{Fn: fn, Module: m}
	frame := NewFrame(c, nil, value.Undefined)
	frame.Registers[0] = objVal

	result, err := vm.run(frame)
	require.NoError(t, err)
	require.Equal(t, int32(42), result.AsInt32())
	require.Equal(t, 1, len(fn.PropCaches))
	require.Equal(t, ic.Monomorphic, fn.PropCaches[0].State())
}

// TestBinaryOpFeedbackLadder drives one cache-bearing Add site through
// int32×int32, then f64×f64, observing the Uninitialized → Monomorphic →
// Polymorphic ladder (spec.md §4.4 Feedback collection).
func TestBinaryOpFeedbackLadder(t *testing.T) {
	fn := bytecode.NewFunction("fb", 0, 0, 3)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpAdd, Dst: 2, SrcA: 0, SrcB: 1, ICIndex: 0},
		{Op: bytecode.OpReturn, SrcA: 2},
	}
	fn.SizeFeedback()
	m := bytecode.NewModule()
	m.AddFunction(fn)
	vm := NewVM()
	c := &Closure{Fn: fn, Module: m}

	require.Equal(t, bytecode.FeedbackUninitialized, fn.Feedback[0].State)

	f1 := NewFrame(c, nil, value.Undefined)
	f1.Registers[0], f1.Registers[1] = value.Int32(1), value.Int32(2)
	_, err := vm.run(f1)
	require.NoError(t, err)
	require.Equal(t, bytecode.FeedbackMonomorphic, fn.Feedback[0].State)

	f2 := NewFrame(c, nil, value.Undefined)
	f2.Registers[0], f2.Registers[1] = value.Double(1.5), value.Double(2.5)
	_, err = vm.run(f2)
	require.NoError(t, err)
	require.Equal(t, bytecode.FeedbackPolymorphic, fn.Feedback[0].State)
}

func TestThrowCaughtWithinSameFrame(t *testing.T) {
	fn := bytecode.NewFunction("tryCatch", 0, 0, 3)
	m := bytecode.NewModule()
	msgIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "boom"})
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpTryStart, JumpOffset: 2}, // handler at IP 0+1+2 = 3
		{Op: bytecode.OpLoadConst, Dst: 0, ConstIdx: msgIdx},
		{Op: bytecode.OpThrow, SrcA: 0},
		{Op: bytecode.OpCatch, Dst: 1}, // IP 3: catch lands here
		{Op: bytecode.OpReturn, SrcA: 1},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	vm := NewVM()
	c := &Closure{Fn: fn, Module: m}
	result, err := vm.Call(c, value.Undefined, nil)
	require.NoError(t, err)
	require.True(t, result.IsPointer())
	require.Equal(t, "boom", vm.toGoString(result))
}

func TestUncaughtThrowPropagatesAsError(t *testing.T) {
	fn := bytecode.NewFunction("throws", 0, 0, 1)
	m := bytecode.NewModule()
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadInt8, Dst: 0, ImmI8: 7},
		{Op: bytecode.OpThrow, SrcA: 0},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	vm := NewVM()
	c := &Closure{Fn: fn, Module: m}
	_, err := vm.Call(c, value.Undefined, nil)
	require.Error(t, err)
	var tv *ThrownValue
	require.ErrorAs(t, err, &tv)
}

// TestCallInvokesClosure wires two functions together: the callee doubles
// its single argument, the caller invokes it via OpCall.
func TestCallInvokesClosure(t *testing.T) {
	m := bytecode.NewModule()

	callee := bytecode.NewFunction("double", 1, 1, 2)
	callee.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpGetLocal, Dst: 0, LocalIdx: 0},
		{Op: bytecode.OpLoadInt8, Dst: 1, ImmI8: 2},
		{Op: bytecode.OpMul, Dst: 0, SrcA: 0, SrcB: 1},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	callee.SizeFeedback()
	calleeIdx := m.AddFunction(callee)
	fnConstIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstFunction, FnIdx: calleeIdx})

	caller := bytecode.NewFunction("main", 0, 0, 3)
	caller.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadConst, Dst: 0, ConstIdx: fnConstIdx}, // r0 = callee closure
		{Op: bytecode.OpLoadInt8, Dst: 1, ImmI8: 21},             // r1 = arg
		{Op: bytecode.OpCall, Dst: 2, SrcA: 0, ArgCount: 1},
		{Op: bytecode.OpReturn, SrcA: 2},
	}
	caller.SizeFeedback()
	m.AddFunction(caller)

	vm := NewVM()
	c := &Closure{Fn: caller, Module: m}
	result, err := vm.Call(c, value.Undefined, nil)
	require.NoError(t, err)
	require.True(t, result.IsDouble())
	require.Equal(t, float64(42), result.AsDouble())
}
