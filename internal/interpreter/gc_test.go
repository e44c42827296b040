package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

func TestCollectPreservesGlobalsAndReclaimsGarbage(t *testing.T) {
	vm := NewVM()

	kept := object.New()
	kept.Set(shape.StringKey("x"), value.Int32(1))
	keptRef, err := vm.Heap.Alloc(value.KindObject, kept)
	require.NoError(t, err)
	vm.Global.Set(shape.StringKey("kept"), value.Pointer(value.KindObject, keptRef))

	orphanRef, err := vm.Heap.Alloc(value.KindObject, object.New())
	require.NoError(t, err)

	reclaimed := vm.Collect()
	require.GreaterOrEqual(t, reclaimed, 1)
	require.Nil(t, vm.Heap.Get(orphanRef))
	require.NotNil(t, vm.Heap.Get(keptRef))

	v, found := vm.Global.Get(shape.StringKey("kept"), 0)
	require.True(t, found)
	got, ok := vm.asObject(v)
	require.True(t, ok)
	x, _ := got.Get(shape.StringKey("x"), 0)
	require.Equal(t, int32(1), x.AsInt32())
}

// TestCollectKeepsPrototypeChainAlive pins the review-caught hazard: an
// object reachable only as another object's Prototype must survive a
// collection.
func TestCollectKeepsPrototypeChainAlive(t *testing.T) {
	vm := NewVM()

	proto := object.New()
	proto.Set(shape.StringKey("inherited"), value.Int32(9))
	protoRef, err := vm.Heap.Alloc(value.KindObject, proto)
	require.NoError(t, err)

	child := object.New()
	child.Prototype = proto
	childRef, err := vm.Heap.Alloc(value.KindObject, child)
	require.NoError(t, err)
	vm.Global.Set(shape.StringKey("child"), value.Pointer(value.KindObject, childRef))

	vm.Collect()
	require.NotNil(t, vm.Heap.Get(protoRef))

	v, found := child.Get(shape.StringKey("inherited"), 0)
	require.True(t, found)
	require.Equal(t, int32(9), v.AsInt32())
}

// TestCollectDuringCallKeepsFrameRegisters triggers a collection from
// inside a native call: every live Value sits in the calling frame's
// registers, which the frames root must keep alive.
func TestCollectDuringCallKeepsFrameRegisters(t *testing.T) {
	vm := NewVM()
	gcFn, err := vm.RegisterNative("gc", 0, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		vm.Collect()
		return value.Undefined, nil
	})
	require.NoError(t, err)

	m := bytecode.NewModule()
	strIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "survivor"})
	fn := bytecode.NewFunction("main", 0, 0, 3)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadConst, Dst: 0, ConstIdx: strIdx},
		{Op: bytecode.OpCall, Dst: 2, SrcA: 1, ArgCount: 0}, // r1 = gc native, seeded below
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	frame := NewFrame(&Closure{Fn: fn, Module: m}, nil, value.Undefined)
	frame.Registers[1] = gcFn
	result, err := vm.run(frame)
	require.NoError(t, err)
	require.Equal(t, "survivor", vm.toGoString(result))
}

// TestCollectWhileAsyncFrameSuspended collects while an async function is
// parked at an Await; the suspended frame's registers (holding the awaited
// promise) and the test-held result promise (rooted via a handle scope, the
// documented embedder discipline) must both survive.
func TestCollectWhileAsyncFrameSuspended(t *testing.T) {
	m, fn := makeAwaitFn()
	vm := NewVM()

	p := vm.NewPromise()
	pv, err := vm.BoxPromise(p)
	require.NoError(t, err)

	resultVal, err := vm.Call(&Closure{Fn: fn, Module: m, IsAsync: true}, value.Undefined, []value.Value{pv})
	require.NoError(t, err)

	scope := vm.Handles.OpenScope()
	scope.New(resultVal)
	vm.Collect()

	result, ok := vm.AsPromise(resultVal)
	require.True(t, ok)
	require.Equal(t, promise.Pending, result.State())

	p.Resolve(value.Int32(41))
	vm.Microtasks.Drain()
	require.Equal(t, promise.Fulfilled, result.State())
	require.Equal(t, float64(42), result.Value().AsDouble())
	scope.Close(vm.Handles)
}

// TestCollectKeepsPendingMicrotaskValues settles a promise, collects before
// the reaction drains, and checks the settled value captured by the queued
// job is still live when the handler finally runs.
func TestCollectKeepsPendingMicrotaskValues(t *testing.T) {
	vm := NewVM()

	p := vm.NewPromise()
	_, err := vm.BoxPromise(p)
	require.NoError(t, err)

	var got string
	p.Then(func(v value.Value) (value.Value, error) {
		got = vm.toGoString(v)
		return value.Undefined, nil
	}, nil)

	p.Resolve(vm.boxString("queued"))
	require.Greater(t, vm.Microtasks.Len(), 0)

	vm.Collect()
	vm.Microtasks.Drain()
	require.Equal(t, "queued", got)
}

// TestMaybeCollectHonorsThreshold only collects once allocation pressure
// crosses GCThreshold.
func TestMaybeCollectHonorsThreshold(t *testing.T) {
	vm := NewVM()
	vm.GCThreshold = 64

	before := vm.Heap.Stats().Collections
	vm.MaybeCollect()
	require.Equal(t, before, vm.Heap.Stats().Collections)

	for i := 0; i < 64; i++ {
		_, err := vm.Heap.Alloc(value.KindObject, object.New())
		require.NoError(t, err)
	}
	vm.MaybeCollect()
	require.Equal(t, before+1, vm.Heap.Stats().Collections)
}
