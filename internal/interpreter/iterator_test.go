package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// runIteratorSteps resolves src's iterator through OpGetIterator bytecode,
// then drives next() from Go so every step's {value, done} is observable.
func runIteratorSteps(t *testing.T, vm *VM, src value.Value, steps int) (values []value.Value, done value.Value) {
	t.Helper()
	get := bytecode.NewFunction("get", 0, 0, 2)
	get.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpGetIterator, Dst: 1, SrcA: 0},
		{Op: bytecode.OpReturn, SrcA: 1},
	}
	get.SizeFeedback()
	m := bytecode.NewModule()
	m.AddFunction(get)
	frame := NewFrame(&Closure{Fn: get, Module: m}, nil, value.Undefined)
	frame.Registers[0] = src
	it, err := vm.run(frame)
	require.NoError(t, err)

	nextFn, err := vm.lookupProperty(it, shape.StringKey("next"))
	require.NoError(t, err)
	for i := 0; i < steps; i++ {
		res, err := vm.InvokeCallable(nextFn, it, nil)
		require.NoError(t, err)
		resObj, ok := vm.asObject(res)
		require.True(t, ok)
		v, _ := resObj.Get(shape.StringKey("value"), 0)
		d, _ := resObj.Get(shape.StringKey("done"), 0)
		values = append(values, v)
		done = d
	}
	return values, done
}

func TestArrayIterationProducesElementsThenDone(t *testing.T) {
	vm := NewVM()
	arr := object.NewArray()
	arr.AppendElements(value.Int32(10), value.Int32(20))
	ref, err := vm.Heap.Alloc(value.KindArray, arr)
	require.NoError(t, err)

	values, done := runIteratorSteps(t, vm, value.Pointer(value.KindArray, ref), 3)
	require.Equal(t, int32(10), values[0].AsInt32())
	require.Equal(t, int32(20), values[1].AsInt32())
	require.Equal(t, value.Undefined, values[2])
	require.Equal(t, value.True, done)
}

func TestGetIteratorPrefersIteratorProtocolProperty(t *testing.T) {
	vm := NewVM()
	// A custom iterable whose @@iterator returns a one-shot iterator.
	emitted := false
	nextFn, err := vm.RegisterNative("next", 0, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		if emitted {
			return vm.newResultObject(value.Undefined, true)
		}
		emitted = true
		return vm.newResultObject(value.Int32(7), false)
	})
	require.NoError(t, err)
	iter := object.New()
	iter.Set(shape.StringKey("next"), nextFn)
	iterRef, err := vm.Heap.Alloc(value.KindObject, iter)
	require.NoError(t, err)

	iteratorFn, err := vm.RegisterNative(iteratorKey, 0, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		return value.Pointer(value.KindObject, iterRef), nil
	})
	require.NoError(t, err)

	iterable := object.New()
	iterable.Set(shape.StringKey(iteratorKey), iteratorFn)
	ref, err := vm.Heap.Alloc(value.KindObject, iterable)
	require.NoError(t, err)

	values, done := runIteratorSteps(t, vm, value.Pointer(value.KindObject, ref), 2)
	require.Equal(t, int32(7), values[0].AsInt32())
	require.Equal(t, value.True, done)
}

func TestGetIteratorOnNonIterableThrows(t *testing.T) {
	vm := NewVM()
	fn := bytecode.NewFunction("bad", 0, 0, 2)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadInt8, Dst: 0, ImmI8: 3},
		{Op: bytecode.OpGetIterator, Dst: 1, SrcA: 0},
		{Op: bytecode.OpReturn, SrcA: 1},
	}
	fn.SizeFeedback()
	m := bytecode.NewModule()
	m.AddFunction(fn)
	_, err := vm.Call(&Closure{Fn: fn, Module: m}, value.Undefined, nil)
	var tv *ThrownValue
	require.ErrorAs(t, err, &tv)
}
