package interpreter

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Well-known symbol keys. The core has no Symbol registry; the external
// compiler lowers Symbol.iterator/Symbol.asyncIterator property accesses to
// these reserved string keys, which cannot collide with source-level
// identifiers because of the "@@" prefix.
const (
	iteratorKey      = "@@iterator"
	asyncIteratorKey = "@@asyncIterator"
)

// newResultObject builds the {value, done} record IteratorNext and the
// generator protocol hand back.
func (vm *VM) newResultObject(v value.Value, done bool) (value.Value, error) {
	o := object.New()
	o.Set(shape.StringKey("value"), v)
	o.Set(shape.StringKey("done"), value.Bool(done))
	ref, err := vm.Heap.Alloc(value.KindObject, o)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindObject, ref), nil
}

// newArrayIterator mints an iterator object over an array's elements: a
// plain object whose `next` is a native closing over the array and a
// cursor. Arrays get this built-in path so for-of works without builtins
// installed; everything else goes through @@iterator.
func (vm *VM) newArrayIterator(arr *object.Object) (value.Value, error) {
	idx := 0
	nextVal, err := vm.RegisterNative("next", 0, func(vm *VM, this value.Value, args []value.Value) (value.Value, error) {
		if idx >= len(arr.Elements) {
			return vm.newResultObject(value.Undefined, true)
		}
		v := arr.Elements[idx]
		idx++
		return vm.newResultObject(v, false)
	})
	if err != nil {
		return value.Undefined, err
	}
	it := object.New()
	it.Set(shape.StringKey("next"), nextVal)
	ref, err := vm.Heap.Alloc(value.KindObject, it)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindObject, ref), nil
}

// getIterator resolves SrcA's iterator: arrays use the built-in element
// iterator, generators iterate themselves, and any object with a callable
// @@iterator property is asked for one (spec.md §4.4 "GetIterator invokes
// @@iterator").
func (vm *VM) getIterator(src value.Value, key string) (value.Value, error) {
	if src.IsPointer() {
		if k, _ := src.AsPointer(); k == value.KindGenerator {
			return src, nil // generators are their own iterators
		}
	}
	if obj, ok := vm.asObject(src); ok {
		if method, found := obj.Get(shape.StringKey(key), 0); found {
			return vm.invoke(method, src, nil)
		}
		if obj.Flags.IsArray {
			return vm.newArrayIterator(obj)
		}
	}
	return value.Undefined, vm.throwTypeError("value is not iterable")
}

func (vm *VM) execGetIterator(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	it, err := vm.getIterator(f.Registers[ins.SrcA], iteratorKey)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = it
	return value.Undefined, ctrlNext, nil
}

// execGetAsyncIterator prefers @@asyncIterator and falls back to the sync
// protocol (for-await over a sync iterable awaits each produced value).
func (vm *VM) execGetAsyncIterator(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	src := f.Registers[ins.SrcA]
	if obj, ok := vm.asObject(src); ok {
		if method, found := obj.Get(shape.StringKey(asyncIteratorKey), 0); found {
			it, err := vm.invoke(method, src, nil)
			if err != nil {
				return value.Undefined, ctrlNext, err
			}
			f.Registers[ins.Dst] = it
			return value.Undefined, ctrlNext, nil
		}
	}
	it, err := vm.getIterator(src, iteratorKey)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = it
	return value.Undefined, ctrlNext, nil
}

// execIteratorNext calls next() on the iterator in SrcA and writes the
// result's value into Dst and done into SrcB's register (spec.md §4.4:
// "IteratorNext calls next() and writes value and done into separate
// registers").
func (vm *VM) execIteratorNext(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	it := f.Registers[ins.SrcA]
	method, err := vm.lookupProperty(it, shape.StringKey("next"))
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	result, err := vm.invoke(method, it, nil)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	res, ok := vm.asObject(result)
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("iterator result is not an object")
	}
	v, _ := res.Get(shape.StringKey("value"), 0)
	done, _ := res.Get(shape.StringKey("done"), 0)
	f.Registers[ins.Dst] = v
	f.Registers[ins.SrcB] = value.Bool(toBool(done))
	return value.Undefined, ctrlNext, nil
}
