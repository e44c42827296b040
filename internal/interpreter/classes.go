package interpreter

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// execDefineClass mints a class: a constructor closure over FuncIdx whose
// prototype object is pre-created and, when SrcA holds a superclass,
// chained to the superclass's prototype; the constructor function object
// itself chains to the superclass function object so static members inherit
// (spec.md §4.4 DefineClass).
func (vm *VM) execDefineClass(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	fn := f.Closure.Module.Functions[ins.FuncIdx]
	ctor := &Closure{Fn: fn, Module: f.Closure.Module}

	proto, err := vm.functionPrototype(ctor)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	ctor.HomeObject = proto

	superVal := f.Registers[ins.SrcA]
	if !superVal.IsNullish() {
		superCtor, ok := vm.closureOf(superVal)
		if !ok {
			return value.Undefined, ctrlNext, vm.throwTypeError("class extends value is not a constructor")
		}
		superProto, err := vm.functionPrototype(superCtor)
		if err != nil {
			return value.Undefined, ctrlNext, err
		}
		proto.Prototype = superProto
		ctor.FuncObject.Prototype = superCtor.FuncObject
		if err := proto.DefineProperty(shape.StringKey("@@super"), object.Descriptor{Value: superVal}); err != nil {
			return value.Undefined, ctrlNext, err
		}
	}

	ref, err := vm.Heap.Alloc(value.KindClosure, ctor)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	ctorVal := value.Pointer(value.KindClosure, ref)
	if err := proto.DefineProperty(shape.StringKey("constructor"), object.Descriptor{Value: ctorVal, Writable: true, Configurable: true}); err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = ctorVal
	return value.Undefined, ctrlNext, nil
}

// execSetHomeObject binds a method closure (SrcA) to its defining prototype
// or object literal (SrcB), enabling `super` inside it (spec.md §3.8).
func (vm *VM) execSetHomeObject(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	c, ok := vm.closureOf(f.Registers[ins.SrcA])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("cannot set home object on a non-closure")
	}
	home, ok := vm.asObject(f.Registers[ins.SrcB])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("home object must be an object")
	}
	c.HomeObject = home
	return value.Undefined, ctrlNext, nil
}

// execGetSuper loads the home object's prototype as a Value, the receiver
// for super-property stores the compiler cannot express as GetSuperProp.
func (vm *VM) execGetSuper(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	if f.HomeObject == nil || f.HomeObject.Prototype == nil {
		return value.Undefined, ctrlNext, vm.throwTypeError("'super' used outside a method with a superclass")
	}
	ref, err := vm.Heap.Alloc(value.KindObject, f.HomeObject.Prototype)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = value.Pointer(value.KindObject, ref)
	return value.Undefined, ctrlNext, nil
}

// execGetSuperProp reads a named property starting the lookup at the home
// object's prototype, with `this` still bound to the current receiver —
// exactly the [[HomeObject]] semantics `super.x` requires.
func (vm *VM) execGetSuperProp(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	if f.HomeObject == nil || f.HomeObject.Prototype == nil {
		return value.Undefined, ctrlNext, vm.throwTypeError("'super' used outside a method with a superclass")
	}
	key := shape.StringKey(vm.constString(f, ins.ConstIdx))
	start := f.HomeObject.Prototype
	d, found := start.DescriptorForKey(key)
	if !found {
		v, getOK := start.Get(key, 0)
		if !getOK {
			v = value.Undefined
		}
		f.Registers[ins.Dst] = v
		return value.Undefined, ctrlNext, nil
	}
	if d.IsAccessor {
		if d.Get == value.Undefined {
			f.Registers[ins.Dst] = value.Undefined
			return value.Undefined, ctrlNext, nil
		}
		v, err := vm.invoke(d.Get, f.This, nil)
		if err != nil {
			return value.Undefined, ctrlNext, err
		}
		f.Registers[ins.Dst] = v
		return value.Undefined, ctrlNext, nil
	}
	f.Registers[ins.Dst] = d.Value
	return value.Undefined, ctrlNext, nil
}

// execCallSuper invokes the superclass constructor with the current `this`
// (spec.md §4.4 CallSuper). The superclass is recorded on the prototype at
// DefineClass time under a reserved key, since a frame's home object alone
// does not identify the constructor function.
func (vm *VM) execCallSuper(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	if f.HomeObject == nil {
		return value.Undefined, ctrlNext, vm.throwTypeError("'super' called outside a constructor")
	}
	superVal, found := f.HomeObject.Get(shape.StringKey("@@super"), 0)
	if !found || superVal.IsNullish() {
		return value.Undefined, ctrlNext, vm.throwTypeError("'super' called in a class with no superclass")
	}
	superCtor, ok := vm.closureOf(superVal)
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("superclass is not a constructor")
	}
	args := gatherArgs(f, int(ins.SrcA), int(ins.ArgCount))
	frame := NewFrame(superCtor, args, f.This)
	frame.NewTarget = f.NewTarget
	superCtor.Fn.InvocationCount++
	result, err := vm.run(frame)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}
