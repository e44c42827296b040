package interpreter

import (
	"strconv"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/ic"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/strvalue"
	"github.com/octofhir/otter-sub002/internal/value"
)

// asObject resolves a heap-pointer Value carrying an Object or Array kind
// back to its *object.Object payload.
func (vm *VM) asObject(v value.Value) (*object.Object, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	k, ref := v.AsPointer()
	if k != value.KindObject && k != value.KindArray {
		return nil, false
	}
	o, ok := vm.Heap.Get(ref).(*object.Object)
	return o, ok
}

// primitivePrototype returns the fixed prototype object a non-Object Value
// resolves method lookups against, or nil if v's kind has no prototype
// wired (spec.md §4.12's builtins are the only source of these; there is
// no general primitive-wrapper-object boxing in this build).
func (vm *VM) primitivePrototype(v value.Value) *object.Object {
	if !v.IsPointer() {
		return nil
	}
	k, _ := v.AsPointer()
	switch k {
	case value.KindRegExp:
		return vm.RegExpPrototype
	case value.KindPromise:
		return vm.PromisePrototype
	case value.KindGenerator:
		return vm.GeneratorPrototype
	default:
		return nil
	}
}

// lookupProperty is the accessor-aware property read shared by GetProp and
// the computed method-call path: it walks the receiver's own slots,
// elements, and prototype chain, invoking a getter with the original
// receiver bound when the resolved descriptor is an accessor (spec.md §4.3).
func (vm *VM) lookupProperty(receiver value.Value, key shape.Key) (value.Value, error) {
	obj, ok := vm.asObject(receiver)
	if !ok {
		if proto := vm.primitivePrototype(receiver); proto != nil {
			obj = proto
		} else {
			return value.Undefined, vm.throwTypeError("cannot read property of non-object")
		}
	}
	for o, depth := obj, 0; o != nil && depth < object.DefaultPrototypeDepth; o, depth = o.Prototype, depth+1 {
		if key.IsIndex() && o.Flags.IsArray {
			if idx := key.Index(); int(idx) < len(o.Elements) {
				return o.Elements[idx], nil
			}
		}
		d, found := o.DescriptorForKey(key)
		if !found {
			continue
		}
		if d.IsAccessor {
			if d.Get == value.Undefined {
				return value.Undefined, nil
			}
			return vm.invoke(d.Get, receiver, nil)
		}
		return d.Value, nil
	}
	return value.Undefined, nil
}

// AsObject exposes asObject to other packages (builtins, hostabi) that
// need to reach into a Value's underlying *object.Object, e.g. to implement
// Array.prototype methods natively.
func (vm *VM) AsObject(v value.Value) (*object.Object, bool) {
	return vm.asObject(v)
}

// BoxString exposes boxString so native functions can return JS strings.
func (vm *VM) BoxString(s string) value.Value {
	return vm.boxString(s)
}

// keyFromValue converts a computed property-key operand (GetProp/SetProp's
// key register) to a shape.Key, resolving boxed strings and numbers the way
// ToPropertyKey does (spec.md §4.3).
func (vm *VM) keyFromValue(v value.Value) shape.Key {
	switch {
	case v.IsInt32():
		n := v.AsInt32()
		if n >= 0 {
			return shape.IndexKey(uint32(n))
		}
		return shape.StringKey(strconv.FormatInt(int64(n), 10))
	case v.IsDouble():
		return shape.StringKey(strconv.FormatFloat(v.AsDouble(), 'g', -1, 64))
	case v.IsPointer():
		k, ref := v.AsPointer()
		if k == value.KindString {
			if s, ok := vm.Heap.Get(ref).(*strvalue.String); ok {
				return shape.StringKey(s.Go())
			}
		}
	}
	return shape.StringKey(v.TypeOf())
}

// cacheFor resolves the PropertyCache slot an instruction's ICIndex
// addresses, or nil if the instruction carries no cache (spec.md §4.5).
func (vm *VM) cacheFor(f *Frame, ins bytecode.Instruction) *ic.PropertyCache {
	fn := f.Closure.Fn
	if !ins.Op.IsCacheBearing() || int(ins.ICIndex) >= len(fn.PropCaches) {
		return nil
	}
	return &fn.PropCaches[ins.ICIndex]
}

func (vm *VM) execGetProp(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	objVal := f.Registers[ins.SrcA]
	obj, ok := vm.asObject(objVal)
	if !ok {
		// Primitive receivers (RegExp, eventually String/Number) still
		// resolve methods through a fixed prototype object rather than the
		// full wrapper-object boxing ECMAScript specifies in full — spec.md
		// §1 treats builtin conformance as best-effort, so method lookup on
		// a RegExp Value reads straight from vm.RegExpPrototype.
		if proto := vm.primitivePrototype(objVal); proto != nil {
			var key shape.Key
			if ins.Op == bytecode.OpGetPropConst {
				key = shape.StringKey(vm.constString(f, ins.ConstIdx))
			} else {
				key = vm.keyFromValue(f.Registers[ins.SrcB])
			}
			v, found := proto.Get(key, 0)
			if !found {
				v = value.Undefined
			}
			f.Registers[ins.Dst] = v
			return value.Undefined, ctrlNext, nil
		}
		return value.Undefined, ctrlNext, otterrors.New(otterrors.Type, "cannot read property of non-object")
	}

	var key shape.Key
	switch ins.Op {
	case bytecode.OpGetPropConst:
		key = shape.StringKey(vm.constString(f, ins.ConstIdx))
	default:
		key = vm.keyFromValue(f.Registers[ins.SrcB])
	}

	cache := vm.cacheFor(f, ins)
	if cache != nil {
		if off, ok := cache.Lookup(obj.Shape()); ok {
			d, ok := obj.DescriptorAt(off)
			if ok && !d.IsAccessor {
				f.Registers[ins.Dst] = d.Value
				return value.Undefined, ctrlNext, nil
			}
		}
	}

	v, err := vm.lookupProperty(objVal, key)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	if cache != nil {
		if off, ok := obj.Shape().GetOffset(key); ok {
			if d, found := obj.DescriptorAt(off); found && !d.IsAccessor {
				cache.Record(obj.Shape(), off)
			}
		}
	}
	f.Registers[ins.Dst] = v
	return value.Undefined, ctrlNext, nil
}

func (vm *VM) execSetProp(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	objVal := f.Registers[ins.SrcA]
	obj, ok := vm.asObject(objVal)
	if !ok {
		return value.Undefined, ctrlNext, otterrors.New(otterrors.Type, "cannot set property of non-object")
	}

	var key shape.Key
	var v value.Value
	switch ins.Op {
	case bytecode.OpSetPropConst:
		key = shape.StringKey(vm.constString(f, ins.ConstIdx))
		v = f.Registers[ins.SrcB]
	default:
		key = vm.keyFromValue(f.Registers[ins.SrcB])
		v = f.Registers[ins.Dst]
	}

	// An accessor setter anywhere on the receiver or its chain intercepts
	// the write (spec.md §4.3 "the setter on a prototype-chain accessor
	// descriptor is honored"); object.Set only handles raw data slots.
	for o, depth := obj, 0; o != nil && depth < object.DefaultPrototypeDepth; o, depth = o.Prototype, depth+1 {
		if d, found := o.DescriptorForKey(key); found {
			if d.IsAccessor {
				if d.Set == value.Undefined {
					return value.Undefined, ctrlNext, nil
				}
				if _, err := vm.invoke(d.Set, objVal, []value.Value{v}); err != nil {
					return value.Undefined, ctrlNext, err
				}
				return value.Undefined, ctrlNext, nil
			}
			break // nearest descriptor is data; fall through to the plain write
		}
	}
	obj.Set(key, v)

	if cache := vm.cacheFor(f, ins); cache != nil {
		if off, ok := obj.Shape().GetOffset(key); ok {
			cache.Record(obj.Shape(), off)
		}
	}
	return value.Undefined, ctrlNext, nil
}

func (vm *VM) execDeleteProp(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	objVal := f.Registers[ins.SrcA]
	obj, ok := vm.asObject(objVal)
	if !ok {
		return value.Undefined, ctrlNext, otterrors.New(otterrors.Type, "cannot delete property of non-object")
	}
	key := shape.StringKey(vm.constString(f, ins.ConstIdx))
	f.Registers[ins.Dst] = value.Bool(obj.Delete(key))
	return value.Undefined, ctrlNext, nil
}

// execForInNext advances a for-in enumeration: integer indices ascending,
// then string keys in insertion order, symbols excluded (spec.md §4.4
// ForInNext, §9 Open questions resolved in DESIGN.md). SrcA holds the
// object and ImmI32 the cursor index; the op does not advance the cursor.
// Dst receives the key at the cursor as a boxed string. Once the cursor is
// past the last key, Dst receives Undefined and control jumps by
// JumpOffset. A non-object in SrcA yields Undefined without a jump.
func (vm *VM) execForInNext(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	objVal := f.Registers[ins.SrcA]
	obj, ok := vm.asObject(objVal)
	if !ok {
		f.Registers[ins.Dst] = value.Undefined
		return value.Undefined, ctrlNext, nil
	}
	cursor := int(ins.ImmI32)
	keys := enumerableOwnKeys(obj)
	if cursor >= len(keys) {
		f.Registers[ins.Dst] = value.Undefined
		f.IP += int(ins.JumpOffset) + 1
		return value.Undefined, ctrlJump, nil
	}
	f.Registers[ins.Dst] = vm.boxString(keys[cursor].String())
	return value.Undefined, ctrlNext, nil
}

// enumerableOwnKeys filters OwnKeys down to the for-in-visible set: Object's
// OwnKeys already orders indices before string keys in insertion order, so
// this only needs to drop non-enumerable entries.
func enumerableOwnKeys(o *object.Object) []shape.Key {
	var out []shape.Key
	for _, k := range o.OwnKeys() {
		if d, ok := o.DescriptorForKey(k); ok && d.Enumerable {
			out = append(out, k)
		} else if k.IsIndex() {
			out = append(out, k) // array elements are always enumerable
		}
	}
	return out
}
