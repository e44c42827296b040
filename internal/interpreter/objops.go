package interpreter

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/microtask"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// makeError builds an ordinary error object with name and message data
// properties, per spec.md §4.11: error values are plain objects, tagged only
// by their `name`.
func (vm *VM) makeError(name, message string) value.Value {
	o := object.New()
	o.Set(shape.StringKey("name"), vm.boxString(name))
	o.Set(shape.StringKey("message"), vm.boxString(message))
	ref, err := vm.Heap.Alloc(value.KindObject, o)
	if err != nil {
		return value.Undefined
	}
	return value.Pointer(value.KindObject, ref)
}

// MakeError exposes makeError for builtins and the linker's dynamic-import
// hook, which reject promises with JS error objects rather than Go errors.
func (vm *VM) MakeError(name, message string) value.Value { return vm.makeError(name, message) }

// MakeErrorThrow wraps MakeError as a throwable Go error, the shape native
// functions return to raise a JS exception across the host-call boundary.
func (vm *VM) MakeErrorThrow(name, message string) error {
	return &ThrownValue{V: vm.makeError(name, message)}
}

// NewArrayValue allocates an array over the given elements, chained to the
// installed Array prototype.
func (vm *VM) NewArrayValue(elems []value.Value) (value.Value, error) {
	arr := object.NewArray()
	if vm.ArrayPrototype != nil {
		arr.Prototype = vm.ArrayPrototype
	}
	arr.AppendElements(elems...)
	ref, err := vm.Heap.Alloc(value.KindArray, arr)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindArray, ref), nil
}

// EnqueueMicrotask appends a job to this realm's microtask queue
// (queueMicrotask's backing, spec.md §5 Ordering). roots are the heap
// Values the job captures, kept live across a between-task collection.
func (vm *VM) EnqueueMicrotask(kind string, run func(), roots ...value.Value) {
	vm.Microtasks.Enqueue(microtask.Job{Kind: kind, Run: run, Roots: roots})
}

// throwTypeError is the shared "raise a JS TypeError from an opcode" path.
func (vm *VM) throwTypeError(message string) error {
	return &ThrownValue{V: vm.makeError("TypeError", message)}
}

// closureOf resolves a callable Value back to its *Closure, if it is one.
func (vm *VM) closureOf(v value.Value) (*Closure, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	k, ref := v.AsPointer()
	if k != value.KindClosure {
		return nil, false
	}
	c, ok := vm.Heap.Get(ref).(*Closure)
	return c, ok
}

// functionPrototype returns the object bound to a closure's `prototype`
// property, creating the function object and a fresh prototype on first
// use (spec.md §3.5: the attached function object carries name, length,
// prototype).
func (vm *VM) functionPrototype(c *Closure) (*object.Object, error) {
	if c.FuncObject == nil {
		fo := object.New()
		fo.Set(shape.StringKey("name"), vm.boxString(c.Fn.Name))
		fo.Set(shape.StringKey("length"), value.Int32(int32(c.Fn.ParamCount)))
		c.FuncObject = fo
	}
	if v, found := c.FuncObject.Get(shape.StringKey("prototype"), 0); found {
		if proto, ok := vm.asObject(v); ok {
			return proto, nil
		}
	}
	proto := object.New()
	ref, err := vm.Heap.Alloc(value.KindObject, proto)
	if err != nil {
		return nil, err
	}
	c.FuncObject.Set(shape.StringKey("prototype"), value.Pointer(value.KindObject, ref))
	return proto, nil
}

// Construct implements `new callee(...args)` (spec.md §4.4 Construct): a
// fresh object chained to the callee's prototype property becomes `this`;
// the callee's return value replaces it only when it is itself an object.
// Native callees construct by ordinary invocation, returning their own
// instance (the RegExp constructor's shape).
func (vm *VM) Construct(calleeVal value.Value, args []value.Value) (value.Value, error) {
	if c, ok := vm.closureOf(calleeVal); ok {
		proto, err := vm.functionPrototype(c)
		if err != nil {
			return value.Undefined, err
		}
		instance := object.New()
		instance.Prototype = proto
		ref, err := vm.Heap.Alloc(value.KindObject, instance)
		if err != nil {
			return value.Undefined, err
		}
		thisVal := value.Pointer(value.KindObject, ref)

		frame := NewFrame(c, args, thisVal)
		frame.NewTarget = calleeVal
		c.Fn.InvocationCount++
		result, err := vm.run(frame)
		if err != nil {
			return value.Undefined, err
		}
		if _, isObj := vm.asObject(result); isObj {
			return result, nil
		}
		return thisVal, nil
	}
	// Natives construct by calling; their result is the instance.
	return vm.invoke(calleeVal, value.Undefined, args)
}

func (vm *VM) execConstruct(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	callee := f.Registers[ins.SrcA]
	args := gatherArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.Construct(callee, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

func (vm *VM) execConstructSpread(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	callee := f.Registers[ins.SrcA]
	args := vm.gatherSpreadArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.Construct(callee, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

func (vm *VM) execCallSpread(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	callee := f.Registers[ins.SrcA]
	args := vm.gatherSpreadArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.invoke(callee, value.Undefined, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

// gatherSpreadArgs reads ArgCount argument registers following base, with
// the final register holding the spread array whose elements splice in
// place of it (the compiler lowers `f(a, ...rest)` to this layout).
func (vm *VM) gatherSpreadArgs(f *Frame, base, count int) []value.Value {
	if count == 0 {
		return nil
	}
	args := gatherArgs(f, base, count)
	last := args[count-1]
	if arr, ok := vm.asObject(last); ok && arr.Flags.IsArray {
		return append(args[:count-1], arr.Elements...)
	}
	return args
}

// execCallMethodComputed implements obj[expr](...): SrcA is the receiver,
// SrcB the computed key register; the method resolves through the same
// accessor-aware lookup as GetProp, then invokes with the receiver bound.
func (vm *VM) execCallMethodComputed(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	this := f.Registers[ins.SrcA]
	key := vm.keyFromValue(f.Registers[ins.SrcB])
	callee, err := vm.lookupProperty(this, key)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	args := gatherArgs(f, int(ins.SrcA), int(ins.ArgCount))
	result, err := vm.invoke(callee, this, args)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = result
	return value.Undefined, ctrlNext, nil
}

// execInstanceOf walks SrcA's prototype chain looking for SrcB's prototype
// object (spec.md §4.4). A non-callable right operand is a TypeError.
func (vm *VM) execInstanceOf(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	ctor, ok := vm.closureOf(f.Registers[ins.SrcB])
	if !ok {
		if f.Registers[ins.SrcB].IsPointer() {
			if k, _ := f.Registers[ins.SrcB].AsPointer(); k == value.KindNative {
				// Natives have no prototype object in this build; nothing is
				// an instance of them.
				f.Registers[ins.Dst] = value.False
				return value.Undefined, ctrlNext, nil
			}
		}
		return value.Undefined, ctrlNext, vm.throwTypeError("right-hand side of instanceof is not callable")
	}
	proto, err := vm.functionPrototype(ctor)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	obj, isObj := vm.asObject(f.Registers[ins.SrcA])
	if !isObj {
		f.Registers[ins.Dst] = value.False
		return value.Undefined, ctrlNext, nil
	}
	found := false
	for p, depth := obj.Prototype, 0; p != nil && depth < object.DefaultPrototypeDepth; p, depth = p.Prototype, depth+1 {
		if p == proto {
			found = true
			break
		}
	}
	f.Registers[ins.Dst] = value.Bool(found)
	return value.Undefined, ctrlNext, nil
}

// execIn implements `key in obj`: own properties, indexed elements, and the
// prototype chain all count (spec.md §4.4).
func (vm *VM) execIn(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	obj, ok := vm.asObject(f.Registers[ins.SrcB])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("cannot use 'in' operator on a non-object")
	}
	key := vm.keyFromValue(f.Registers[ins.SrcA])
	_, found := obj.Get(key, 0)
	f.Registers[ins.Dst] = value.Bool(found)
	return value.Undefined, ctrlNext, nil
}

// execDefineProperty installs an own data descriptor without triggering
// setters, the lowering for object-literal and class-field definitions.
func (vm *VM) execDefineProperty(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	obj, ok := vm.asObject(f.Registers[ins.SrcA])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("cannot define property on a non-object")
	}
	key := shape.StringKey(vm.constString(f, ins.ConstIdx))
	err := obj.DefineProperty(key, object.Descriptor{
		Value: f.Registers[ins.SrcB], Writable: true, Enumerable: true, Configurable: true,
	})
	if err != nil {
		return value.Undefined, ctrlNext, &ThrownValue{V: vm.makeError("TypeError", err.Error())}
	}
	return value.Undefined, ctrlNext, nil
}

// execDefineAccessor installs or extends an accessor descriptor: a getter
// and setter defined for the same key merge into one get/set pair.
func (vm *VM) execDefineAccessor(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	obj, ok := vm.asObject(f.Registers[ins.SrcA])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("cannot define accessor on a non-object")
	}
	key := shape.StringKey(vm.constString(f, ins.ConstIdx))
	desc := object.Descriptor{IsAccessor: true, Get: value.Undefined, Set: value.Undefined, Enumerable: true, Configurable: true}
	if existing, found := obj.DescriptorForKey(key); found && existing.IsAccessor {
		desc = existing
	}
	if ins.Op == bytecode.OpDefineGetter {
		desc.Get = f.Registers[ins.SrcB]
	} else {
		desc.Set = f.Registers[ins.SrcB]
	}
	if err := obj.DefineProperty(key, desc); err != nil {
		return value.Undefined, ctrlNext, &ThrownValue{V: vm.makeError("TypeError", err.Error())}
	}
	return value.Undefined, ctrlNext, nil
}

// execSpread appends SrcB's elements onto the target array in SrcA's
// register, the element-splicing half of `[a, ...rest]` literals.
func (vm *VM) execSpread(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	target, ok := vm.asObject(f.Registers[ins.SrcA])
	if !ok || !target.Flags.IsArray {
		return value.Undefined, ctrlNext, vm.throwTypeError("spread target is not an array")
	}
	src, ok := vm.asObject(f.Registers[ins.SrcB])
	if !ok {
		return value.Undefined, ctrlNext, vm.throwTypeError("spread source is not iterable")
	}
	target.AppendElements(src.Elements...)
	return value.Undefined, ctrlNext, nil
}

// execCreateArguments materializes the frame's caller-supplied argument
// list as an array (spec.md §4.4 CreateArguments). The full ECMAScript
// mapped-arguments object is out of scope; an array with `length` via the
// elements vector covers the observable surface this core targets.
func (vm *VM) execCreateArguments(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	arr := object.NewArray()
	if vm.ArrayPrototype != nil {
		arr.Prototype = vm.ArrayPrototype
	}
	arr.AppendElements(f.Args...)
	ref, err := vm.Heap.Alloc(value.KindArray, arr)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = value.Pointer(value.KindArray, ref)
	return value.Undefined, ctrlNext, nil
}

// execImport dispatches dynamic import through the linker-installed hook
// (spec.md §4.7 "Dynamic import"); without a module system attached the
// opcode throws NotFound.
func (vm *VM) execImport(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	specifier := vm.constString(f, ins.ConstIdx)
	if vm.ImportHook == nil {
		return value.Undefined, ctrlNext, otterrors.New(otterrors.NotFound, "no module loader attached for import of "+specifier)
	}
	v, err := vm.ImportHook(specifier)
	if err != nil {
		return value.Undefined, ctrlNext, err
	}
	f.Registers[ins.Dst] = v
	return value.Undefined, ctrlNext, nil
}

// execExport writes a named export onto the evaluating module's namespace,
// which the linker passes as the entry function's `this` (spec.md §4.7's
// factory receives an exports record). Outside a module evaluation, exports
// land on the global object.
func (vm *VM) execExport(f *Frame, ins bytecode.Instruction) (value.Value, control, error) {
	name := vm.constString(f, ins.ConstIdx)
	if ns, ok := vm.asObject(f.This); ok {
		ns.Set(shape.StringKey(name), f.Registers[ins.SrcA])
	} else {
		vm.Global.Set(shape.StringKey(name), f.Registers[ins.SrcA])
	}
	return value.Undefined, ctrlNext, nil
}
