// Package builtins implements the minimal set of intrinsics spec.md §8's
// end-to-end scenarios exercise: console.log, Object.keys,
// Array.prototype.push, RegExp, Promise (with then/catch/finally and
// queueMicrotask). Everything else (filesystem, buffer, events, node-test
// bindings) is explicitly out of scope per spec.md's Non-goals and left to
// the embedder via internal/hostabi.
package builtins

import (
	"strings"

	"github.com/octofhir/otter-sub002/internal/hostabi"
	"github.com/octofhir/otter-sub002/internal/intrinsics"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/otterlog"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Install registers Array.prototype, console, Object, RegExp, Promise (with
// its prototype), and queueMicrotask onto reg's VM.
// Each VM gets its own prototype objects (Install must be called once per
// VM/realm) so workers never share mutable builtin state across realms
// (spec.md §4.13 realm isolation).
func Install(reg *hostabi.Registry) error {
	vm := reg.VM()

	arrayProto := object.New()
	pushVal, err := vm.RegisterNative("push", 1, nativePush)
	if err != nil {
		return err
	}
	arrayProto.Set(shape.StringKey("push"), pushVal)
	vm.ArrayPrototype = arrayProto

	if err := installConsole(reg); err != nil {
		return err
	}
	if err := installObject(reg); err != nil {
		return err
	}
	if err := installRegExp(reg); err != nil {
		return err
	}
	if err := installPromise(reg); err != nil {
		return err
	}
	return nil
}

func installConsole(reg *hostabi.Registry) error {
	vm := reg.VM()
	console := object.New()
	logVal, err := vm.RegisterNative("log", 0, nativeConsoleLog)
	if err != nil {
		return err
	}
	console.Set(shape.StringKey("log"), logVal)
	ref, err := vm.Heap.Alloc(value.KindObject, console)
	if err != nil {
		return err
	}
	vm.Global.Set(shape.StringKey("console"), value.Pointer(value.KindObject, ref))
	return nil
}

func installObject(reg *hostabi.Registry) error {
	vm := reg.VM()
	ns := object.New()
	keysVal, err := vm.RegisterNative("keys", 1, nativeObjectKeys)
	if err != nil {
		return err
	}
	ns.Set(shape.StringKey("keys"), keysVal)
	ref, err := vm.Heap.Alloc(value.KindObject, ns)
	if err != nil {
		return err
	}
	vm.Global.Set(shape.StringKey("Object"), value.Pointer(value.KindObject, ref))
	return nil
}

func nativeConsoleLog(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = vm.ToGoString(a)
	}
	otterlog.Named("console").Sugar().Info(strings.Join(parts, " "))
	return value.Undefined, nil
}

// nativePush implements Array.prototype.push. True arrays take the
// indexed-elements fast path; any other receiver gets the length-based
// generic semantics (spec.md §8 scenario 5: push.call({length:0}, 1, 2)
// writes properties 0 and 1 and bumps length to 2 — never touching the
// elements vector).
func nativePush(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	obj, ok := vm.AsObject(this)
	if !ok {
		return value.Undefined, otterrors.New(otterrors.Type, "Array.prototype.push called on non-object")
	}
	if obj.Flags.IsArray {
		n := obj.AppendElements(args...)
		return value.Double(float64(n)), nil
	}
	length := 0
	if lv, found := obj.Get(shape.StringKey("length"), 0); found {
		if lv.IsInt32() {
			length = int(lv.AsInt32())
		} else if lv.IsDouble() {
			length = int(lv.AsDouble())
		}
	}
	for _, a := range args {
		obj.Set(shape.IndexKey(uint32(length)), a)
		length++
	}
	obj.Set(shape.StringKey("length"), value.Double(float64(length)))
	return value.Double(float64(length)), nil
}

// installRegExp registers the global RegExp constructor. Called as
// RegExp(source[, flags]) (new-less construction, since this build has no
// OpConstruct-aware native path yet — spec.md's interpreter §4.4 models
// Construct as a distinct opcode the compiler emits, which natives don't
// currently participate in); the returned value is a KindRegExp pointer
// whose prototype carries test/exec (spec.md §4.12's closed builtin list).
func installRegExp(reg *hostabi.Registry) error {
	vm := reg.VM()
	regexpProto := object.New()
	testVal, err := vm.RegisterNative("test", 1, nativeRegExpTest)
	if err != nil {
		return err
	}
	regexpProto.Set(shape.StringKey("test"), testVal)
	execVal, err := vm.RegisterNative("exec", 1, nativeRegExpExec)
	if err != nil {
		return err
	}
	regexpProto.Set(shape.StringKey("exec"), execVal)
	vm.RegExpPrototype = regexpProto

	ctorVal, err := vm.RegisterNative("RegExp", 2, nativeRegExpConstruct)
	if err != nil {
		return err
	}
	vm.Global.Set(shape.StringKey("RegExp"), ctorVal)
	return nil
}

func nativeRegExpConstruct(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, otterrors.New(otterrors.Type, "RegExp requires a pattern argument")
	}
	source, flags := vm.ToGoString(args[0]), ""
	if len(args) > 1 {
		flags = vm.ToGoString(args[1])
	} else {
		source, flags = intrinsics.ParseLiteral(source)
	}
	re, err := intrinsics.Compile(source, flags)
	if err != nil {
		return value.Undefined, err
	}
	ref, err := vm.Heap.Alloc(value.KindRegExp, re)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindRegExp, ref), nil
}

// asRegex resolves a KindRegExp Value back to its *intrinsics.Regex
// payload, mirroring asObject's pointer-kind-dispatch pattern.
func asRegex(vm *interpreter.VM, v value.Value) (*intrinsics.Regex, bool) {
	if !v.IsPointer() {
		return nil, false
	}
	k, ref := v.AsPointer()
	if k != value.KindRegExp {
		return nil, false
	}
	re, ok := vm.Heap.Get(ref).(*intrinsics.Regex)
	return re, ok
}

func nativeRegExpTest(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	re, ok := asRegex(vm, this)
	if !ok {
		return value.Undefined, otterrors.New(otterrors.Type, "RegExp.prototype.test called on non-RegExp")
	}
	if len(args) == 0 {
		return value.Bool(false), nil
	}
	matched, err := re.Test(vm.ToGoString(args[0]))
	if err != nil {
		return value.Undefined, err
	}
	return value.Bool(matched), nil
}

// nativeRegExpExec implements RegExp.prototype.exec, returning null on no
// match or an array [fullMatch, ...groups] with an `index` property on
// match (spec.md §4.12's best-effort RegExp surface). Stateful lastIndex
// (the `g` flag) is not tracked per-call-site in this build; every call
// searches from index 0, a documented simplification over full spec
// conformance (spec.md §1's "acceptable as lazily-specified surface").
func nativeRegExpExec(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	re, ok := asRegex(vm, this)
	if !ok {
		return value.Undefined, otterrors.New(otterrors.Type, "RegExp.prototype.exec called on non-RegExp")
	}
	if len(args) == 0 {
		return value.Null, nil
	}
	m, err := re.Exec(vm.ToGoString(args[0]), 0)
	if err != nil {
		return value.Undefined, err
	}
	if m == nil {
		return value.Null, nil
	}
	result := object.NewArray()
	if vm.ArrayPrototype != nil {
		result.Prototype = vm.ArrayPrototype
	}
	for _, g := range m.Groups {
		if !g.Matched {
			result.AppendElements(value.Undefined)
			continue
		}
		result.AppendElements(vm.BoxString(g.Text))
	}
	result.Set(shape.StringKey("index"), value.Double(float64(m.Index)))
	ref, err := vm.Heap.Alloc(value.KindArray, result)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindArray, ref), nil
}

func nativeObjectKeys(vm *interpreter.VM, this value.Value, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.Undefined, otterrors.New(otterrors.Type, "Object.keys requires an argument")
	}
	obj, ok := vm.AsObject(args[0])
	if !ok {
		return value.Undefined, otterrors.New(otterrors.Type, "Object.keys requires an object argument")
	}
	result := object.NewArray()
	if vm.ArrayPrototype != nil {
		result.Prototype = vm.ArrayPrototype
	}
	for _, k := range obj.OwnKeys() {
		if !k.IsIndex() {
			if d, found := obj.DescriptorForKey(k); !found || !d.Enumerable {
				continue
			}
		}
		result.AppendElements(vm.BoxString(k.String()))
	}
	ref, err := vm.Heap.Alloc(value.KindArray, result)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindArray, ref), nil
}
