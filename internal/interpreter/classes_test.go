package interpreter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// TestDefineClassWithSuperAndCallSuper assembles
//
//	class Base { constructor() { this.base = 1 } }
//	class Derived extends Base { constructor() { super(); this.extra = 2 } }
//	new Derived()
//
// and checks both constructors ran against the same instance with the
// prototype chain Derived.prototype -> Base.prototype.
func TestDefineClassWithSuperAndCallSuper(t *testing.T) {
	m := bytecode.NewModule()
	baseKey := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "base"})
	extraKey := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "extra"})

	base := bytecode.NewFunction("Base", 0, 0, 3)
	base.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadThis, Dst: 0},
		{Op: bytecode.OpLoadInt8, Dst: 1, ImmI8: 1},
		{Op: bytecode.OpSetPropConst, SrcA: 0, SrcB: 1, ConstIdx: baseKey},
		{Op: bytecode.OpLoadUndefined, Dst: 2},
		{Op: bytecode.OpReturn, SrcA: 2},
	}
	base.SizeFeedback()
	baseIdx := m.AddFunction(base)

	derived := bytecode.NewFunction("Derived", 0, 0, 3)
	derived.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpCallSuper, Dst: 0, SrcA: 0, ArgCount: 0},
		{Op: bytecode.OpLoadThis, Dst: 1},
		{Op: bytecode.OpLoadInt8, Dst: 2, ImmI8: 2},
		{Op: bytecode.OpSetPropConst, SrcA: 1, SrcB: 2, ConstIdx: extraKey},
		{Op: bytecode.OpLoadUndefined, Dst: 0},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	derived.SizeFeedback()
	derivedIdx := m.AddFunction(derived)

	main := bytecode.NewFunction("main", 0, 0, 4)
	main.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadUndefined, Dst: 0},
		{Op: bytecode.OpDefineClass, Dst: 1, SrcA: 0, FuncIdx: baseIdx},
		{Op: bytecode.OpDefineClass, Dst: 2, SrcA: 1, FuncIdx: derivedIdx},
		{Op: bytecode.OpConstruct, Dst: 3, SrcA: 2, ArgCount: 0},
		{Op: bytecode.OpReturn, SrcA: 3},
	}
	main.SizeFeedback()
	m.AddFunction(main)

	vm := NewVM()
	result, err := vm.Call(&Closure{Fn: main, Module: m}, value.Undefined, nil)
	require.NoError(t, err)

	instance, ok := vm.asObject(result)
	require.True(t, ok)
	baseV, found := instance.Get(shape.StringKey("base"), 0)
	require.True(t, found)
	require.Equal(t, int32(1), baseV.AsInt32())
	extraV, found := instance.Get(shape.StringKey("extra"), 0)
	require.True(t, found)
	require.Equal(t, int32(2), extraV.AsInt32())

	// Derived.prototype chains to Base.prototype, and the instance finds
	// `constructor` through its own prototype first.
	require.NotNil(t, instance.Prototype)
	require.NotNil(t, instance.Prototype.Prototype)
	ctorV, found := instance.Get(shape.StringKey("constructor"), 0)
	require.True(t, found)
	derivedCtor, ok := vm.closureOf(ctorV)
	require.True(t, ok)
	require.Equal(t, "Derived", derivedCtor.Fn.Name)
}

// TestGetSuperPropReadsThroughHomeObject gives a method a home object whose
// prototype carries `tag`, then checks super.tag resolves from inside the
// method body.
func TestGetSuperPropReadsThroughHomeObject(t *testing.T) {
	m := bytecode.NewModule()
	tagKey := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "tag"})

	method := bytecode.NewFunction("peek", 0, 0, 1)
	method.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpGetSuperProp, Dst: 0, ConstIdx: tagKey},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	method.SizeFeedback()
	m.AddFunction(method)

	vm := NewVM()
	superProto := object.New()
	superProto.Set(shape.StringKey("tag"), value.Int32(7))
	home := object.New()
	home.Prototype = superProto

	c := &Closure{Fn: method, Module: m, HomeObject: home}
	result, err := vm.Call(c, value.Undefined, nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), result.AsInt32())
}

// TestSetHomeObjectOpcode wires OpSetHomeObject and confirms the closure's
// home object is installed.
func TestSetHomeObjectOpcode(t *testing.T) {
	m := bytecode.NewModule()
	inner := bytecode.NewFunction("method", 0, 0, 1)
	inner.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpLoadUndefined, Dst: 0},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	inner.SizeFeedback()
	innerIdx := m.AddFunction(inner)

	main := bytecode.NewFunction("main", 0, 0, 3)
	main.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpClosure, Dst: 0, FuncIdx: innerIdx},
		{Op: bytecode.OpNewObject, Dst: 1},
		{Op: bytecode.OpSetHomeObject, SrcA: 0, SrcB: 1},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	main.SizeFeedback()
	m.AddFunction(main)

	vm := NewVM()
	result, err := vm.Call(&Closure{Fn: main, Module: m}, value.Undefined, nil)
	require.NoError(t, err)
	c, ok := vm.closureOf(result)
	require.True(t, ok)
	require.NotNil(t, c.HomeObject)
}
