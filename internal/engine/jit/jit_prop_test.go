package jit_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/engine/jit"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/value"
)

// operandGen draws int32, f64 (including NaN and infinities), or string
// operands — the type mixes spec.md §8 names for the JIT/interpreter
// equivalence property.
func operandGen(vm *interpreter.VM) *rapid.Generator[value.Value] {
	return rapid.Custom(func(rt *rapid.T) value.Value {
		switch rapid.IntRange(0, 3).Draw(rt, "kind") {
		case 0:
			return value.Int32(rapid.Int32().Draw(rt, "i32"))
		case 1:
			return value.Double(rapid.Float64().Draw(rt, "f64"))
		case 2:
			return value.Double(math.NaN())
		default:
			return vm.BoxString(rapid.StringMatching(`[a-z0-9]{0,6}`).Draw(rt, "str"))
		}
	})
}

var binaryOps = []bytecode.Opcode{
	bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
	bytecode.OpAddI32, bytecode.OpSubI32, bytecode.OpMulI32, bytecode.OpDivI32,
	bytecode.OpAddF64, bytecode.OpSubF64, bytecode.OpMulF64, bytecode.OpDivF64,
	bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
	bytecode.OpStrictEq, bytecode.OpStrictNe,
}

// TestJITMatchesInterpreterOnRandomBinaryOps is spec.md §8 invariant 7 as a
// property: for random operand mixes and ops, executing through the
// compiled path (bailout-resume included) observes the same result as pure
// interpretation, modulo NaN bit patterns, which both sides canonicalize.
func TestJITMatchesInterpreterOnRandomBinaryOps(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		vm := interpreter.NewVM()
		a := operandGen(vm).Draw(rt, "a")
		b := operandGen(vm).Draw(rt, "b")
		op := rapid.SampledFrom(binaryOps).Draw(rt, "op")

		fn := bytecode.NewFunction("prop", 0, 0, 3)
		fn.Instructions = []bytecode.Instruction{
			{Op: op, Dst: 2, SrcA: 0, SrcB: 1},
			{Op: bytecode.OpReturn, SrcA: 2},
		}
		fn.SizeFeedback()
		m := bytecode.NewModule()
		m.AddFunction(fn)
		c := &interpreter.Closure{Fn: fn, Module: m}

		interpFrame := interpreter.NewFrame(c, nil, value.Undefined)
		interpFrame.Registers[0], interpFrame.Registers[1] = a, b
		want, err := vm.RunFrame(interpFrame)
		require.NoError(rt, err)

		cf, err := jit.Compile(fn, m)
		require.NoError(rt, err)
		jitFrame := interpreter.NewFrame(c, nil, value.Undefined)
		jitFrame.Registers[0], jitFrame.Registers[1] = a, b
		got, bailout, err := cf.Run(vm, jitFrame)
		require.NoError(rt, err)
		if bailout != nil {
			// The runtime's deopt protocol: resume interpretation at the
			// bailout site against the same frame.
			got, err = vm.RunFrame(jitFrame)
			require.NoError(rt, err)
		}

		requireSameObservable(rt, vm, want, got)
	})
}

// requireSameObservable compares two results the way invariant 7 allows:
// value.StrictEquals for everything except NaN==NaN (both NaN counts as
// equal here since bit patterns are canonicalized) and interned strings
// compared structurally.
func requireSameObservable(rt *rapid.T, vm *interpreter.VM, want, got value.Value) {
	if want.IsDouble() && got.IsDouble() && math.IsNaN(want.AsDouble()) && math.IsNaN(got.AsDouble()) {
		return
	}
	if value.StrictEquals(want, got) {
		return
	}
	require.Equal(rt, vm.ToGoString(want), vm.ToGoString(got))
	require.Equal(rt, want.TypeOf(), got.TypeOf())
}
