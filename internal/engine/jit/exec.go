package jit

import (
	"math"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Run executes c against an already-constructed interpreter frame,
// following spec.md §4.8's translation model: guarded arithmetic and
// comparisons are unboxed directly; everything else (including all control
// flow, calls, and property access) re-enters the interpreter's shared
// instruction step for that one bytecode pc, so non-arithmetic semantics
// are byte-for-byte identical to interpreted execution by construction
// (the §8 scenario-7 equivalence invariant). A failed type guard produces
// a Bailout instead of an error; the caller (jitruntime) decides whether
// to resume interpretation from the bailout site or restart the function.
func (c *CompiledFunction) Run(vm *interpreter.VM, f *interpreter.Frame) (value.Value, *Bailout, error) {
	vm.PushLiveFrame(f)
	defer vm.PopLiveFrame()
	code := c.Fn.Instructions
	for {
		if f.IP >= len(code) {
			return value.Undefined, nil, nil
		}
		pc := f.IP
		ins := code[pc]
		op := ops(c)[pc]

		if op.guarded {
			if bailed := c.runGuarded(f, op, ins); bailed {
				c.recordBailout(pc)
				return value.Undefined, &Bailout{Reason: TypeGuardFailure, BytecodePC: pc, Instruction: ins.Op}, nil
			}
			f.IP++
			continue
		}

		result, done, err := vm.StepInstruction(f, ins)
		if err != nil {
			return value.Undefined, nil, err
		}
		if done {
			return result, nil, nil
		}
	}
}

func ops(c *CompiledFunction) []nativeOp { return c.ops }

// runGuarded attempts the unboxed fast path for one guarded instruction,
// writing the result directly into f.Registers. It reports true if the
// type guard failed (a bailout), false if it executed successfully.
func (c *CompiledFunction) runGuarded(f *interpreter.Frame, op nativeOp, ins bytecode.Instruction) (bailed bool) {
	a, b := f.Registers[ins.SrcA], f.Registers[ins.SrcB]

	switch op.kind {
	case kindGuardedArith:
		switch ins.Op {
		case bytecode.OpAddI32, bytecode.OpSubI32, bytecode.OpMulI32, bytecode.OpDivI32:
			if !a.IsInt32() || !b.IsInt32() {
				return true
			}
			return !c.int32Arith(f, ins, a.AsInt32(), b.AsInt32())
		case bytecode.OpAddF64, bytecode.OpSubF64, bytecode.OpMulF64, bytecode.OpDivF64:
			if !a.IsDouble() || !b.IsDouble() {
				return true
			}
			f.Registers[ins.Dst] = value.Double(f64Arith(ins.Op, a.AsDouble(), b.AsDouble()))
			return false
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
			// Generic Add/Sub/Mul/Div fast-path only when both operands are
			// already plain numbers (int32 or double); string concatenation
			// and ToPrimitive coercion are left to the helper path, which
			// holds the object-model dependency (spec.md §9 Open Questions).
			af, aok := asFloat(a)
			bf, bok := asFloat(b)
			if !aok || !bok {
				return true
			}
			f.Registers[ins.Dst] = value.Double(f64Arith(ins.Op, af, bf))
			return false
		}
	case kindGuardedCompare:
		af, aok := asFloat(a)
		bf, bok := asFloat(b)
		switch ins.Op {
		case bytecode.OpStrictEq:
			f.Registers[ins.Dst] = value.Bool(value.StrictEquals(a, b))
			return false
		case bytecode.OpStrictNe:
			f.Registers[ins.Dst] = value.Bool(!value.StrictEquals(a, b))
			return false
		}
		if !aok || !bok {
			return true
		}
		switch ins.Op {
		case bytecode.OpLt:
			f.Registers[ins.Dst] = value.Bool(af < bf)
		case bytecode.OpLe:
			f.Registers[ins.Dst] = value.Bool(af <= bf)
		case bytecode.OpGt:
			f.Registers[ins.Dst] = value.Bool(af > bf)
		case bytecode.OpGe:
			f.Registers[ins.Dst] = value.Bool(af >= bf)
		}
		return false
	}
	return true
}

// int32Arith performs overflow-checked int32 arithmetic, re-boxing to a
// double on overflow per spec.md §4.4 "integer operations that overflow
// promote to f64". Division always promotes (JS `/` is never integer
// division). Returns false only for divide-by-zero-shaped edge cases that
// the guard itself doesn't reject (those still produce a valid Value, so
// this always returns true in practice — kept as a return value for
// symmetry with the caller's bailout-reporting convention).
func (c *CompiledFunction) int32Arith(f *interpreter.Frame, ins bytecode.Instruction, a, b int32) bool {
	switch ins.Op {
	case bytecode.OpAddI32:
		sum := int64(a) + int64(b)
		if sum < math.MinInt32 || sum > math.MaxInt32 {
			f.Registers[ins.Dst] = value.Double(float64(sum))
		} else {
			f.Registers[ins.Dst] = value.Int32(int32(sum))
		}
	case bytecode.OpSubI32:
		diff := int64(a) - int64(b)
		if diff < math.MinInt32 || diff > math.MaxInt32 {
			f.Registers[ins.Dst] = value.Double(float64(diff))
		} else {
			f.Registers[ins.Dst] = value.Int32(int32(diff))
		}
	case bytecode.OpMulI32:
		prod := int64(a) * int64(b)
		if prod < math.MinInt32 || prod > math.MaxInt32 {
			f.Registers[ins.Dst] = value.Double(float64(prod))
		} else {
			f.Registers[ins.Dst] = value.Int32(int32(prod))
		}
	case bytecode.OpDivI32:
		f.Registers[ins.Dst] = value.Double(float64(a) / float64(b))
	}
	return true
}

func f64Arith(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.OpAddF64, bytecode.OpAdd:
		return a + b
	case bytecode.OpSubF64, bytecode.OpSub:
		return a - b
	case bytecode.OpMulF64, bytecode.OpMul:
		return a * b
	case bytecode.OpDivF64, bytecode.OpDiv:
		return a / b
	}
	return math.NaN()
}

func asFloat(v value.Value) (float64, bool) {
	switch {
	case v.IsInt32():
		return float64(v.AsInt32()), true
	case v.IsDouble():
		return v.AsDouble(), true
	default:
		return 0, false
	}
}
