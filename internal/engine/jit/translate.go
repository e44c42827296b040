package jit

import "github.com/octofhir/otter-sub002/internal/bytecode"

// opKind classifies one instruction for the translator.
type opKind int

const (
	kindHelper opKind = iota // re-enters the interpreter's shared step for this one instruction
	kindGuardedArith
	kindGuardedCompare
)

// nativeOp is the JIT's per-instruction IR entry: which bytecode pc it
// lowers, whether a type guard protects it (and so needs a deopt-map
// entry), and which fast-path kind the executor should take.
type nativeOp struct {
	bytecodePC int
	op         bytecode.Opcode
	kind       opKind
	guarded    bool
}

// guardedArithOps is the documented subset of type-specialized binary
// arithmetic opcodes the JIT unboxes directly (spec.md §4.8 "Unboxed
// arithmetic"): int32 ops with overflow detection that re-box, f64 ops
// with NaN canonicalization.
var guardedArithOps = map[bytecode.Opcode]bool{
	bytecode.OpAdd: true, bytecode.OpSub: true, bytecode.OpMul: true, bytecode.OpDiv: true,
	bytecode.OpAddI32: true, bytecode.OpSubI32: true, bytecode.OpMulI32: true, bytecode.OpDivI32: true,
	bytecode.OpAddF64: true, bytecode.OpSubF64: true, bytecode.OpMulF64: true, bytecode.OpDivF64: true,
}

// guardedCompareOps are comparisons the JIT unboxes directly since they are
// pure (no allocation, no coercion side effects) when both operands are
// already numeric (spec.md §4.8 "Inline guards").
var guardedCompareOps = map[bytecode.Opcode]bool{
	bytecode.OpLt: true, bytecode.OpLe: true, bytecode.OpGt: true, bytecode.OpGe: true,
	bytecode.OpStrictEq: true, bytecode.OpStrictNe: true,
}

// translate classifies every instruction in fn, producing the per-pc IR
// translate's caller (Compile) uses to build the deopt map and the
// golang-asm listing. No instruction fails translation outright: anything
// outside the guarded subset lowers to kindHelper, which always succeeds
// (the interpreter's step function already covers the full opcode set),
// matching spec.md's "falls back to a runtime helper for the rest."
func translate(fn *bytecode.Function) ([]nativeOp, error) {
	ops := make([]nativeOp, len(fn.Instructions))
	for i, ins := range fn.Instructions {
		switch {
		case guardedArithOps[ins.Op]:
			ops[i] = nativeOp{bytecodePC: i, op: ins.Op, kind: kindGuardedArith, guarded: true}
		case guardedCompareOps[ins.Op]:
			ops[i] = nativeOp{bytecodePC: i, op: ins.Op, kind: kindGuardedCompare, guarded: true}
		default:
			ops[i] = nativeOp{bytecodePC: i, op: ins.Op, kind: kindHelper}
		}
	}
	return ops, nil
}
