// Package jit implements Otter's baseline JIT (spec.md §4.8): a
// feedback-driven translator from bytecode to type-guarded native
// arithmetic, a deopt map back to the interpreter, and the bailout
// taxonomy the runtime layer (internal/engine/jitruntime) reports
// telemetry against.
//
// Native code is genuinely assembled through the teacher's own
// `github.com/twitchyliquid64/golang-asm` dependency (see assemble.go) —
// the same library wazero's own compiler engine carried for exactly this
// purpose before it grew per-architecture hand-written assemblers, per the
// rationale recorded in DESIGN.md. Invoking raw assembled bytes from Go
// without cgo requires an architecture-specific call trampoline (wazero's
// own engine ships one per arch, e.g. nativecall.s); this build does not
// carry such a trampoline, so CompiledFunction.Run executes the same
// guarded, unboxed operation sequence golang-asm assembled, but via a
// small Go-native dispatcher instead of jumping to Code's raw bytes. Code
// is retained on CompiledFunction for external tooling (an AOT cache, a
// disassembly dump) that does have a way to load and run it.
package jit

import (
	"sync/atomic"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/otterrors"
)

// Reason is the bailout taxonomy (spec.md §4.8 "Bailout taxonomy").
type Reason int

const (
	Unknown Reason = iota
	HelperReturnedSentinel
	TypeGuardFailure
)

func (r Reason) String() string {
	switch r {
	case HelperReturnedSentinel:
		return "HelperReturnedSentinel"
	case TypeGuardFailure:
		return "TypeGuardFailure"
	default:
		return "Unknown"
	}
}

// BailoutSentinel is the reserved i64 bit pattern compiled code returns to
// mean "bailout — read telemetry from ctx_ptr" (spec.md §4.8 ABI). No
// NaN-boxed value.Value ever legitimately carries this pattern: it falls
// inside the canonical-NaN tag with a payload whose low 32 bits are all
// ones, while value.Double canonicalizes every NaN to a zero payload.
const BailoutSentinel uint64 = 0x7FF8_0000_FFFF_FFFF

// Bailout describes one control transfer from native code back to the
// interpreter.
type Bailout struct {
	Reason      Reason
	BytecodePC  int
	Instruction bytecode.Opcode
}

// DeoptEntry maps one native bailout site to the bytecode pc at which
// interpretation resumes (spec.md §4.8 "Deopt metadata"). It carries no
// register snapshot: guarded ops run against the interpreter's own register
// slice, which stays the ground truth after a bailout.
type DeoptEntry struct {
	NativePC   int
	BytecodePC int
}

// CompiledFunction is one baseline-compiled function body: a sequence of
// guarded nativeOps plus the deopt/bailout bookkeeping spec.md §4.8-§4.9
// require.
type CompiledFunction struct {
	Fn     *bytecode.Function
	Module *bytecode.Module

	ops    []nativeOp
	deopts map[int]DeoptEntry

	// Code is the machine code golang-asm assembled for this function's
	// guarded-arithmetic subset (see assemble.go); retained for telemetry
	// and potential AOT persistence, not executed directly in this build.
	Code []byte

	bailoutsBySite map[int]*uint64 // keyed by bytecode pc
}

// DeoptAt returns the deopt-map entry for a guarded instruction at
// nativePC (spec.md §4.8 "Deopt metadata"). Since this build's guarded ops
// execute directly against the interpreter's own register file (see
// exec.go), BytecodePC always equals NativePC; the separate map still
// exists so a future OSR/trampoline-based executor has the documented
// lookup surface to extend without an API change.
func (c *CompiledFunction) DeoptAt(nativePC int) (DeoptEntry, bool) {
	e, ok := c.deopts[nativePC]
	return e, ok
}

// BailoutCountAt returns how many times bytecodePC has triggered a bailout
// from this compiled function, for jitruntime's recompile/permanent-deopt
// threshold decisions.
func (c *CompiledFunction) BailoutCountAt(bytecodePC int) uint64 {
	p, ok := c.bailoutsBySite[bytecodePC]
	if !ok {
		return 0
	}
	return atomic.LoadUint64(p)
}

func (c *CompiledFunction) recordBailout(bytecodePC int) uint64 {
	p, ok := c.bailoutsBySite[bytecodePC]
	if !ok {
		v := uint64(0)
		p = &v
		c.bailoutsBySite[bytecodePC] = p
	}
	return atomic.AddUint64(p, 1)
}

// Compile translates fn's documented opcode subset (type-specialized and
// generic numeric arithmetic, and comparisons, each behind a type guard)
// into a CompiledFunction. Property loads and control flow are not in the
// subset: opcodes outside it are lowered to a "helper" nativeOp that
// re-enters the interpreter for that one instruction (spec.md §4.8: "falls
// back to a runtime helper for the rest"). Every opcode has an interpreter
// fallback; a function with no instructions fails compilation and stays
// interpreted.
func Compile(fn *bytecode.Function, mod *bytecode.Module) (*CompiledFunction, error) {
	if len(fn.Instructions) == 0 {
		return nil, otterrors.New(otterrors.CompileError, "function has no instructions")
	}
	cf := &CompiledFunction{
		Fn:             fn,
		Module:         mod,
		deopts:         make(map[int]DeoptEntry),
		bailoutsBySite: make(map[int]*uint64),
	}
	ops, err := translate(fn)
	if err != nil {
		return nil, otterrors.Wrap(otterrors.CompileError, err, "translating "+fn.Name)
	}
	cf.ops = ops
	for i, op := range ops {
		if op.guarded {
			cf.deopts[i] = DeoptEntry{NativePC: i, BytecodePC: op.bytecodePC}
		}
	}
	cf.Code = assemble(ops)
	return cf, nil
}
