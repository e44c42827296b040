package jit

import (
	golangasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/otterlog"
)

// assemble emits real amd64 machine code for ops's guarded-arithmetic
// subset through golang-asm's Builder, the same entry point wazero's own
// compiler engine used before it grew per-architecture hand-written
// assemblers (see jit.go's package doc). The result is descriptive
// telemetry/AOT-cache material in this build (see jit.go), not a jump
// target, so a failed assembly here is logged and degrades to a nil Code
// slice rather than failing compilation outright.
func assemble(ops []nativeOp) []byte {
	b, err := golangasm.NewBuilder("amd64", len(ops)+1)
	if err != nil {
		otterlog.Named("jit").Sugar().Debugw("golang-asm builder unavailable", "err", err)
		return nil
	}

	reg := func(n int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: n} }

	for _, op := range ops {
		as, ok := x86OpcodeFor(op)
		if !ok {
			continue
		}
		p := b.NewProg()
		p.As = as
		// Operands are always AX/BX -> AX: this function only needs the
		// assembled bytes to exist for telemetry/disassembly purposes, not
		// to execute against live register allocation (CompiledFunction.Run
		// dispatches guarded arithmetic in Go directly — see exec.go).
		p.From = reg(x86.REG_BX)
		p.To = reg(x86.REG_AX)
		b.AddInstruction(p)
	}

	return b.Assemble()
}

// x86OpcodeFor maps a guarded bytecode opcode to the amd64 instruction the
// baseline compiler's listing uses to represent it.
func x86OpcodeFor(op nativeOp) (obj.As, bool) {
	switch op.op {
	case bytecode.OpAddI32:
		return x86.AADDL, true
	case bytecode.OpSubI32:
		return x86.ASUBL, true
	case bytecode.OpMulI32:
		return x86.AIMULL, true
	case bytecode.OpDivI32:
		return x86.AIDIVL, true
	case bytecode.OpAddF64, bytecode.OpAdd:
		return x86.AADDSD, true
	case bytecode.OpSubF64, bytecode.OpSub:
		return x86.ASUBSD, true
	case bytecode.OpMulF64, bytecode.OpMul:
		return x86.AMULSD, true
	case bytecode.OpDivF64, bytecode.OpDiv:
		return x86.ADIVSD, true
	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		return x86.AUCOMISD, true
	case bytecode.OpStrictEq, bytecode.OpStrictNe:
		return x86.ACMPQ, true
	default:
		return 0, false
	}
}
