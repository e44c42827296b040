// Package bytecode implements Otter's bytecode model (spec.md §3.7, §6):
// Module, Function, Instruction, constant pool, and feedback vector. A
// Module is what the external compiler/parser hands to the linker and
// interpreter; this package never parses JS/TS source itself.
package bytecode

import (
	"sync/atomic"

	"github.com/octofhir/otter-sub002/internal/ic"
)

// ConstKind tags a constant-pool entry.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString
	ConstRegex
	ConstFunction
)

type Const struct {
	Kind   ConstKind
	Number float64
	Str    string
	Regex  string
	FnIdx  uint16
}

// ImportRecord and ExportRecord describe a module's static import/export
// declarations, resolved by the linker (spec.md §4.7).
type ImportRecord struct {
	Specifier  string
	LocalName  string
	ImportName string // "*" for namespace imports, "default" for default imports
}

type ExportRecord struct {
	LocalName  string
	ExportName string
}

// FeedbackState is the per-slot IC state recorded by the interpreter
// (spec.md §4.4 Feedback collection, §4.5).
type FeedbackState uint8

const (
	FeedbackUninitialized FeedbackState = iota
	FeedbackMonomorphic
	FeedbackPolymorphic
	FeedbackMegamorphic
)

const PolymorphicCap = 4

// FeedbackSlot records observed shapes/types for one cache-bearing
// instruction.
type FeedbackSlot struct {
	State    FeedbackState
	ShapeGen uint64   // generation of the most recently observed shape, for invalidation
	Observed []uint64 // opaque observed keys (shape pointers as uintptr, or type tags)
}

// Function owns one compiled function body.
type Function struct {
	Name         string
	ParamCount   int
	LocalCount   int
	RegisterCount int
	Instructions []Instruction

	Feedback []FeedbackSlot
	// PropCaches holds one interpreter-resident inline cache per
	// cache-bearing instruction, parallel to Feedback (spec.md §4.5). Kept
	// on the Function so a recompiled/OSR'd JIT path and the interpreter
	// observe the same cache state.
	PropCaches []ic.PropertyCache

	// JITEntry is an atomic pointer to compiled native code, initially nil
	// (spec.md §3.7). Stored as unsafe-free uintptr-sized value via atomic.Value
	// so this package has no dependency on the JIT engine's concrete type.
	JITEntry atomic.Value // holds an interface{} the jit package defines

	InvocationCount  uint64
	BailoutCount     uint64
	BackEdgeCount    uint64
	Deoptimized      uint32 // atomic bool: 1 once permanently deoptimized
}

func NewFunction(name string, params, locals, registers int) *Function {
	return &Function{Name: name, ParamCount: params, LocalCount: locals, RegisterCount: registers}
}

// SizeFeedback grows the feedback vector to cover every ic_index the
// function's instructions reference.
func (f *Function) SizeFeedback() {
	maxIdx := -1
	for _, ins := range f.Instructions {
		if ins.Op.IsCacheBearing() && int(ins.ICIndex) > maxIdx {
			maxIdx = int(ins.ICIndex)
		}
	}
	if maxIdx+1 > len(f.Feedback) {
		grown := make([]FeedbackSlot, maxIdx+1)
		copy(grown, f.Feedback)
		f.Feedback = grown

		grownCaches := make([]ic.PropertyCache, maxIdx+1)
		copy(grownCaches, f.PropCaches)
		f.PropCaches = grownCaches
	}
}

func (f *Function) IsDeoptimized() bool { return atomic.LoadUint32(&f.Deoptimized) == 1 }
func (f *Function) MarkDeoptimized()    { atomic.StoreUint32(&f.Deoptimized, 1) }

// Module owns a constant pool, the function table, and import/export
// records (spec.md §3.7).
type Module struct {
	ConstPool []Const
	Functions []*Function
	EntryFunc int
	IsESM     bool
	Imports   []ImportRecord
	Exports   []ExportRecord
}

func NewModule() *Module {
	return &Module{}
}

func (m *Module) AddFunction(f *Function) uint16 {
	m.Functions = append(m.Functions, f)
	return uint16(len(m.Functions) - 1)
}

func (m *Module) AddConst(c Const) uint16 {
	m.ConstPool = append(m.ConstPool, c)
	return uint16(len(m.ConstPool) - 1)
}
