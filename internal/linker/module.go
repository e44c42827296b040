package linker

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/object"
)

// State is a module's position in the spec.md §4.7 lifecycle:
// Unlinked -> Linking -> Linked -> Evaluating -> Evaluated (or Errored).
type State int

const (
	Unlinked State = iota
	Linking
	Linked
	Evaluating
	Evaluated
	Errored
)

func (s State) String() string {
	switch s {
	case Unlinked:
		return "unlinked"
	case Linking:
		return "linking"
	case Linked:
		return "linked"
	case Evaluating:
		return "evaluating"
	case Evaluated:
		return "evaluated"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Binding is a live reference to a named export: resolved by name against
// the exporting module's namespace at access time, never snapshotted at
// link time, so circular imports observe each other's later mutations
// (spec.md §4.7 "bindings are live"). Resolution itself lives on Linker
// (linker.go's ResolveImport) since it needs shape.Key construction.
type Binding struct {
	Source     *ModuleRecord
	ExportName string
}

// ModuleRecord is one node in the module graph.
type ModuleRecord struct {
	URL   string
	Kind  ModuleKind
	State State

	Module *bytecode.Module

	// Namespace backs both ESM's module namespace object and CJS's
	// `module.exports`; the entry function runs with Namespace as `this`
	// and writes exports onto it directly (spec.md §4.7 "async factory").
	Namespace *object.Object

	// Dependencies lists the resolved URLs this module imports from, in
	// declaration order, used to compute topological evaluation order.
	Dependencies []string

	// Bindings maps each local import name to where it resolves.
	Bindings map[string]Binding

	evalErr error
}

func newModuleRecord(url string, kind ModuleKind, m *bytecode.Module) *ModuleRecord {
	return &ModuleRecord{
		URL:       url,
		Kind:      kind,
		Module:    m,
		Namespace: object.New(),
		Bindings:  make(map[string]Binding),
	}
}
