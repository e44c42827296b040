package linker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/promise"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

func TestDynamicImportResolvesToNamespacePromise(t *testing.T) {
	loader := newFakeLoader()
	loader.modules["./lazy"] = moduleExportingConst("n", 9, nil)
	loader.kinds["./lazy"] = KindESM

	vm := interpreter.NewVM()
	l := New(identityResolver(), loader, vm)
	l.InstallDynamicImport()
	require.NotNil(t, vm.ImportHook)

	pv, err := vm.ImportHook("./lazy")
	require.NoError(t, err)
	p, ok := vm.AsPromise(pv)
	require.True(t, ok)

	vm.Microtasks.Drain()
	require.Equal(t, promise.Fulfilled, p.State())

	ns, ok := vm.AsObject(p.Value())
	require.True(t, ok)
	v, found := ns.Get(shape.StringKey("n"), 0)
	require.True(t, found)
	require.Equal(t, value.Int32(9), v)

	rec, ok := l.Record("./lazy")
	require.True(t, ok)
	require.Equal(t, Evaluated, rec.State)
}

// failingLoader errors for every URL, standing in for a loader whose
// compiler rejected the source.
type failingLoader struct{}

func (failingLoader) Load(url string) (*bytecode.Module, ModuleKind, error) {
	return nil, KindESM, otterrors.New(otterrors.NotFound, "module not found: "+url)
}

func TestDynamicImportRejectsOnMissingModule(t *testing.T) {
	vm := interpreter.NewVM()
	l := New(identityResolver(), failingLoader{}, vm)
	l.InstallDynamicImport()

	pv, err := vm.ImportHook("./missing")
	require.NoError(t, err)
	p, ok := vm.AsPromise(pv)
	require.True(t, ok)
	// Silence the unhandled-rejection check for this intentional failure.
	p.Then(nil, func(v value.Value) (value.Value, error) { return value.Undefined, nil })

	vm.Microtasks.Drain()
	require.Equal(t, promise.Rejected, p.State())
}

// TestImportOpcodeRoutesThroughInstalledHook drives OpImport end to end: a
// function body performing `import("./lazy")` receives the pending
// namespace promise from the linker hook.
func TestImportOpcodeRoutesThroughInstalledHook(t *testing.T) {
	loader := newFakeLoader()
	loader.modules["./lazy"] = moduleExportingConst("n", 3, nil)
	loader.kinds["./lazy"] = KindESM

	vm := interpreter.NewVM()
	l := New(identityResolver(), loader, vm)
	l.InstallDynamicImport()

	m := bytecode.NewModule()
	specIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "./lazy"})
	fn := bytecode.NewFunction("main", 0, 0, 1)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpImport, Dst: 0, ConstIdx: specIdx},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	result, err := vm.Call(&interpreter.Closure{Fn: fn, Module: m}, value.Undefined, nil)
	require.NoError(t, err)
	p, ok := vm.AsPromise(result)
	require.True(t, ok)

	vm.Microtasks.Drain()
	require.Equal(t, promise.Fulfilled, p.State())
}

func TestDynamicImportMissingLoaderFailsNotFound(t *testing.T) {
	vm := interpreter.NewVM()
	m := bytecode.NewModule()
	specIdx := m.AddConst(bytecode.Const{Kind: bytecode.ConstString, Str: "./nowhere"})
	fn := bytecode.NewFunction("main", 0, 0, 1)
	fn.Instructions = []bytecode.Instruction{
		{Op: bytecode.OpImport, Dst: 0, ConstIdx: specIdx},
		{Op: bytecode.OpReturn, SrcA: 0},
	}
	fn.SizeFeedback()
	m.AddFunction(fn)

	_, err := vm.Call(&interpreter.Closure{Fn: fn, Module: m}, value.Undefined, nil)
	require.Error(t, err)
}
