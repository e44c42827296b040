package linker

import (
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Loader compiles or fetches a module's bytecode given its resolved URL.
// Otter's core never parses source itself (spec.md §4.7's "compiling each
// dependency it encounters" is the embedder's compiler, handed to the
// linker through this seam).
type Loader interface {
	Load(url string) (*bytecode.Module, ModuleKind, error)
}

// Linker performs graph construction, linking, and evaluation over a
// module registry shared across the whole program (spec.md §4.7).
type Linker struct {
	resolver *Resolver
	loader   Loader
	vm       *interpreter.VM

	registry map[string]*ModuleRecord
	// order accumulates the post-order (dependencies-first) topological
	// sequence as Load walks the graph depth-first.
	order []string
}

func New(resolver *Resolver, loader Loader, vm *interpreter.VM) *Linker {
	l := &Linker{resolver: resolver, loader: loader, vm: vm, registry: make(map[string]*ModuleRecord)}
	// Module namespaces are bare Go objects in the registry holding heap
	// Values (exported closures, boxed strings); they must be GC roots for
	// the lifetime of the graph (spec.md §4.1 lists globals, and namespaces
	// are per-module globals).
	vm.Heap.AddTraceRoot(func(t *heap.Tracer) {
		for _, rec := range l.registry {
			t.MarkTraceable(rec.Namespace)
		}
	})
	return l
}

// Load performs depth-first graph construction from an entry URL: resolves
// every import record it encounters, compiles the dependency, and recurses,
// permitting cycles (a module already Unlinked-but-registered short-
// circuits the recursion rather than looping forever).
func (l *Linker) Load(entryURL string) (*ModuleRecord, error) {
	rec, err := l.loadOne(entryURL)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *Linker) loadOne(url string) (*ModuleRecord, error) {
	if rec, ok := l.registry[url]; ok {
		return rec, nil // already visited (cycle or diamond dependency)
	}

	m, kind, err := l.loader.Load(url)
	if err != nil {
		return nil, otterrors.Wrap(otterrors.ResolveError, err, "loading module "+url)
	}
	rec := newModuleRecord(url, kind, m)
	// Register before recursing so a cyclic import observes this node as
	// already-visited instead of recursing forever.
	l.registry[url] = rec

	for _, im := range m.Imports {
		depURL, err := l.resolver.Resolve(im.Specifier, url)
		if err != nil {
			return nil, err
		}
		rec.Dependencies = append(rec.Dependencies, depURL)
		if _, err := l.loadOne(depURL); err != nil {
			return nil, err
		}
	}

	// Post-order: this module's dependencies are already appended to
	// l.order by the recursive calls above, so appending rec.URL now
	// yields a dependencies-first topological sequence.
	l.order = append(l.order, url)
	return rec, nil
}

// Link resolves every import record in the graph to a concrete
// (source module, export name) live binding (spec.md §4.7 "Linking").
// Running Link over a graph with an unresolvable import fails the entire
// link; no partial module graphs are produced (spec.md "Recovery policy").
func (l *Linker) Link(entryURL string) error {
	for _, url := range l.order {
		rec := l.registry[url]
		if rec.State != Unlinked {
			continue
		}
		rec.State = Linking
	}
	for _, url := range l.order {
		rec := l.registry[url]
		for _, im := range rec.Module.Imports {
			depURL, err := l.resolver.Resolve(im.Specifier, url)
			if err != nil {
				rec.State = Errored
				return err
			}
			dep, ok := l.registry[depURL]
			if !ok {
				rec.State = Errored
				return otterrors.New(otterrors.ResolveError, "unresolved import "+im.Specifier+" in "+url)
			}
			rec.Bindings[im.LocalName] = Binding{Source: dep, ExportName: im.ImportName}
		}
	}
	for _, url := range l.order {
		l.registry[url].State = Linked
	}
	_ = entryURL
	return nil
}

// Evaluate runs every module's factory in topological order (dependencies
// first), implementing spec.md §4.7 "Bundling": each module's entry
// function is called synchronously with the module's namespace object as
// `this` and writes its exports onto it. A factory's return value is
// discarded, so a promise returned by an async factory is not awaited. The
// entry module runs last, since it sorts last in dependency order.
func (l *Linker) Evaluate() error {
	for _, url := range l.order {
		rec := l.registry[url]
		if rec.State == Evaluated {
			continue
		}
		if err := l.evaluateOne(rec); err != nil {
			rec.State = Errored
			rec.evalErr = err
			return err
		}
		// Between module factories no frame is live, so this is a safe
		// collection point for graphs big enough to build pressure.
		l.vm.MaybeCollect()
	}
	return nil
}

func (l *Linker) evaluateOne(rec *ModuleRecord) error {
	rec.State = Evaluating
	if rec.Kind == KindCJS {
		// CJS factories run synchronously to completion by construction
		// (no top-level await); `this` is the CJS exports object itself,
		// matching Node's `module.exports` convention.
	}
	if len(rec.Module.Functions) > 0 {
		entry := rec.Module.Functions[rec.Module.EntryFunc]
		closure := &interpreter.Closure{Fn: entry, Module: rec.Module}
		nsVal, err := l.boxNamespace(rec)
		if err != nil {
			return err
		}
		if _, err := l.vm.Call(closure, nsVal, nil); err != nil {
			return err
		}
	}
	rec.State = Evaluated
	return nil
}

func (l *Linker) boxNamespace(rec *ModuleRecord) (value.Value, error) {
	ref, err := l.vm.Heap.Alloc(value.KindObject, rec.Namespace)
	if err != nil {
		return value.Undefined, err
	}
	return value.Pointer(value.KindObject, ref), nil
}

// ResolveImport reads an importing module's local binding, applying
// CJS/ESM interop (spec.md §4.7 "Mixed ESM/CJS graphs"): an ESM module
// importing CJS sees `module.exports` as the default export and its own
// enumerable keys as named exports; a CJS module requiring ESM sees the
// namespace object as a whole when ImportName is "*".
func (l *Linker) ResolveImport(importer *ModuleRecord, localName string) (value.Value, bool) {
	b, ok := importer.Bindings[localName]
	if !ok {
		return value.Undefined, false
	}
	if b.ExportName == "*" {
		v, err := l.boxNamespace(b.Source)
		if err != nil {
			return value.Undefined, false
		}
		return v, true
	}
	if b.ExportName == "default" && b.Source.Kind == KindCJS && importer.Kind == KindESM {
		v, err := l.boxNamespace(b.Source)
		if err != nil {
			return value.Undefined, false
		}
		return v, true
	}
	return b.Source.Namespace.Get(shape.StringKey(b.ExportName), 0)
}

// InstallDynamicImport wires the VM's OpImport hook to this linker: a
// non-literal `import(spec)` resolves, loads, links, and evaluates the
// subgraph at runtime and yields a promise of the module namespace
// (spec.md §4.7 "Dynamic import"). Load failures reject the promise with a
// JS error object rather than failing the current task.
func (l *Linker) InstallDynamicImport() {
	l.vm.ImportHook = func(specifier string) (value.Value, error) {
		p := l.vm.NewPromise()
		pv, err := l.vm.BoxPromise(p)
		if err != nil {
			return value.Undefined, err
		}
		fail := func(msg string) (value.Value, error) {
			p.Reject(l.vm.MakeError("Error", msg))
			return pv, nil
		}
		url, err := l.resolver.Resolve(specifier, "")
		if err != nil {
			return fail("cannot resolve module '" + specifier + "': " + err.Error())
		}
		if _, err := l.Load(url); err != nil {
			return fail("cannot load module '" + url + "': " + err.Error())
		}
		if err := l.Link(url); err != nil {
			return fail("cannot link module '" + url + "': " + err.Error())
		}
		if err := l.Evaluate(); err != nil {
			return fail("evaluation of '" + url + "' failed: " + err.Error())
		}
		nsVal, err := l.boxNamespace(l.registry[url])
		if err != nil {
			return value.Undefined, err
		}
		p.Resolve(nsVal)
		return pv, nil
	}
}

// Record returns the registered ModuleRecord for a resolved URL, if loaded.
func (l *Linker) Record(url string) (*ModuleRecord, bool) {
	rec, ok := l.registry[url]
	return rec, ok
}

// Order returns the dependencies-first topological evaluation sequence
// computed by Load.
func (l *Linker) Order() []string {
	return append([]string(nil), l.order...)
}
