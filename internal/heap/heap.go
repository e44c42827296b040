// Package heap implements Otter's garbage-collected heap (spec.md §4.1):
// allocation by kind, object headers carrying mark state, root tracing, and
// a generational allocation hint. The design follows the teacher's JIT
// engine in spirit — a single struct owning flat, index-addressable storage
// so hot paths avoid pointer-chasing through a map — while the tracing
// itself is a plain mark-sweep, since spec.md requires only that survival
// semantics be preserved, not a specific copy/sweep strategy.
package heap

import (
	"sync"
	"sync/atomic"

	"github.com/octofhir/otter-sub002/internal/otterlog"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/value"
)

// Traceable is implemented by every heap-resident Go object. Trace must call
// tracer methods for every Value or heap reference the object owns.
type Traceable interface {
	Trace(t *Tracer)
}

// header is the per-object bookkeeping the heap keeps out-of-band from the
// object payload itself, so Traceable implementations stay plain structs.
type header struct {
	kind    value.Kind
	marked  bool
	young   bool // generational hint: allocated since the last collection
	payload Traceable
}

// RootProvider supplies a snapshot of live Values a collection must trace:
// frame registers, the operand stack, globals, handle slots, pending-call
// state, open upvalues, and pending microtask callbacks (spec.md §4.1).
type RootProvider func() []value.Value

// TraceRoot is a root that marks through the Tracer directly rather than
// producing a flat Value slice — the shape the interpreter needs for roots
// that are object graphs (the global object, live frames, module
// namespaces) instead of plain Values.
type TraceRoot func(t *Tracer)

// Heap owns all GC-managed allocations for one realm.
type Heap struct {
	mu          sync.Mutex
	objects     []*header
	freeList    []uint64
	refs        map[Traceable]uint64 // payload -> ref, for marking bare Go pointers (prototypes, home objects)
	roots       []RootProvider
	traceRoots  []TraceRoot
	allocated   int64
	sinceGC     int64
	collections int64
	maxObjects  int // 0 = unbounded; a fatal allocation failure above this is spec.md's only mandated failure mode
}

func New(maxObjects int) *Heap {
	return &Heap{maxObjects: maxObjects, refs: make(map[Traceable]uint64)}
}

// AddRoot registers a root provider; collections call every registered
// provider to discover live Values before tracing.
func (h *Heap) AddRoot(p RootProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, p)
}

// AddTraceRoot registers a root that marks through the tracer directly.
func (h *Heap) AddTraceRoot(r TraceRoot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traceRoots = append(h.traceRoots, r)
}

// Alloc allocates a new heap object of the given kind and returns the
// opaque 40-bit reference used inside a value.Value.
func (h *Heap) Alloc(kind value.Kind, obj Traceable) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxObjects > 0 && len(h.objects)-len(h.freeList) >= h.maxObjects {
		return 0, otterrors.New(otterrors.Internal, "heap exhausted")
	}

	hdr := &header{kind: kind, young: true, payload: obj}
	if n := len(h.freeList); n > 0 {
		ref := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.objects[ref] = hdr
		h.refs[obj] = ref
		h.allocated++
		h.sinceGC++
		return ref, nil
	}
	ref := uint64(len(h.objects))
	h.objects = append(h.objects, hdr)
	h.refs[obj] = ref
	h.allocated++
	h.sinceGC++
	return ref, nil
}

// AllocatedSinceCollect reports the allocation count since the last
// collection, the pressure signal VM.MaybeCollect keys its trigger off.
func (h *Heap) AllocatedSinceCollect() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceGC
}

// Get resolves a reference back to its payload. Returns nil if the slot was
// swept (a stale reference escaped rooting discipline — a caller bug).
func (h *Heap) Get(ref uint64) Traceable {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ref >= uint64(len(h.objects)) {
		return nil
	}
	hdr := h.objects[ref]
	if hdr == nil {
		return nil
	}
	return hdr.payload
}

// Tracer is the polymorphic marking capability passed to Trace. It is
// polymorphic over two actions per spec.md §4.1: mark a raw object header,
// and mark a Value (which dispatches on tag). MarkTraceable extends the
// same walk to bare Go pointers (prototype chains, home objects, the global
// object) that hold heap Values without being heap-resident themselves.
type Tracer struct {
	h       *Heap
	pending []uint64
	// visited de-duplicates non-heap Traceables so cyclic chains among bare
	// objects (a prototype cycle, the global object reaching itself)
	// terminate the same way marked headers do.
	visited map[Traceable]struct{}
}

// MarkValue marks v if it is a heap pointer; no-op for primitives. Cycles
// terminate because a marked header is idempotent on revisit.
func (t *Tracer) MarkValue(v value.Value) {
	if !v.IsPointer() {
		return
	}
	_, ref := v.AsPointer()
	t.MarkRef(ref)
}

// MarkRef marks a raw heap reference directly, used when an object holds
// heap references without Value boxing (e.g. shape parent pointers stored
// as refs elsewhere).
func (t *Tracer) MarkRef(ref uint64) {
	if ref >= uint64(len(t.h.objects)) {
		return
	}
	hdr := t.h.objects[ref]
	if hdr == nil || hdr.marked {
		return
	}
	hdr.marked = true
	t.pending = append(t.pending, ref)
}

// MarkTraceable marks an object by its Go pointer. Heap-resident payloads
// resolve through the reverse ref map and mark their header; objects the
// heap does not manage (the global object, a prototype built by a builtin
// before any boxing) are traced in place so the heap Values they hold stay
// live.
func (t *Tracer) MarkTraceable(obj Traceable) {
	if obj == nil {
		return
	}
	if ref, ok := t.h.refs[obj]; ok {
		t.MarkRef(ref)
		return
	}
	if _, seen := t.visited[obj]; seen {
		return
	}
	t.visited[obj] = struct{}{}
	obj.Trace(t)
}

// Collect walks every registered root, traces transitively, and reclaims
// unmarked objects. It returns the number of objects reclaimed.
func (h *Heap) Collect() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, hdr := range h.objects {
		if hdr != nil {
			hdr.marked = false
		}
	}

	tr := &Tracer{h: h, visited: make(map[Traceable]struct{})}
	for _, root := range h.roots {
		for _, v := range root() {
			tr.MarkValue(v)
		}
	}
	for _, root := range h.traceRoots {
		root(tr)
	}
	for len(tr.pending) > 0 {
		ref := tr.pending[len(tr.pending)-1]
		tr.pending = tr.pending[:len(tr.pending)-1]
		if hdr := h.objects[ref]; hdr != nil {
			hdr.payload.Trace(tr)
		}
	}

	reclaimed := 0
	for ref, hdr := range h.objects {
		if hdr == nil {
			continue
		}
		if !hdr.marked {
			h.objects[ref] = nil
			delete(h.refs, hdr.payload)
			h.freeList = append(h.freeList, uint64(ref))
			reclaimed++
			continue
		}
		hdr.young = false
	}
	h.sinceGC = 0
	atomic.AddInt64(&h.collections, 1)
	otterlog.Named("heap").Sugar().Debugf("collection reclaimed %d objects", reclaimed)
	return reclaimed
}

// Stats reports coarse heap counters, primarily for tests and telemetry.
type Stats struct {
	Live        int
	Allocated   int64
	Collections int64
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	live := 0
	for _, hdr := range h.objects {
		if hdr != nil {
			live++
		}
	}
	return Stats{Live: live, Allocated: h.allocated, Collections: h.collections}
}
