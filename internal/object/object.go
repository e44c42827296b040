// Package object implements Otter's object model (spec.md §3.4, §4.3):
// shape-backed property storage, the prototype chain, indexed elements, and
// freeze/seal/extensibility semantics.
package object

import (
	"sort"

	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/otterrors"
	"github.com/octofhir/otter-sub002/internal/shape"
	"github.com/octofhir/otter-sub002/internal/value"
)

// InlineSlots is the small fixed number of property entries stored directly
// on the object before spilling to the overflow vector (spec.md §3.4).
const InlineSlots = 4

// DefaultPrototypeDepth bounds prototype-chain traversal to avoid stack
// exhaustion on pathological (or cyclic) chains (spec.md §3.4).
const DefaultPrototypeDepth = 100

// Descriptor is either a data property (Value + attributes) or an accessor
// property (get/set Values, which are callable heap references).
type Descriptor struct {
	IsAccessor bool
	Value      value.Value // data property value
	Get, Set   value.Value // accessor property callables (Undefined if absent)

	Writable     bool
	Enumerable   bool
	Configurable bool
}

// Flags mirrors the object's flags word (spec.md §3.4).
type Flags struct {
	IsArray      bool
	Extensible   bool
	Sealed       bool
	Frozen       bool
}

// Object is a shape-backed, GC-traced JS object.
type Object struct {
	sh       *shape.Shape
	inline   [InlineSlots]Descriptor
	overflow []Descriptor
	// dictMap backs property lookup once the object has fallen into
	// dictionary mode (after a delete); the shape no longer describes offsets.
	dictMap map[shape.Key]int

	Prototype *Object // nil means null prototype
	Elements  []value.Value
	Flags     Flags
}

func New() *Object {
	return &Object{sh: shape.Root, Flags: Flags{Extensible: true}}
}

func NewArray() *Object {
	o := New()
	o.Flags.IsArray = true
	return o
}

// Shape exposes the object's current hidden class, used by the interpreter
// as an inline-cache key (spec.md §4.5).
func (o *Object) Shape() *shape.Shape { return o.sh }

func (o *Object) slotAt(offset int) *Descriptor {
	if offset < InlineSlots {
		return &o.inline[offset]
	}
	idx := offset - InlineSlots
	for len(o.overflow) <= idx {
		o.overflow = append(o.overflow, Descriptor{})
	}
	return &o.overflow[idx]
}

func (o *Object) offsetFor(key shape.Key) (int, bool) {
	if o.dictMap != nil {
		off, ok := o.dictMap[key]
		return off, ok
	}
	return o.sh.GetOffset(key)
}

// Get implements property lookup: own inline/overflow slots via shape, own
// indexed elements if key is a numeric index, then the prototype chain up
// to DefaultPrototypeDepth (spec.md §4.3).
func (o *Object) Get(key shape.Key, depth int) (value.Value, bool) {
	if key.IsIndex() && o.Flags.IsArray {
		if idx := key.Index(); int(idx) < len(o.Elements) {
			return o.Elements[idx], true
		}
	}
	if off, ok := o.offsetFor(key); ok {
		d := o.slotAt(off)
		if d.IsAccessor {
			return d.Get, true // caller invokes the getter; Value here is the callable
		}
		return d.Value, true
	}
	if o.Prototype == nil {
		return value.Undefined, false
	}
	if depth >= DefaultPrototypeDepth {
		return value.Undefined, false
	}
	return o.Prototype.Get(key, depth+1)
}

// Set implements property assignment per spec.md §4.3: known offset stores
// in place (respecting writability); otherwise, if extensible and not
// sealed, transitions to a successor shape. Frozen objects reject all
// writes silently.
func (o *Object) Set(key shape.Key, v value.Value) {
	if o.Flags.Frozen {
		return
	}
	if key.IsIndex() && o.Flags.IsArray {
		o.setElement(key.Index(), v)
		return
	}
	if off, ok := o.offsetFor(key); ok {
		d := o.slotAt(off)
		if d.IsAccessor {
			return // caller should have invoked the setter; no raw slot to write
		}
		if !d.Writable {
			return
		}
		d.Value = v
		return
	}
	if proto := o.findAccessorSetter(key); proto != nil {
		_ = proto // setter invocation is the interpreter's responsibility
	}
	if !o.Flags.Extensible || o.Flags.Sealed {
		return
	}
	o.defineNewDataSlot(key, v, true, true, true)
}

func (o *Object) findAccessorSetter(key shape.Key) *Object {
	for p := o.Prototype; p != nil; p = p.Prototype {
		if off, ok := p.offsetFor(key); ok {
			d := p.slotAt(off)
			if d.IsAccessor && d.Set != value.Undefined {
				return p
			}
		}
	}
	return nil
}

func (o *Object) setElement(idx uint32, v value.Value) {
	for uint32(len(o.Elements)) <= idx {
		o.Elements = append(o.Elements, value.Undefined)
	}
	o.Elements[idx] = v
}

// AppendElements pushes values onto the end of the indexed-elements vector
// and returns the new length, the storage half of Array.prototype.push
// (spec.md §4.12 builtins sit atop this, not inside the object model).
func (o *Object) AppendElements(vs ...value.Value) int {
	o.Elements = append(o.Elements, vs...)
	return len(o.Elements)
}

func (o *Object) defineNewDataSlot(key shape.Key, v value.Value, w, e, c bool) {
	nextOffset := o.nextOffset()
	if o.dictMap != nil {
		o.dictMap[key] = nextOffset
	} else {
		o.sh = o.sh.Transition(key, nextOffset)
	}
	*o.slotAt(nextOffset) = Descriptor{Value: v, Writable: w, Enumerable: e, Configurable: c}
}

func (o *Object) nextOffset() int {
	if o.dictMap != nil {
		max := -1
		for _, off := range o.dictMap {
			if off > max {
				max = off
			}
		}
		return max + 1
	}
	return len(o.sh.OwnKeys())
}

// DefineProperty installs or replaces an own descriptor, subject to
// configurability rules (spec.md §4.3).
func (o *Object) DefineProperty(key shape.Key, desc Descriptor) error {
	if off, ok := o.offsetFor(key); ok {
		existing := o.slotAt(off)
		if !existing.Configurable && desc.Configurable {
			return otterrors.New(otterrors.Type, "cannot redefine non-configurable property as configurable")
		}
		*existing = desc
		return nil
	}
	if !o.Flags.Extensible {
		return otterrors.New(otterrors.Type, "object is not extensible")
	}
	nextOffset := o.nextOffset()
	if o.dictMap != nil {
		o.dictMap[key] = nextOffset
	} else {
		o.sh = o.sh.Transition(key, nextOffset)
	}
	*o.slotAt(nextOffset) = desc
	return nil
}

// Delete removes an own property. Permitted only if configurable and the
// object is neither sealed nor frozen; causes the object to fall into
// dictionary mode (spec.md §4.3, §3.3).
func (o *Object) Delete(key shape.Key) bool {
	if o.Flags.Sealed || o.Flags.Frozen {
		return false
	}
	off, ok := o.offsetFor(key)
	if !ok {
		return true // deleting a non-existent property succeeds per JS semantics
	}
	d := o.slotAt(off)
	if !d.Configurable {
		return false
	}
	o.enterDictionaryMode()
	delete(o.dictMap, key)
	return true
}

// enterDictionaryMode snapshots every own key/offset into a plain map and
// forks the shape off the transition tree, so further property churn on
// this object never pollutes the shared shape graph (spec.md §3.3).
func (o *Object) enterDictionaryMode() {
	if o.dictMap != nil {
		return
	}
	m := make(map[shape.Key]int)
	for _, k := range o.sh.OwnKeys() {
		if off, ok := o.sh.GetOffset(k); ok {
			m[k] = off
		}
	}
	o.dictMap = m
	o.sh = o.sh.Dictionary()
}

// Freeze sets Frozen (and Sealed) and marks every existing descriptor
// non-writable/non-configurable.
func (o *Object) Freeze() {
	if o.Flags.Frozen {
		return
	}
	o.Flags.Frozen = true
	o.Flags.Sealed = true
	o.Flags.Extensible = false
	o.forEachDescriptor(func(d *Descriptor) {
		d.Writable = false
		d.Configurable = false
	})
}

// Seal sets Sealed and marks every existing descriptor non-configurable;
// existing data properties remain writable.
func (o *Object) Seal() {
	if o.Flags.Sealed {
		return
	}
	o.Flags.Sealed = true
	o.Flags.Extensible = false
	o.forEachDescriptor(func(d *Descriptor) {
		d.Configurable = false
	})
}

func (o *Object) PreventExtensions() {
	o.Flags.Extensible = false
}

func (o *Object) forEachDescriptor(f func(*Descriptor)) {
	keys := o.OwnKeys()
	for _, k := range keys {
		if off, ok := o.offsetFor(k); ok {
			f(o.slotAt(off))
		}
	}
}

// OwnKeys returns the object's own keys, enumerable or not: element indices
// first ascending, then shape-stored keys in insertion order (ForInNext's
// enumerableOwnKeys keeps the indices and drops non-enumerable keys).
func (o *Object) OwnKeys() []shape.Key {
	var indices []shape.Key
	for i := range o.Elements {
		indices = append(indices, shape.IndexKey(uint32(i)))
	}
	var keys []shape.Key
	if o.dictMap != nil {
		// Slot offsets grow with insertion (nextOffset), so ordering the
		// dictionary's keys by offset restores insertion order.
		for k := range o.dictMap {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return o.dictMap[keys[i]] < o.dictMap[keys[j]] })
	} else {
		keys = o.sh.OwnKeys()
	}
	return append(indices, keys...)
}

// DescriptorAt returns the descriptor stored at a known offset, for callers
// (inline caches) that already resolved a property to its storage slot.
func (o *Object) DescriptorAt(offset int) (Descriptor, bool) {
	if offset < InlineSlots {
		return o.inline[offset], true
	}
	idx := offset - InlineSlots
	if idx < 0 || idx >= len(o.overflow) {
		return Descriptor{}, false
	}
	return o.overflow[idx], true
}

// DescriptorForKey resolves a key to its own descriptor, if present.
func (o *Object) DescriptorForKey(key shape.Key) (Descriptor, bool) {
	off, ok := o.offsetFor(key)
	if !ok {
		return Descriptor{}, false
	}
	return *o.slotAt(off), true
}

// Trace implements heap.Traceable. The prototype reference is owned state
// (spec.md §3.4) and must be marked like any slot, or an object reachable
// only through a prototype chain would be reclaimed.
func (o *Object) Trace(t *heap.Tracer) {
	for i := range o.inline {
		traceDescriptor(t, &o.inline[i])
	}
	for i := range o.overflow {
		traceDescriptor(t, &o.overflow[i])
	}
	for _, v := range o.Elements {
		t.MarkValue(v)
	}
	if o.Prototype != nil {
		t.MarkTraceable(o.Prototype)
	}
}

func traceDescriptor(t *heap.Tracer, d *Descriptor) {
	if d.IsAccessor {
		t.MarkValue(d.Get)
		t.MarkValue(d.Set)
		return
	}
	t.MarkValue(d.Value)
}
