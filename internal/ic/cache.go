// Package ic implements Otter's inline-cache engine (spec.md §4.5):
// monomorphic/polymorphic/megamorphic caches for property access, globals,
// and method calls, keyed by shape identity.
package ic

import "github.com/octofhir/otter-sub002/internal/shape"

// State is the monotonic IC lifecycle (spec.md §4.5). Invalidation resets a
// slot to Uninitialized; transitions never go backward otherwise.
type State int

const (
	Uninitialized State = iota
	Monomorphic
	Polymorphic
	Megamorphic
)

const polymorphicCap = 4

// ShapeEntry pairs an observed shape with the offset a property resolved to
// under it.
type ShapeEntry struct {
	Shape      *shape.Shape
	Generation uint64
	Offset     int
}

// PropertyCache is a per-call-site cache for GetProp/SetProp (spec.md §4.5
// "Shape ICs").
type PropertyCache struct {
	state   State
	entries []ShapeEntry
}

// Lookup returns the cached offset for sh if present and still valid (its
// recorded generation matches the shape's current generation).
func (c *PropertyCache) Lookup(sh *shape.Shape) (int, bool) {
	for _, e := range c.entries {
		if e.Shape == sh && e.Generation == sh.Generation() {
			return e.Offset, true
		}
	}
	return 0, false
}

// Record transitions the cache state and stores a new observed shape,
// following the Uninitialized -> Monomorphic -> Polymorphic -> Megamorphic
// ladder (spec.md §4.5 States). Once Megamorphic, no further specialization
// is attempted.
func (c *PropertyCache) Record(sh *shape.Shape, offset int) {
	if c.state == Megamorphic {
		return
	}
	for i, e := range c.entries {
		if e.Shape == sh {
			c.entries[i] = ShapeEntry{Shape: sh, Generation: sh.Generation(), Offset: offset}
			return
		}
	}
	c.entries = append(c.entries, ShapeEntry{Shape: sh, Generation: sh.Generation(), Offset: offset})
	switch {
	case len(c.entries) == 1:
		c.state = Monomorphic
	case len(c.entries) <= polymorphicCap:
		c.state = Polymorphic
	default:
		c.state = Megamorphic
		c.entries = nil // megamorphic caches stop tracking individual shapes
	}
}

func (c *PropertyCache) State() State { return c.state }

// Invalidate resets the cache to Uninitialized, used when a shape deletion
// or prototype mutation invalidates every IC keyed on the old shape
// (spec.md §4.5 Invariants).
func (c *PropertyCache) Invalidate() {
	c.state = Uninitialized
	c.entries = nil
}

// GlobalCache is a per-name cache for GetGlobal/SetGlobal (spec.md §4.5
// "Global ICs"): name -> (global property offset, shape of globalThis).
type GlobalCache struct {
	shape      *shape.Shape
	generation uint64
	offset     int
	valid      bool
}

func (c *GlobalCache) Lookup(globalShape *shape.Shape) (int, bool) {
	if !c.valid || c.shape != globalShape || c.generation != globalShape.Generation() {
		return 0, false
	}
	return c.offset, true
}

func (c *GlobalCache) Record(globalShape *shape.Shape, offset int) {
	c.shape, c.generation, c.offset, c.valid = globalShape, globalShape.Generation(), offset, true
}

// MethodCache is a per-call-site cache for CallMethod (spec.md §4.5
// "Method ICs"): receiver shape -> resolved function reference (opaque,
// e.g. a closure heap ref threaded through by the interpreter).
type MethodCache struct {
	shape    *shape.Shape
	resolved uint64
	valid    bool
}

func (c *MethodCache) Lookup(sh *shape.Shape) (uint64, bool) {
	if c.valid && c.shape == sh {
		return c.resolved, true
	}
	return 0, false
}

func (c *MethodCache) Record(sh *shape.Shape, resolved uint64) {
	c.shape, c.resolved, c.valid = sh, resolved, true
}

// BinaryOpCache tracks observed operand type pairs for a binary operator
// site (spec.md §4.5 "Binary-op type ICs"), e.g. int32×int32, f64×f64,
// string×string.
type BinaryOpCache struct {
	state   State
	pairs   [][2]string
}

func (c *BinaryOpCache) Record(lhsType, rhsType string) {
	if c.state == Megamorphic {
		return
	}
	for _, p := range c.pairs {
		if p[0] == lhsType && p[1] == rhsType {
			return
		}
	}
	c.pairs = append(c.pairs, [2]string{lhsType, rhsType})
	switch {
	case len(c.pairs) == 1:
		c.state = Monomorphic
	case len(c.pairs) <= polymorphicCap:
		c.state = Polymorphic
	default:
		c.state = Megamorphic
		c.pairs = nil
	}
}

func (c *BinaryOpCache) State() State { return c.state }

func (c *BinaryOpCache) IsMonomorphicPair(lhsType, rhsType string) bool {
	return c.state == Monomorphic && len(c.pairs) == 1 && c.pairs[0][0] == lhsType && c.pairs[0][1] == rhsType
}
