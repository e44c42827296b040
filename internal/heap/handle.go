package heap

import "github.com/octofhir/otter-sub002/internal/value"

// Handle is an index into a per-context root slot vector (spec.md §3.9):
// the only safe way to hold a reference across a potential allocation or
// JS call.
type Handle struct {
	scope *HandleScope
	slot  int
}

// Get returns the rooted Value.
func (hd Handle) Get() value.Value {
	return hd.scope.root.values[hd.slot]
}

// Set overwrites the rooted Value in place.
func (hd Handle) Set(v value.Value) {
	hd.scope.root.values[hd.slot] = v
}

// HandleScope is a RAII region that records the root-slot vector length at
// construction and truncates back to it on Close, unrooting every handle
// created within. Scopes nest; an inner scope must Close before its outer
// scope closes — callers are expected to defer Close immediately after
// OpenScope, mirroring Go's own nesting discipline.
type HandleScope struct {
	root   *rootSlots
	parent *HandleScope
	mark   int
	closed bool
}

// rootSlots is the shared backing vector for an entire scope chain within
// one context; each HandleScope records its start index (mark) into it and
// Close truncates the vector back to that mark, so scope truncation is
// O(1).
type rootSlots struct {
	values []value.Value
}

// Context owns the handle-scope chain for one realm/thread of execution.
type Context struct {
	root    rootSlots
	current *HandleScope
}

func NewContext() *Context {
	return &Context{}
}

// OpenScope pushes a new handle scope. Callers must Close it, in LIFO order,
// before the enclosing scope (if any) is closed.
func (c *Context) OpenScope() *HandleScope {
	s := &HandleScope{root: &c.root, parent: c.current, mark: len(c.root.values)}
	c.current = s
	return s
}

// New roots v and returns a Handle valid until this scope (or any enclosing
// scope) closes.
func (s *HandleScope) New(v value.Value) Handle {
	s.root.values = append(s.root.values, v)
	return Handle{scope: s, slot: len(s.root.values) - 1}
}

// Close truncates the root vector back to this scope's construction-time
// length, unrooting every handle created within it.
func (s *HandleScope) Close(c *Context) {
	if s.closed {
		return
	}
	s.closed = true
	c.root.values = c.root.values[:s.mark]
	c.current = s.parent
}

// Roots returns the live Values currently rooted across every open scope in
// this context — the RootProvider the heap calls during collection.
func (c *Context) Roots() []value.Value {
	return c.root.values
}
