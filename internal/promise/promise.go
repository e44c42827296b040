// Package promise implements Otter's promise state machine and reaction
// scheduling (spec.md §3.6, §4.6).
package promise

import (
	"github.com/octofhir/otter-sub002/internal/heap"
	"github.com/octofhir/otter-sub002/internal/microtask"
	"github.com/octofhir/otter-sub002/internal/value"
)

// State is one of the observable promise states, plus the internal
// PendingThenable state while a thenable assimilation is in flight
// (spec.md §4.6).
type State int

const (
	Pending State = iota
	PendingThenable
	Fulfilled
	Rejected
)

// ThenableResolver is supplied by the interpreter: it knows how to look up
// `then` on an arbitrary Value and invoke it. Kept out of this package so
// promise has no dependency on the object model.
type ThenableResolver interface {
	// IsThenable reports whether v has a callable `then`.
	IsThenable(v value.Value) bool
	// CallThen invokes v.then(resolve, reject) where resolve/reject settle p.
	CallThen(v value.Value, p *Promise)
	// MakeTypeError builds a TypeError Value with the given message, used
	// for the "cannot resolve self" case (spec.md §4.6).
	MakeTypeError(message string) value.Value
}

// UnhandledReporter is optionally implemented by a ThenableResolver that
// wants rejected-with-no-reaction promises surfaced through a host hook
// (spec.md §7: "Unhandled rejections of top-level promises surface through
// a host-visible hook"). The check runs as a microtask enqueued at
// rejection time, so a reaction attached later in the same turn still
// counts as handled.
type UnhandledReporter interface {
	ReportUnhandled(reason value.Value)
}

// JSValueError is implemented by errors that carry a JS value (the
// interpreter's ThrownValue); reaction handlers failing with one reject the
// result promise with the original value rather than a stringified error.
type JSValueError interface {
	JSValue() value.Value
}

// reaction is one then/catch/finally attachment. run is invoked with the
// settled value once scheduled as a microtask; it never runs synchronously
// inside resolve/reject (spec.md §4.6).
type reaction struct {
	run func(value.Value)
}

// Promise is a GC-traced promise object.
type Promise struct {
	self  value.Value // this promise's own boxed Value, for self-resolution detection
	state State
	value value.Value

	fulfillRxs []reaction
	rejectRxs  []reaction
	handled    bool // a rejection reaction (or passthrough) has been attached

	queue    *microtask.Queue
	resolver ThenableResolver
}

func New(q *microtask.Queue, resolver ThenableResolver) *Promise {
	return &Promise{state: Pending, value: value.Undefined, queue: q, resolver: resolver}
}

// SetSelf records this promise's own boxed heap Value so Resolve can detect
// `resolve(this)` (spec.md §4.6: "resolve(v) where v === this rejects with
// a TypeError"). Callers set this immediately after allocating the
// promise's heap slot.
func (p *Promise) SetSelf(v value.Value) { p.self = v }

func (p *Promise) State() State       { return p.state }
func (p *Promise) Value() value.Value { return p.value }

func (p *Promise) Trace(t *heap.Tracer) {
	t.MarkValue(p.value)
}

// Resolve implements the resolve(v) capability (spec.md §4.6). Once
// settled, a promise never changes state and further resolve/reject calls
// are no-ops (spec.md invariant #5).
func (p *Promise) Resolve(v value.Value) {
	if p.state != Pending {
		return
	}
	if p.self != value.Undefined && v == p.self {
		p.doReject(p.resolver.MakeTypeError("cannot resolve a promise with itself"))
		return
	}
	if p.resolver != nil && p.resolver.IsThenable(v) {
		p.state = PendingThenable
		p.queue.Enqueue(microtask.Job{
			Kind:  "ResolveThenableLookup",
			Run:   func() { p.resolver.CallThen(v, p) },
			Roots: []value.Value{v},
		})
		return
	}
	p.doFulfill(v)
}

// Reject implements the reject(e) capability: unconditional, no thenable
// assimilation (spec.md §4.6).
func (p *Promise) Reject(e value.Value) {
	if p.state != Pending {
		return
	}
	p.doReject(e)
}

// FulfillDirect settles a promise parked in PendingThenable once its
// thenable's `then` resolves it — the only path allowed to settle out of
// that internal state (spec.md §4.6: "the promise remains internally
// pending during this window but is not settleable by other paths").
func (p *Promise) FulfillDirect(v value.Value) {
	if p.state != Pending && p.state != PendingThenable {
		return
	}
	p.doFulfill(v)
}

// RejectDirect is FulfillDirect's rejection counterpart.
func (p *Promise) RejectDirect(e value.Value) {
	if p.state != Pending && p.state != PendingThenable {
		return
	}
	p.doReject(e)
}

func (p *Promise) doFulfill(v value.Value) {
	p.state = Fulfilled
	p.value = v
	rxs := p.fulfillRxs
	p.fulfillRxs, p.rejectRxs = nil, nil
	for _, r := range rxs {
		p.scheduleReaction(r)
	}
}

func (p *Promise) doReject(e value.Value) {
	p.state = Rejected
	p.value = e
	rxs := p.rejectRxs
	p.fulfillRxs, p.rejectRxs = nil, nil
	for _, r := range rxs {
		p.scheduleReaction(r)
	}
	if reporter, ok := p.resolver.(UnhandledReporter); ok {
		p.queue.Enqueue(microtask.Job{Kind: "unhandled-check", Roots: []value.Value{e}, Run: func() {
			if !p.handled {
				reporter.ReportUnhandled(e)
			}
		}})
	}
}

func (p *Promise) scheduleReaction(r reaction) {
	v := p.value
	p.queue.Enqueue(microtask.Job{Kind: "reaction", Run: func() { r.run(v) }, Roots: []value.Value{v}})
}

// Then attaches fulfill/reject handlers and returns a new result promise.
// If the receiver is already settled, the reaction is enqueued immediately
// (spec.md §4.6). A nil handler passes the settlement through unchanged,
// giving catch()/plain then(onFulfilled) their usual semantics.
func (p *Promise) Then(onFulfilled, onRejected func(value.Value) (value.Value, error)) *Promise {
	result := New(p.queue, p.resolver)
	p.handled = true

	fulfillRun := wrapHandler(onFulfilled, result, true)
	rejectRun := wrapHandler(onRejected, result, false)

	switch p.state {
	case Fulfilled:
		v := p.value
		p.queue.Enqueue(microtask.Job{Kind: "then-fulfill", Run: func() { fulfillRun(v) }, Roots: []value.Value{v}})
	case Rejected:
		v := p.value
		p.queue.Enqueue(microtask.Job{Kind: "then-reject", Run: func() { rejectRun(v) }, Roots: []value.Value{v}})
	default:
		p.fulfillRxs = append(p.fulfillRxs, reaction{run: fulfillRun})
		p.rejectRxs = append(p.rejectRxs, reaction{run: rejectRun})
	}
	return result
}

// Finally attaches a callback run regardless of settlement, per spec.md
// §3.6's queue of finally callbacks; it does not observe or alter the
// settled value (unless it throws, which onFinally signals via error).
func (p *Promise) Finally(onFinally func() error) *Promise {
	return p.Then(
		func(v value.Value) (value.Value, error) {
			if err := onFinally(); err != nil {
				return value.Undefined, err
			}
			return v, nil
		},
		func(v value.Value) (value.Value, error) {
			if err := onFinally(); err != nil {
				return value.Undefined, err
			}
			return value.Undefined, &rejectedPassthrough{v: v}
		},
	)
}

// rejectedPassthrough lets Finally's reject branch re-reject with the
// original reason after running the finally callback.
type rejectedPassthrough struct{ v value.Value }

func (r *rejectedPassthrough) Error() string { return "rejected" }

func wrapHandler(h func(value.Value) (value.Value, error), result *Promise, isFulfill bool) func(value.Value) {
	return func(v value.Value) {
		if h == nil {
			if isFulfill {
				result.Resolve(v)
			} else {
				result.Reject(v)
			}
			return
		}
		out, err := h(v)
		if err != nil {
			if rp, ok := err.(*rejectedPassthrough); ok {
				result.Reject(rp.v)
				return
			}
			if je, ok := err.(JSValueError); ok {
				result.Reject(je.JSValue())
				return
			}
			result.Reject(result.resolver.MakeTypeError(err.Error()))
			return
		}
		result.Resolve(out)
	}
}
