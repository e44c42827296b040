package worker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/octofhir/otter-sub002/internal/interpreter"
	"github.com/octofhir/otter-sub002/internal/otterlog"
)

// activeCount is the process-wide count of running workers (spec.md §4.10
// "an active-worker counter that keeps the host process's event loop alive
// while at least one worker is running"), mirroring how the interpreter's
// microtask queue tracks pending-job count for the same reason.
var activeCount int64

// ActiveCount reports how many workers are currently running, Unref'd
// workers included; the count does not consult Referenced.
func ActiveCount() int64 { return atomic.LoadInt64(&activeCount) }

// EventKind discriminates messages delivered to a Worker's event callback.
type EventKind uint8

const (
	EventMessage EventKind = iota
	EventError
	EventOnline
	EventExit
)

// Event is one notification delivered from a worker to its owner (the
// parent, for a child worker; the embedder, for EventOnline/EventExit).
type Event struct {
	Kind EventKind
	Data Message
	Err  error
}

// Worker is one isolated execution context: its own VM, heap, and
// microtask queue (spec.md §4.10 "each worker owns an independent VM
// instance, module graph, and microtask queue — no Value, Object, or Shape
// is ever shared across workers"). Cross-worker communication happens only
// through Message values passed over inbox/outbox channels.
type Worker struct {
	ID uuid.UUID

	VM *interpreter.VM

	inbox  chan Message
	events chan Event

	running int32
	closed  chan struct{}
	once    sync.Once

	// refd controls whether this worker keeps the host event loop alive;
	// Unref lets an embedder spawn "background" workers that don't block
	// process exit (spec.md §4.10, mirroring Node's worker.unref()).
	refd int32
}

// Spawn creates a new Worker wrapping a freshly constructed VM. entry runs
// on its own goroutine and should drive the worker's module graph
// (evaluate an entry module, run the microtask queue to completion, handle
// inbox messages) until the worker terminates or Terminate is called.
func Spawn(vm *interpreter.VM, entry func(w *Worker)) *Worker {
	w := &Worker{
		ID:     uuid.New(),
		VM:     vm,
		inbox:  make(chan Message, 64),
		events: make(chan Event, 64),
		closed: make(chan struct{}),
		refd:   1,
	}
	atomic.AddInt64(&activeCount, 1)
	atomic.StoreInt32(&w.running, 1)
	go func() {
		defer w.finish()
		entry(w)
	}()
	return w
}

func (w *Worker) finish() {
	atomic.StoreInt32(&w.running, 0)
	atomic.AddInt64(&activeCount, -1)
	w.once.Do(func() { close(w.closed) })
	select {
	case w.events <- Event{Kind: EventExit}:
	default:
		otterlog.Named("worker").Sugar().Debugw("exit event dropped, events channel full", "worker", w.ID)
	}
}

// Running reports whether the worker's goroutine is still executing.
func (w *Worker) Running() bool { return atomic.LoadInt32(&w.running) == 1 }

// Ref/Unref implement the keep-alive toggle spec.md §4.10 documents for
// both Worker and MessagePort: an unref'd handle must not by itself keep
// the host process's run loop alive.
func (w *Worker) Ref()   { atomic.StoreInt32(&w.refd, 1) }
func (w *Worker) Unref() { atomic.StoreInt32(&w.refd, 0) }

func (w *Worker) Referenced() bool { return atomic.LoadInt32(&w.refd) == 1 }

// PostMessage enqueues a structured-clone Message for the worker to
// receive on its inbox (spec.md §4.10 "postMessage clones its argument and
// delivers the clone asynchronously on the target worker's microtask
// queue"). Delivery is non-blocking from the sender's perspective: a full
// inbox drops the oldest unread message rather than stalling the caller,
// since a worker's inbox is bounded buffering, not a synchronization
// primitive.
func (w *Worker) PostMessage(m Message) {
	select {
	case <-w.closed:
		return // terminated or exited: no longer accepting messages
	default:
	}
	select {
	case w.inbox <- m:
	default:
		select {
		case <-w.inbox:
		default:
		}
		select {
		case w.inbox <- m:
		default:
		}
	}
}

// Inbox exposes the channel a worker's driving goroutine should range over
// to receive messages posted via PostMessage.
func (w *Worker) Inbox() <-chan Message { return w.inbox }

// Events exposes the channel an owner should range over to observe this
// worker's message/error/exit notifications.
func (w *Worker) Events() <-chan Event { return w.events }

// Emit delivers one event to this worker's owner, used by the worker's own
// driving goroutine to report an uncaught exception (EventError) or a
// message posted back to the parent (EventMessage).
func (w *Worker) Emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.closed:
	}
}

// Terminate stops accepting new inbox messages and signals termination;
// it does not forcibly interrupt code already executing (spec.md §4.10
// Non-goals: no forcible preemption of a running synchronous script).
func (w *Worker) Terminate() {
	w.once.Do(func() { close(w.closed) })
}

// Done reports the channel that closes when Terminate is called or the
// worker's entry function returns.
func (w *Worker) Done() <-chan struct{} { return w.closed }
