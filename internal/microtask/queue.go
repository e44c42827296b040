// Package microtask implements the FIFO job queue that drives promise
// reactions and queueMicrotask (spec.md §4.6, §5 Ordering).
package microtask

import "github.com/octofhir/otter-sub002/internal/value"

// Job is one queued microtask: a callable, its `this` binding, and whatever
// continuation state the enqueuer needs (reaction kind, result promise,
// etc. — left to callers as a closure over Run). Roots lists the heap
// Values the job's closure captures (a settled value, a callback) so a
// collection between tasks keeps them live — pending microtask callbacks
// are on spec.md §4.1's root list.
type Job struct {
	Kind  string
	Run   func()
	Roots []value.Value
}

// Queue is a single realm's microtask queue. It is not safe for concurrent
// use: a realm is single-threaded (spec.md §5 Scheduling).
type Queue struct {
	jobs []Job
}

func New() *Queue { return &Queue{} }

// Enqueue appends a job to the tail of the queue (spec.md §5 Ordering:
// queueMicrotask enqueues at the tail of the current queue).
func (q *Queue) Enqueue(j Job) {
	q.jobs = append(q.jobs, j)
}

func (q *Queue) Len() int { return len(q.jobs) }

// Roots flattens every pending job's captured Values for the collector.
func (q *Queue) Roots() []value.Value {
	var out []value.Value
	for _, j := range q.jobs {
		out = append(out, j.Roots...)
	}
	return out
}

// Drain runs every job currently queued, including jobs newly enqueued by
// jobs that ran earlier in the same Drain call — draining is cooperative
// and continues until the queue is empty (spec.md §4.6, §5).
func (q *Queue) Drain() {
	for len(q.jobs) > 0 {
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		j.Run()
	}
}
