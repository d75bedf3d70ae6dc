// Package gc implements the cooperative garbage collector that reclaims
// memory belonging to dropped indexes. Work is broken into small steps so
// a single collection run never blocks the transaction processor for
// long, and is deferred entirely while a checkpoint is in flight so the
// checkpoint's read-view keeps seeing a stable set of live objects.
package gc

import (
	"sync"
	"time"
)

// Task is one unit of deferred cleanup work: an index (or other
// structure) that has been dropped from its space but still owns memory
// that must be walked and released incrementally.
type Task interface {
	// RunStep performs one bounded unit of work and reports whether the
	// task has nothing left to do.
	RunStep() (done bool)
	// Free releases whatever bookkeeping the task itself still holds,
	// called once RunStep has reported done.
	Free()
}

// Worker drains a queue of Tasks cooperatively: one step per task per
// loop iteration, sleeping when the queue is empty, and holding finished
// tasks on a side list rather than freeing them immediately while a
// checkpoint is in flight (so a checkpoint's read-view never observes
// memory disappearing out from under it).
type Worker struct {
	idle time.Duration

	mu         sync.Mutex
	queue      []Task
	checkpoint bool // true while a checkpoint holds the delayed-free discipline
	deferred   []Task
	stopped    bool
	wake       chan struct{}
}

// NewWorker creates a Worker. idle is how long Run sleeps when the queue
// is empty (a Push wakes it early); pass 0 for a sensible default.
func NewWorker(idle time.Duration) *Worker {
	if idle <= 0 {
		idle = 10 * time.Millisecond
	}
	return &Worker{idle: idle, wake: make(chan struct{}, 1)}
}

// Push enqueues a task for cooperative collection.
func (w *Worker) Push(t Task) {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	w.mu.Unlock()
	w.poke()
}

func (w *Worker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SetCheckpointInFlight toggles whether the worker defers freeing
// completed tasks instead of releasing them immediately. Set true at
// checkpoint begin, false at checkpoint commit/abort — at which point
// every task that finished during the checkpoint is freed in one pass
// (see I3).
func (w *Worker) SetCheckpointInFlight(inFlight bool) {
	w.mu.Lock()
	w.checkpoint = inFlight
	var toFree []Task
	if !inFlight {
		toFree = w.deferred
		w.deferred = nil
	}
	w.mu.Unlock()

	for _, t := range toFree {
		t.Free()
	}
}

// RunOneStep advances exactly one task in the queue by one step,
// freeing it (or deferring its free) if that step finished it. It
// reports true when the queue was empty (no work to run) and false
// after running a step, so callers using the worker as an allocator's
// GCStepper (package tuple) know when to stop retrying.
func (w *Worker) RunOneStep() bool {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return true
	}
	t := w.queue[0]
	w.mu.Unlock()

	done := t.RunStep()

	w.mu.Lock()
	if len(w.queue) > 0 && w.queue[0] == t {
		w.queue = w.queue[1:]
	}
	if done {
		if w.checkpoint {
			w.deferred = append(w.deferred, t)
			w.mu.Unlock()
		} else {
			w.mu.Unlock()
			t.Free()
		}
	} else {
		w.queue = append(w.queue, t)
		w.mu.Unlock()
	}
	return false
}

// Pending reports how many tasks are still queued (not counting those
// finished but deferred behind a checkpoint), for statistics.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stop signals Run to exit after its current iteration.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.poke()
}

// Run loops RunOneStep until Stop is called, sleeping for idle whenever
// the queue was empty on the last pass. It is meant to be launched once
// as its own goroutine by the engine; RunOneStep itself is also safe to
// call directly (e.g. from the allocator's own out-of-memory retry path)
// without a Worker goroutine running concurrently.
func (w *Worker) Run() {
	for {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}

		empty := w.RunOneStep()
		if empty {
			select {
			case <-w.wake:
			case <-time.After(w.idle):
			}
		}
	}
}
