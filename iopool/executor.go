package iopool

import (
	"sync/atomic"
	"time"
)

// Executor is a single-threaded run loop: a reactor plus a serializer
// token for every session, timer, and handler bound to it (spec §3). All
// state reachable only from its own worker goroutine is unsynchronized;
// everything else reaches the executor through Post.
type Executor struct {
	id       int
	jobs     chan func()
	guards   int32
	stopping int32
	stopped  int32
	gid      uint64 // goroutine id of the running worker, 0 when idle

	pending *PendingCounter
	timers  map[*Timer]struct{}
}

func newExecutor(id int, pending *PendingCounter) *Executor {
	return &Executor{
		id:      id,
		jobs:    make(chan func(), 4096),
		pending: pending,
		timers:  make(map[*Timer]struct{}),
	}
}

// reset prepares the executor for a fresh Pool.Start, taking out the
// initial work-guard that keeps it alive until Pool.Stop begins draining.
func (e *Executor) reset() *WorkGuard {
	atomic.StoreInt32(&e.stopping, 0)
	atomic.StoreInt32(&e.stopped, 0)
	atomic.StoreInt32(&e.guards, 1)
	return &WorkGuard{e: e}
}

// Post schedules fn to run on e's serializer. Safe to call from any
// goroutine, including e's own worker (in which case fn still runs after
// whatever is currently executing, never reentrantly).
func (e *Executor) Post(fn func()) {
	e.pending.Inc()
	e.jobs <- func() {
		defer e.pending.Dec()
		fn()
	}
}

// TakeGuard issues a new WorkGuard, keeping the executor's run loop alive
// even if the job queue drains to empty. Used by long-lived owners (the
// server's acceptor loop) that must not let the executor exit merely
// because it is momentarily idle.
func (e *Executor) TakeGuard() *WorkGuard {
	atomic.AddInt32(&e.guards, 1)
	return &WorkGuard{e: e}
}

// idleCheckInterval bounds how long the worker loop can block on an empty
// job queue before re-checking whether stop was requested and it has
// become idle. Small enough that Pool.Stop's drain observes exit
// promptly; large enough that a steady-state idle executor does not spin.
const idleCheckInterval = 2 * time.Millisecond

// run is the executor's worker loop. It returns once stopping has been
// requested and both the job queue is empty and no work-guard remains.
func (e *Executor) run() {
	e.gid = goroutineID()
	defer func() {
		atomic.StoreInt32(&e.stopped, 1)
		e.gid = 0
	}()
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-ticker.C:
			if atomic.LoadInt32(&e.stopping) == 1 && e.idle() {
				return
			}
		}
	}
}

func (e *Executor) idle() bool {
	return atomic.LoadInt32(&e.guards) <= 0 && len(e.jobs) == 0
}

// requestStop marks the executor as wanting to stop; it will actually
// exit once it becomes idle.
func (e *Executor) requestStop() {
	atomic.StoreInt32(&e.stopping, 1)
}

// Stopped reports whether the worker goroutine has returned.
func (e *Executor) Stopped() bool {
	return atomic.LoadInt32(&e.stopped) == 1
}

// RunningHere reports whether the calling goroutine is this executor's
// own worker goroutine.
func (e *Executor) RunningHere() bool {
	g := e.gid
	return g != 0 && g == goroutineID()
}

func (e *Executor) save(t *Timer) {
	e.timers[t] = struct{}{}
}

func (e *Executor) forget(t *Timer) {
	delete(e.timers, t)
}

// cancelAll posts a pass that cancels every timer currently registered on
// e. Pool.settle calls it repeatedly until the executor reports itself
// stopped, since timers posted concurrently by user code can slip in after
// a single pass (spec §4.1 rationale).
func (e *Executor) cancelAll() {
	e.Post(func() {
		for t := range e.timers {
			t.canceled = true
			t.timer.Stop()
			delete(e.timers, t)
		}
	})
}

// TimerCount returns the number of live timers registered on e. Only
// meaningful when read from e's own worker goroutine, or after the
// executor has fully stopped.
func (e *Executor) TimerCount() int {
	return len(e.timers)
}

// Index returns the executor's position within its pool.
func (e *Executor) Index() int {
	return e.id
}
