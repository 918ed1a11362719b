// Package iopool implements the I/O Pool of spec §4.1: a fixed set of
// single-threaded executors, each owning one serializer, used to run
// every session, timer and dispatcher callback in kcprpc.
package iopool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xtaci/kcprpc/kcprpcerr"
)

// AUTO requests Pool.Get to advance its round-robin cursor rather than
// return a specific executor.
const AUTO = -1

// Pool owns N executors and starts/stops them as a unit.
type Pool struct {
	log zerolog.Logger

	mu        sync.Mutex
	executors []*Executor
	guards    []*WorkGuard
	cursor    uint64
	started   int32
	wg        sync.WaitGroup
	pending   PendingCounter
}

// New builds a pool of n executors. n<=0 is coerced to 2x GOMAXPROCS, per
// spec §4.1. The pool's Pending Counter (spec §3) is scoped to this pool:
// every executor it owns shares the same counter, so Stop only ever waits
// on its own in-flight posts, never another pool's.
func New(n int, log zerolog.Logger) *Pool {
	if n <= 0 {
		n = 2 * runtime.GOMAXPROCS(0)
	}
	p := &Pool{log: log}
	p.executors = make([]*Executor, n)
	for i := range p.executors {
		p.executors[i] = newExecutor(i, &p.pending)
	}
	return p
}

// Start resets each executor and spawns one worker goroutine per
// executor, pinned to it for its lifetime. Returns ErrAlreadyStarted if
// the pool is already running.
func (p *Pool) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return errors.WithStack(kcprpcerr.ErrAlreadyStarted)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guards = make([]*WorkGuard, len(p.executors))
	for i, e := range p.executors {
		p.guards[i] = e.reset()
		p.wg.Add(1)
		go func(e *Executor) {
			defer p.wg.Done()
			e.run()
		}(e)
	}
	p.log.Info().Int("executors", len(p.executors)).Msg("iopool started")
	return nil
}

// Stop is idempotent. Called from within a pool worker goroutine it
// returns immediately without error, since draining the pool from inside
// one of its own workers would self-deadlock; the caller is expected to
// let the outer stop complete asynchronously in that case.
func (p *Pool) Stop() {
	if p.RunningInPool() {
		p.log.Warn().Msg("iopool Stop called from within a pool executor, ignoring")
		return
	}
	if !atomic.CompareAndSwapInt32(&p.started, 1, 0) {
		return
	}
	p.drain()
	p.wg.Wait()
	p.log.Info().Msg("iopool stopped")
}

// drain implements the algorithm of spec §4.1: wait for this pool's
// pending counter, release the acceptor executor's guard first and let it
// settle, then release the rest.
func (p *Pool) drain() {
	for p.pending.Load() > 0 {
		runtime.Gosched()
	}

	if len(p.executors) == 0 {
		return
	}

	acceptor := p.executors[0]
	p.executors[0].requestStop()
	p.guards[0].Release()
	p.settle(acceptor)

	for i := 1; i < len(p.executors); i++ {
		p.executors[i].requestStop()
		p.guards[i].Release()
	}
	for i := 1; i < len(p.executors); i++ {
		p.settle(p.executors[i])
	}
}

// settle repeatedly cancels whatever timers have slipped onto e since the
// guard was released, with an exponentially clamped backoff, until e
// reports itself stopped.
func (p *Pool) settle(e *Executor) {
	backoff := time.Millisecond
	const maxBackoff = 10 * time.Millisecond
	for !e.Stopped() {
		e.cancelAll()
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Get returns executor index%N, or advances the round-robin cursor when
// index is AUTO.
func (p *Pool) Get(index int) *Executor {
	n := len(p.executors)
	if index == AUTO {
		i := atomic.AddUint64(&p.cursor, 1) - 1
		return p.executors[int(i%uint64(n))]
	}
	if index < 0 {
		index = -index
	}
	return p.executors[index%n]
}

// Size returns the number of executors in the pool.
func (p *Pool) Size() int {
	return len(p.executors)
}

// Pending returns this pool's own in-flight post count (spec §3 Pending
// Counter), scoped to this pool alone.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// RunningInPool reports whether the calling goroutine is one of this
// pool's workers.
func (p *Pool) RunningInPool() bool {
	for _, e := range p.executors {
		if e.RunningHere() {
			return true
		}
	}
	return false
}

// RunningInExecutor reports whether the calling goroutine is executor i's
// worker.
func (p *Pool) RunningInExecutor(i int) bool {
	return p.Get(i).RunningHere()
}

// IsStarted reports whether Start has been called without a matching
// Stop.
func (p *Pool) IsStarted() bool {
	return atomic.LoadInt32(&p.started) == 1
}
