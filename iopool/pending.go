package iopool

import "sync/atomic"

// PendingCounter is a per-pool tally of in-flight posted callbacks (spec §3
// Pending Counter). A pool refuses to consider itself drained while its own
// counter is above zero. It is an atomic integer, per spec §5 Shared
// resources. Scoped per Pool rather than process-wide: a single global
// counter would make one pool's Stop() wait on posts belonging to an
// entirely different, still-busy pool.
type PendingCounter struct {
	n int64
}

// Inc is called when a post is scheduled.
func (p *PendingCounter) Inc() {
	atomic.AddInt64(&p.n, 1)
}

// Dec is called from the posted callback's finally-path.
func (p *PendingCounter) Dec() {
	atomic.AddInt64(&p.n, -1)
}

// Load returns the current count.
func (p *PendingCounter) Load() int64 {
	return atomic.LoadInt64(&p.n)
}
