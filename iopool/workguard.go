package iopool

import "sync/atomic"

// WorkGuard is a token whose presence prevents an executor from returning
// from its run loop even when it is momentarily idle (spec GLOSSARY). An
// executor is reset with exactly one guard outstanding on Pool.Start and
// runs until that guard (and any others taken out since) is released.
type WorkGuard struct {
	e        *Executor
	released int32
}

// Release drops the guard. It is idempotent; releasing twice is a no-op.
func (g *WorkGuard) Release() {
	if atomic.CompareAndSwapInt32(&g.released, 0, 1) {
		atomic.AddInt32(&g.e.guards, -1)
	}
}
