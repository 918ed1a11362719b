package rpc

import "sync"

// Future is the "Future(handle -> T)" arm of the handler-result sum type
// described in spec §9: a handler may return one of these instead of a
// plain value, and the dispatcher awaits it on the same executor before
// encoding a reply.
type Future interface {
	// Subscribe registers cb to run exactly once, when the future
	// settles. If the future has already settled, cb runs
	// (synchronously or not, at the implementation's discretion) as if
	// newly settled. Subscribe must never block.
	Subscribe(cb func(value interface{}, err error))
}

// SettableFuture is a one-shot Future a handler can return immediately
// and fulfill later from another goroutine (an I/O callback, a timer,
// another executor). It is the concrete type async handlers use to
// satisfy shape 4 of spec §4.6.
type SettableFuture struct {
	ch   chan struct{}
	once sync.Once

	value interface{}
	err   error
}

// NewSettableFuture returns an unset future.
func NewSettableFuture() *SettableFuture {
	return &SettableFuture{ch: make(chan struct{})}
}

// Set fulfills the future. Safe to call concurrently from any goroutine;
// only the first call has effect.
func (f *SettableFuture) Set(value interface{}, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.ch)
	})
}

// Subscribe implements Future.
func (f *SettableFuture) Subscribe(cb func(value interface{}, err error)) {
	go func() {
		<-f.ch
		cb(f.value, f.err)
	}()
}
