package iopool

import "time"

// Timer is a (executor, deadline, callback) triple, per spec §3. It is
// created by anyone but only ever saved into, or forgotten from, its
// owning executor's live-timer set from that executor's serializer.
type Timer struct {
	executor *Executor
	timer    *time.Timer
	fn       func()
	canceled bool
}

// NewTimer schedules fn to run on e's serializer after d, and registers it
// in e's timer registry so that Pool.Stop's drain can guarantee it is
// canceled before the executor is allowed to stop. fn is never invoked
// with the timer still registered: it is removed from the registry
// immediately before firing.
func NewTimer(e *Executor, d time.Duration, fn func()) *Timer {
	t := &Timer{executor: e, fn: fn}
	t.timer = time.AfterFunc(d, func() {
		e.Post(func() {
			if t.canceled {
				return
			}
			e.forget(t)
			t.fn()
		})
	})
	e.Post(func() { e.save(t) })
	return t
}

// Cancel removes the timer from its executor's registry. A double cancel
// is a no-op, per spec §4.2.
func (t *Timer) Cancel() {
	e := t.executor
	e.Post(func() {
		if t.canceled {
			return
		}
		t.canceled = true
		t.timer.Stop()
		e.forget(t)
	})
}
