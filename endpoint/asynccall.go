package endpoint

import (
	"time"

	"github.com/xtaci/kcprpc/correlate"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

// AsyncCallHandle is the chainable builder behind spec §6's
// async_call(...).response(cb).timeout(d), reinstated from the original
// asio2 rpc_kcp.cpp fluent call site (SPEC_FULL.md §3): Response and
// Timeout may be chained in either order, and nothing is sent over the
// wire until Enqueue is called.
type AsyncCallHandle[T any] struct {
	b       *base
	entry   *sessionEntry
	name    string
	args    []interface{}
	timeout time.Duration
	onResp  func(T, error)
}

func newAsyncCallHandle[T any](b *base, entry *sessionEntry, name string, args []interface{}) *AsyncCallHandle[T] {
	return &AsyncCallHandle[T]{b: b, entry: entry, name: name, args: args}
}

// Timeout overrides the per-call deadline.
func (h *AsyncCallHandle[T]) Timeout(d time.Duration) *AsyncCallHandle[T] {
	h.timeout = d
	return h
}

// Response registers the callback invoked with the decoded result (or the
// zero value and an error).
func (h *AsyncCallHandle[T]) Response(cb func(T, error)) *AsyncCallHandle[T] {
	h.onResp = cb
	return h
}

// Enqueue frames and transmits the call. It is the terminal operation of
// the chain; Timeout/Response have no effect once Enqueue has run.
func (h *AsyncCallHandle[T]) Enqueue() {
	var zero T
	if h.entry == nil {
		h.deliver(zero, kcprpcerr.ErrNotConnected)
		return
	}
	session := h.entry.session
	executor := session.Executor()

	nested := executor.RunningHere() && session.InHandler()

	executor.Post(func() {
		if nested {
			h.b.dispatcher.NoteNestedCall()
		}
		h.run()
	})
}

func (h *AsyncCallHandle[T]) run() {
	var zero T
	session := h.entry.session

	if st := session.Status(); st != kcpconn.Connected {
		h.deliver(zero, kcprpcerr.ErrNotConnected)
		return
	}

	payload, err := wire.MarshalArgs(h.args...)
	if err != nil {
		h.deliver(zero, err)
		return
	}

	_, waiter, err := h.entry.corr.BeginCall(session, h.name, payload, h.timeout)
	if err != nil {
		h.deliver(zero, err)
		return
	}

	executor := session.Executor()
	go func() {
		res := <-waiter.C()
		executor.Post(func() { h.resolve(res) })
	}()
}

func (h *AsyncCallHandle[T]) resolve(res correlate.CallResult) {
	var zero T
	if res.Err != nil {
		h.deliver(zero, res.Err)
		return
	}
	var v T
	if len(res.Payload) > 0 {
		if err := wire.UnmarshalValue(res.Payload, &v); err != nil {
			h.deliver(zero, kcprpcerr.ErrInvalidArgument)
			return
		}
	}
	h.deliver(v, nil)
}

// deliver runs on h.entry.session's executor whenever h.entry is non-nil
// (Enqueue only calls it directly, off-executor, for the no-session case).
// The response callback is bracketed as a handler context so an AsyncCall
// it issues in turn, chained off a prior call's reply, is itself counted
// as nested.
func (h *AsyncCallHandle[T]) deliver(v T, err error) {
	h.b.setLastError(err)
	if h.onResp == nil {
		return
	}
	if h.entry != nil {
		h.entry.session.EnterHandler()
		defer h.entry.session.ExitHandler()
	}
	h.onResp(v, err)
}

// Call issues a synchronous, blocking call and returns the decoded
// result. If invoked from the session's own executor it returns
// immediately with kcprpcerr.ErrInProgress and performs no call, per
// spec §4.5 and §8 scenario S6.
func Call[T any](b *base, entry *sessionEntry, name string, timeout time.Duration, args ...interface{}) (T, error) {
	var zero T
	if entry.session.Executor().RunningHere() {
		b.setLastError(kcprpcerr.ErrInProgress)
		return zero, kcprpcerr.ErrInProgress
	}

	done := make(chan struct{})
	var result T
	var resultErr error

	h := newAsyncCallHandle[T](b, entry, name, args).Timeout(timeout)
	h.Response(func(v T, err error) {
		result, resultErr = v, err
		close(done)
	})
	h.Enqueue()
	<-done
	b.setLastError(resultErr)
	return result, resultErr
}

// AsyncCall builds an AsyncCallHandle for a fluent, non-blocking call.
func AsyncCall[T any](b *base, entry *sessionEntry, name string, args ...interface{}) *AsyncCallHandle[T] {
	return newAsyncCallHandle[T](b, entry, name, args)
}
