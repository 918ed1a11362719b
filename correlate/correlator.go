// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package correlate implements the Call Correlator of spec §4.5: the
// mapping from call ids to waiters, with per-call timeouts and
// session-loss cancellation.
package correlate

import (
	"time"

	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

// Sender is the narrow interface the correlator needs from a session: the
// ability to frame and transmit a request envelope.
type Sender interface {
	Send(env *wire.Envelope) error
}

// CallResult is delivered to a Waiter exactly once.
type CallResult struct {
	Payload []byte
	Err     error
}

// Waiter is the one-shot sink a caller blocks on (spec GLOSSARY).
type Waiter struct {
	ch chan CallResult
}

// C returns the channel the terminal CallResult arrives on.
func (w *Waiter) C() <-chan CallResult { return w.ch }

func newWaiter() *Waiter {
	return &Waiter{ch: make(chan CallResult, 1)}
}

func (w *Waiter) complete(r CallResult) {
	select {
	case w.ch <- r:
	default:
	}
}

// CallRecord is the correlator's bookkeeping for one outstanding call
// (spec §3 Call Record).
type CallRecord struct {
	ID     uint64
	waiter *Waiter
	timer  *iopool.Timer
}

// Correlator must only ever be driven from its bound executor's
// goroutine: every exported method here assumes that invariant and does
// not take its own lock, matching spec §4.5 ("all on the session
// executor's serializer"). Endpoints are responsible for posting onto
// that executor before calling in from arbitrary goroutines.
type Correlator struct {
	executor       *iopool.Executor
	defaultTimeout time.Duration
	nextID         uint64
	table          map[uint64]*CallRecord
}

// New builds a Correlator bound to executor, issuing defaultTimeout to
// calls that do not specify their own.
func New(executor *iopool.Executor, defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = 3 * time.Second
	}
	return &Correlator{
		executor:       executor,
		defaultTimeout: defaultTimeout,
		table:          make(map[uint64]*CallRecord),
	}
}

// BeginCall allocates the next call_id, frames and sends a request
// envelope for name/argsPayload through sender, and registers a timeout
// timer. On send failure no entry is inserted and the error is returned
// directly; the caller should not expect a Waiter.
func (c *Correlator) BeginCall(sender Sender, name string, argsPayload []byte, timeout time.Duration) (uint64, *Waiter, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	c.nextID++
	id := c.nextID

	env := &wire.Envelope{Dir: wire.Request, CallID: id, Name: name, Payload: argsPayload}
	if err := sender.Send(env); err != nil {
		c.nextID--
		return 0, nil, err
	}

	w := newWaiter()
	rec := &CallRecord{ID: id, waiter: w}
	rec.timer = iopool.NewTimer(c.executor, timeout, func() {
		c.onTimeout(id)
	})
	c.table[id] = rec
	return id, w, nil
}

// OnReply delivers a reply payload (errCode 0) or the error that
// kcprpcerr.WireToError maps errCode to (errCode != 0: not_found,
// invalid_argument, an internal error, or an application error) to the
// waiter registered for callID, and removes the
// entry. A reply for an id with no entry is a late reply and is
// silently discarded.
func (c *Correlator) OnReply(callID uint64, payload []byte, errCode uint32, errMsg string) {
	rec, ok := c.table[callID]
	if !ok {
		return
	}
	delete(c.table, callID)
	rec.timer.Cancel()
	if errCode != kcprpcerr.WireOK {
		rec.waiter.complete(CallResult{Err: kcprpcerr.WireToError(errCode, errMsg)})
		return
	}
	rec.waiter.complete(CallResult{Payload: payload})
}

// onTimeout fires from the call's timer, on the same serializer as
// OnReply, so the two are mutually exclusive per entry: whichever runs
// first removes it.
func (c *Correlator) onTimeout(callID uint64) {
	rec, ok := c.table[callID]
	if !ok {
		return
	}
	delete(c.table, callID)
	rec.waiter.complete(CallResult{Err: kcprpcerr.ErrTimedOut})
}

// Cancel completes callID's waiter with operation_aborted and removes the
// entry, if present.
func (c *Correlator) Cancel(callID uint64) {
	rec, ok := c.table[callID]
	if !ok {
		return
	}
	delete(c.table, callID)
	rec.timer.Cancel()
	rec.waiter.complete(CallResult{Err: kcprpcerr.ErrOperationAborted})
}

// OnSessionLost aborts every outstanding call on this correlator and
// clears the table, per spec §4.5.
func (c *Correlator) OnSessionLost() {
	for id, rec := range c.table {
		rec.timer.Cancel()
		rec.waiter.complete(CallResult{Err: kcprpcerr.ErrOperationAborted})
		delete(c.table, id)
	}
}

// Len reports the number of outstanding calls; exposed for the bounded
// in-flight table back-pressure decision documented in DESIGN.md.
func (c *Correlator) Len() int {
	return len(c.table)
}
