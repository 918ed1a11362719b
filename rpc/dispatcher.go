// Package rpc implements the Procedure Registry and RPC Dispatcher of
// spec §4.6: binding of the four handler shapes, request decoding,
// synchronous/asynchronous result unification, and reply encoding.
package rpc

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

// Dispatcher owns a Registry and invokes bindings on a session's
// executor, composing the four handler shapes into reply frames.
type Dispatcher struct {
	Registry *Registry
	log      zerolog.Logger

	nestedCalls int64
}

// NewDispatcher builds a Dispatcher around an existing Registry (callers
// typically share one Registry between a server's sessions).
func NewDispatcher(reg *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{Registry: reg, log: log}
}

// NestedCallCount returns how many outbound calls have been issued from
// inside a handler context on a session's executor: a request handler
// servicing an inbound call, an on_connect hook, or an async call's
// response callback (spec's nested-call scenario, restated in
// SPEC_FULL.md §3).
func (d *Dispatcher) NestedCallCount() int64 {
	return atomic.LoadInt64(&d.nestedCalls)
}

// NoteNestedCall is invoked by the endpoint layer whenever it observes an
// AsyncCall issued from inside a handler invocation.
func (d *Dispatcher) NoteNestedCall() {
	atomic.AddInt64(&d.nestedCalls, 1)
}

// Dispatch handles one Request or Notify envelope already known to have
// arrived on session's own executor. It never blocks that executor: an
// asynchronous handler result is awaited via Future.Subscribe, but the
// continuation that follows (ExitHandler, encoding, and session.Send) is
// posted back onto session's executor rather than run on whatever
// goroutine happened to settle the future, so every session callback
// still runs on its one owning executor.
func (d *Dispatcher) Dispatch(session *kcpconn.Session, ep Endpoint, env *wire.Envelope) {
	expectsReply := env.Dir == wire.Request && !env.NoReply

	b, ok := d.Registry.Lookup(env.Name)
	if !ok {
		if expectsReply {
			d.reply(session, env.CallID, nil, kcprpcerr.WireNotFound, "procedure not found: "+env.Name)
		}
		return
	}

	args, err := b.buildCallArgs(env.Payload, session, ep)
	if err != nil {
		if expectsReply {
			code, msg := kcprpcerr.ErrorToWire(err)
			d.reply(session, env.CallID, nil, code, msg)
		}
		return
	}

	session.EnterHandler()
	value, herr, future := b.invoke(args)
	if future == nil {
		session.ExitHandler()
		d.finish(session, env.CallID, expectsReply, value, herr)
		return
	}

	future.Subscribe(func(value interface{}, herr error) {
		session.Executor().Post(func() {
			session.ExitHandler()
			d.finish(session, env.CallID, expectsReply, value, herr)
		})
	})
}

func (d *Dispatcher) finish(session *kcpconn.Session, callID uint64, expectsReply bool, value interface{}, herr error) {
	if !expectsReply {
		return
	}
	if herr != nil {
		code, msg := kcprpcerr.ErrorToWire(herr)
		d.reply(session, callID, nil, code, msg)
		return
	}
	payload, err := wire.MarshalValue(value)
	if err != nil {
		d.log.Error().Err(err).Msg("rpc: encode reply value failed")
		code, msg := kcprpcerr.ErrorToWire(err)
		d.reply(session, callID, nil, code, msg)
		return
	}
	d.reply(session, callID, payload, kcprpcerr.WireOK, "")
}

func (d *Dispatcher) reply(session *kcpconn.Session, callID uint64, payload []byte, code uint32, msg string) {
	env := &wire.Envelope{Dir: wire.Reply, CallID: callID, Payload: payload, ErrCode: code, ErrMsg: msg}
	if err := session.Send(env); err != nil {
		d.log.Debug().Err(err).Uint64("call_id", callID).Msg("rpc: failed to send reply, session likely closed")
	}
}
