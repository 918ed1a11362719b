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

// Package kcpconn wraps github.com/xtaci/kcp-go/v5 sessions with the
// state machine of spec §4.4: Init -> Handshaking -> Connected ->
// Disconnecting -> Closed, plus the length-prefixed Frame Codec of §4.3.
//
// Conversation-id handshake (spec §9 Open Question, resolved here): the
// underlying kcp.UDPSession already carries a transport-level conv id
// assigned during KCP's own accept/dial. On top of that, kcprpc runs one
// application-level handshake round trip before a session is considered
// Connected: the client sends a Notify("__kcprpc_hello__", nonce) frame
// immediately after dial, and the server replies with
// Notify("__kcprpc_hello_ack__", nonce) echoing the same nonce. Only once
// the client observes its own nonce echoed back does it fire on_connect;
// this guards against a peer that answers a dial with KCP-level acks but
// never speaks the kcprpc envelope protocol at all.
package kcpconn

import (
	"crypto/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

const (
	helloName    = "__kcprpc_hello__"
	helloAckName = "__kcprpc_hello_ack__"
	nonceSize    = 8
)

// Callbacks are the hooks a Session invokes, always on its own executor.
type Callbacks struct {
	OnConnect    func(*Session)
	OnDisconnect func(*Session)
	// OnEnvelope is invoked for every post-handshake frame; it is the
	// dispatcher/correlator's entry point into the session.
	OnEnvelope func(*Session, *wire.Envelope)
	// OnIllegal is invoked with the offending bytes when the peer sends
	// something that fails structural validation. The default, if nil,
	// is to close the session.
	OnIllegal    func(*Session, []byte)
	MaxFrameSize int
}

// Session is the per-peer protocol context on top of the reliable-UDP
// transport (spec GLOSSARY). It is exclusively owned by its Executor:
// every field below is touched only from callbacks run on that executor,
// except for the atomics and the recv goroutine's posts into it.
type Session struct {
	ID       uint64
	conn     net.Conn
	executor *iopool.Executor
	log      zerolog.Logger
	isClient bool
	cb       Callbacks

	status       int32 // Status, atomic
	nonce        [nonceSize]byte
	illegalCount int64
	closeOnce    sync.Once
	userData     atomic.Value

	// handlerDepth counts nested handler invocations currently running
	// on this session's executor. Only ever touched from that executor,
	// so it needs no synchronization of its own.
	handlerDepth int

	codec wire.FrameCodec
}

// New wraps an already-established net.Conn (a *kcp.UDPSession in
// production, or any net.Conn in tests) as a Session bound to executor.
func New(id uint64, conn net.Conn, executor *iopool.Executor, isClient bool, cb Callbacks, log zerolog.Logger) *Session {
	s := &Session{
		ID:       id,
		conn:     conn,
		executor: executor,
		isClient: isClient,
		cb:       cb,
		log:      log,
	}
	s.codec.MaxFrameSize = cb.MaxFrameSize
	s.codec.IllegalResponseHandler = func(data []byte) {
		s.handleIllegal(data)
	}
	atomic.StoreInt32(&s.status, int32(Init))
	return s
}

// Executor returns the executor this session is bound to.
func (s *Session) Executor() *iopool.Executor { return s.executor }

// Status returns the session's current state.
func (s *Session) Status() Status {
	return Status(atomic.LoadInt32(&s.status))
}

func (s *Session) setStatus(v Status) {
	atomic.StoreInt32(&s.status, int32(v))
}

// IllegalCount returns the number of illegal-frame events observed on
// this session, tracked separately from disconnects per the original
// asio2 rpc_kcp test's accounting (see SPEC_FULL.md §3).
func (s *Session) IllegalCount() int64 {
	return atomic.LoadInt64(&s.illegalCount)
}

// RemoteAddr/LocalAddr expose the underlying transport addresses.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }

// LocalPort returns the UDP port this session's local endpoint is bound
// to, or 0 if the local address is not a *net.UDPAddr.
func (s *Session) LocalPort() int {
	if a, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// SetUserData/UserData store an arbitrary value alongside the session,
// per spec §3 Session.user_data.
func (s *Session) SetUserData(v interface{}) { s.userData.Store(v) }
func (s *Session) UserData() interface{}     { return s.userData.Load() }

// EnterHandler/ExitHandler bracket a dispatcher handler invocation on
// this session's executor, so that an AsyncCall issued from inside a
// handler can be told apart from one issued from ordinary user code
// (SPEC_FULL.md §3's nested-call accounting). Must only be called from
// the session's own executor.
func (s *Session) EnterHandler() { s.handlerDepth++ }
func (s *Session) ExitHandler()  { s.handlerDepth-- }
func (s *Session) InHandler() bool {
	return s.handlerDepth > 0
}

// Start launches the receive loop and, for a client session, the
// handshake. Must be called once, from any goroutine, after New.
func (s *Session) Start() {
	go s.recvLoop()
	if s.isClient {
		s.setStatus(Handshaking)
		if _, err := rand.Read(s.nonce[:]); err != nil {
			s.log.Error().Err(err).Msg("kcpconn: nonce generation failed")
		}
		s.sendRaw(&wire.Envelope{Dir: wire.Notify, Name: helloName, Payload: append([]byte(nil), s.nonce[:]...)})
	} else {
		s.setStatus(Handshaking)
	}
}

// Send frames and writes env to the peer. Returns ErrSessionClosed
// whenever the session is not Connected, before the handshake completes
// as well as after it has left Connected.
func (s *Session) Send(env *wire.Envelope) error {
	if st := s.Status(); st != Connected {
		if st == Handshaking && env.Name == helloAckName {
			// the server's handshake ack is sent while still
			// Handshaking, immediately before flipping to Connected.
		} else {
			return errors.WithStack(kcprpcerr.ErrSessionClosed)
		}
	}
	return s.sendRaw(env)
}

func (s *Session) sendRaw(env *wire.Envelope) error {
	body, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(wire.Encode(body))
	return errors.Wrap(err, "kcpconn: write")
}

// Close transitions the session to Disconnecting and tears it down.
// Idempotent; on_disconnect fires at most once regardless of how many
// times, or from where, Close is called.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setStatus(Disconnecting)
		_ = s.conn.Close()
		s.executor.Post(func() {
			s.setStatus(Closed)
			if s.cb.OnDisconnect != nil {
				s.cb.OnDisconnect(s)
			}
		})
	})
}

func (s *Session) handleIllegal(data []byte) {
	atomic.AddInt64(&s.illegalCount, 1)
	s.executor.Post(func() {
		if s.cb.OnIllegal != nil {
			s.cb.OnIllegal(s, data)
		} else {
			s.Close()
		}
	})
}

// recvLoop owns the blocking read side; every frame it decodes is handed
// to the session's executor via Post so that all session state is only
// ever touched from that one goroutine.
func (s *Session) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			s.Close()
			return
		}
		frames, ferr := s.codec.Feed(buf[:n])
		for _, body := range frames {
			body := body
			s.executor.Post(func() {
				s.onFrame(body)
			})
		}
		if ferr != nil {
			// codec already invoked IllegalResponseHandler.
			return
		}
	}
}

func (s *Session) onFrame(body []byte) {
	if s.Status() == Closed || s.Status() == Disconnecting {
		return
	}
	var env wire.Envelope
	if err := wire.Unmarshal(body, &env); err != nil {
		s.handleIllegal(body)
		return
	}

	switch s.Status() {
	case Handshaking:
		s.onHandshakeFrame(&env)
	case Connected:
		if s.cb.OnEnvelope != nil {
			s.cb.OnEnvelope(s, &env)
		}
	}
}

func (s *Session) onHandshakeFrame(env *wire.Envelope) {
	if s.isClient {
		if env.Dir == wire.Notify && env.Name == helloAckName && string(env.Payload) == string(s.nonce[:]) {
			s.setStatus(Connected)
			if s.cb.OnConnect != nil {
				s.cb.OnConnect(s)
			}
			return
		}
	} else {
		if env.Dir == wire.Notify && env.Name == helloName && len(env.Payload) == nonceSize {
			copy(s.nonce[:], env.Payload)
			_ = s.sendRaw(&wire.Envelope{Dir: wire.Notify, Name: helloAckName, Payload: append([]byte(nil), s.nonce[:]...)})
			s.setStatus(Connected)
			if s.cb.OnConnect != nil {
				s.cb.OnConnect(s)
			}
			return
		}
	}
	s.handleIllegal(nil)
}
