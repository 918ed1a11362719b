package endpoint

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/xtaci/kcprpc/correlate"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/rpc"
	"github.com/xtaci/kcprpc/wire"
)

// Hooks are the bind_* callbacks of spec §6, shared by Server and Client.
type Hooks struct {
	OnInit       func()
	OnStart      func()
	OnConnect    func(*kcpconn.Session)
	OnDisconnect func(*kcpconn.Session)
	OnStop       func()
	// OnRecv fires for every envelope a session receives, before
	// dispatch; it is the spec §6 bind_recv hook.
	OnRecv func(*kcpconn.Session, *wire.Envelope)
}

type sessionEntry struct {
	session *kcpconn.Session
	corr    *correlate.Correlator
}

// base holds everything Server and Client share: the pool, the procedure
// registry/dispatcher, hooks, and the live session table.
type base struct {
	opts       Options
	pool       *iopool.Pool
	registry   *rpc.Registry
	dispatcher *rpc.Dispatcher
	hooks      Hooks

	// self lets base's Endpoint-shaped methods (GetSessionCount) be
	// handed to the dispatcher as the concrete outer Server/Client, so
	// shape-3 handlers (func(ep rpc.Endpoint, ...)) see the real
	// endpoint rather than base itself.
	self rpc.Endpoint

	mu            sync.Mutex
	sessions      map[uint64]*sessionEntry
	nextSessionID uint64

	lastErrMu sync.Mutex
	lastErr   map[uint64]error

	started int32
}

func newBase(opts Options) *base {
	b := &base{
		opts:     opts,
		pool:     iopool.New(opts.Executors, opts.Logger),
		registry: rpc.NewRegistry(),
		sessions: make(map[uint64]*sessionEntry),
		lastErr:  make(map[uint64]error),
	}
	b.dispatcher = rpc.NewDispatcher(b.registry, opts.Logger)
	return b
}

// Bind registers a procedure. See rpc.Bind for the accepted handler
// shapes.
func (b *base) Bind(name string, fn interface{}) error { return b.registry.Bind(name, fn) }

func (b *base) BindInit(fn func()) { b.hooks.OnInit = fn }
func (b *base) BindStart(fn func()) { b.hooks.OnStart = fn }
func (b *base) BindConnect(fn func(*kcpconn.Session)) { b.hooks.OnConnect = fn }
func (b *base) BindDisconnect(fn func(*kcpconn.Session)) { b.hooks.OnDisconnect = fn }
func (b *base) BindStop(fn func()) { b.hooks.OnStop = fn }
func (b *base) BindRecv(fn func(*kcpconn.Session, *wire.Envelope)) { b.hooks.OnRecv = fn }

// GetSessionCount implements rpc.Endpoint.
func (b *base) GetSessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *base) setLastError(err error) {
	b.lastErrMu.Lock()
	b.lastErr[iopool.GoroutineID()] = err
	b.lastErrMu.Unlock()
}

// LastError returns the error set by the most recent user-facing
// operation issued from the calling goroutine, cleared at that
// operation's entry; a convenience only, see DESIGN.md for why this
// module otherwise prefers returned errors.
func (b *base) LastError() error {
	b.lastErrMu.Lock()
	defer b.lastErrMu.Unlock()
	return b.lastErr[iopool.GoroutineID()]
}

func (b *base) addSession(entry *sessionEntry) {
	b.mu.Lock()
	b.sessions[entry.session.ID] = entry
	b.mu.Unlock()
}

func (b *base) removeSession(id uint64) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

func (b *base) lookupSession(id uint64) (*sessionEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.sessions[id]
	return e, ok
}

// newSession wires a freshly dialed/accepted conn into a kcpconn.Session,
// its own Correlator, and this endpoint's shared Dispatcher/hooks.
func (b *base) newSession(conn net.Conn, executor *iopool.Executor, isClient bool) *sessionEntry {
	id := atomic.AddUint64(&b.nextSessionID, 1)
	corr := correlate.New(executor, b.opts.DefaultTimeout)
	entry := &sessionEntry{corr: corr}

	entry.session = kcpconn.New(id, conn, executor, isClient, kcpconn.Callbacks{
		MaxFrameSize: b.opts.MaxFrameSize,
		OnConnect: func(s *kcpconn.Session) {
			if b.hooks.OnConnect != nil {
				// Bracketed as a handler context so an AsyncCall issued
				// from on_connect counts toward the nested-call tally
				// alongside calls issued from request handlers and their
				// response callbacks.
				s.EnterHandler()
				b.hooks.OnConnect(s)
				s.ExitHandler()
			}
		},
		OnDisconnect: func(s *kcpconn.Session) {
			corr.OnSessionLost()
			b.removeSession(id)
			if b.hooks.OnDisconnect != nil {
				b.hooks.OnDisconnect(s)
			}
		},
		OnEnvelope: func(s *kcpconn.Session, env *wire.Envelope) {
			if b.hooks.OnRecv != nil {
				b.hooks.OnRecv(s, env)
			}
			if env.Dir == wire.Reply {
				corr.OnReply(env.CallID, env.Payload, env.ErrCode, env.ErrMsg)
				return
			}
			b.dispatcher.Dispatch(s, b.self, env)
		},
	}, b.opts.Logger)

	b.addSession(entry)
	return entry
}
