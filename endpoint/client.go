package endpoint

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/kcprpcerr"
)

// Client is the connector endpoint of spec §4.7: a single session bound
// to one chosen executor, with auto-reconnect running on that same
// executor.
type Client struct {
	*base

	mu             sync.Mutex
	executor       *iopool.Executor
	remoteAddr     string
	entry          *sessionEntry
	connectTimer   *iopool.Timer
	reconnectTimer *iopool.Timer
	autoReconnect  bool
	reconnectDelay time.Duration
	connectAttempt int64
}

// NewClient builds a Client; bindings may be registered any time before
// Start.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	c := &Client{
		base:           newBase(o),
		autoReconnect:  o.AutoReconnect,
		reconnectDelay: o.AutoReconnectDelay,
	}
	c.self = c
	return c
}

// SetAutoReconnect enables/disables reconnect-on-disconnect and sets the
// delay before each attempt. Disabling cancels a pending reconnect timer.
func (c *Client) SetAutoReconnect(enabled bool, delay time.Duration) {
	c.mu.Lock()
	c.autoReconnect = enabled
	if delay > 0 {
		c.reconnectDelay = delay
	}
	timer := c.reconnectTimer
	c.mu.Unlock()
	if !enabled && timer != nil {
		timer.Cancel()
	}
}

// Start dials addr and begins the connect/handshake sequence. Returns
// kcprpcerr.ErrAlreadyStarted if already running.
func (c *Client) Start(addr string) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		c.setLastError(kcprpcerr.ErrAlreadyStarted)
		return errors.WithStack(kcprpcerr.ErrAlreadyStarted)
	}
	c.setLastError(nil)

	if c.hooks.OnInit != nil {
		c.hooks.OnInit()
	}
	if err := c.pool.Start(); err != nil {
		atomic.StoreInt32(&c.started, 0)
		c.setLastError(err)
		return err
	}
	c.registry.Freeze()

	c.remoteAddr = addr
	c.executor = c.pool.Get(iopool.AUTO)
	c.wrapHooks()

	if c.hooks.OnStart != nil {
		c.hooks.OnStart()
	}

	c.executor.Post(c.connect)
	return nil
}

// AsyncStart mirrors Server.AsyncStart.
func (c *Client) AsyncStart(addr string, done func(error)) {
	go func() {
		err := c.Start(addr)
		if done != nil {
			done(err)
		}
	}()
}

// wrapHooks splices in the bookkeeping auto-reconnect needs around
// whatever connect/disconnect callbacks the user already bound.
func (c *Client) wrapHooks() {
	userConnect := c.hooks.OnConnect
	userDisconnect := c.hooks.OnDisconnect
	c.hooks.OnConnect = func(s *kcpconn.Session) {
		c.mu.Lock()
		if c.connectTimer != nil {
			c.connectTimer.Cancel()
			c.connectTimer = nil
		}
		c.mu.Unlock()
		if userConnect != nil {
			userConnect(s)
		}
	}
	c.hooks.OnDisconnect = func(s *kcpconn.Session) {
		if userDisconnect != nil {
			userDisconnect(s)
		}
		c.scheduleReconnect()
	}
}

// connect runs on c.executor: dials a fresh KCP session, wires it, and
// arms the connect-timeout timer.
func (c *Client) connect() {
	if !c.IsStarted() {
		return
	}
	atomic.AddInt64(&c.connectAttempt, 1)

	conn, err := kcp.DialWithOptions(c.remoteAddr, c.opts.BlockCrypt, c.opts.DataShard, c.opts.ParityShard)
	if err != nil {
		c.opts.Logger.Warn().Err(err).Str("addr", c.remoteAddr).Msg("endpoint: dial failed")
		c.scheduleReconnect()
		return
	}

	entry := c.newSession(conn, c.executor, true)
	c.mu.Lock()
	c.entry = entry
	c.mu.Unlock()
	entry.session.Start()

	timer := iopool.NewTimer(c.executor, c.opts.ConnectTimeout, func() {
		if entry.session.Status() != kcpconn.Connected {
			entry.session.Close()
		}
	})
	c.mu.Lock()
	c.connectTimer = timer
	c.mu.Unlock()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	enabled, delay := c.autoReconnect, c.reconnectDelay
	c.mu.Unlock()
	if !enabled || !c.IsStarted() {
		return
	}
	timer := iopool.NewTimer(c.executor, delay, c.connect)
	c.mu.Lock()
	c.reconnectTimer = timer
	c.mu.Unlock()
}

// Stop tears the client down: cancels any pending connect/reconnect
// timer, closes the live session, and drains the pool. Idempotent.
func (c *Client) Stop() {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return
	}
	c.mu.Lock()
	ct, rt, entry := c.connectTimer, c.reconnectTimer, c.entry
	c.mu.Unlock()
	if ct != nil {
		ct.Cancel()
	}
	if rt != nil {
		rt.Cancel()
	}
	if entry != nil {
		entry.session.Close()
	}
	c.pool.Stop()
	if c.hooks.OnStop != nil {
		c.hooks.OnStop()
	}
}

// IsStarted/IsStopped report the client's lifecycle state.
func (c *Client) IsStarted() bool { return atomic.LoadInt32(&c.started) == 1 }
func (c *Client) IsStopped() bool { return !c.IsStarted() }

// Session returns the client's current session, if one exists.
func (c *Client) Session() (*kcpconn.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return nil, false
	}
	return c.entry.session, true
}

func (c *Client) currentEntry() (*sessionEntry, error) {
	c.mu.Lock()
	entry := c.entry
	c.mu.Unlock()
	if entry == nil {
		return nil, errors.WithStack(kcprpcerr.ErrNotConnected)
	}
	return entry, nil
}

// ClientCall issues a synchronous call over the client's current session.
func ClientCall[T any](c *Client, name string, timeout time.Duration, args ...interface{}) (T, error) {
	var zero T
	entry, err := c.currentEntry()
	if err != nil {
		c.setLastError(err)
		return zero, err
	}
	return Call[T](c.base, entry, name, timeout, args...)
}

// ClientAsyncCall builds a fluent async call over the client's current
// session. If there is no current session the handle's Enqueue
// immediately delivers kcprpcerr.ErrNotConnected.
func ClientAsyncCall[T any](c *Client, name string, args ...interface{}) *AsyncCallHandle[T] {
	entry, _ := c.currentEntry()
	return newAsyncCallHandle[T](c.base, entry, name, args)
}
