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

package endpoint

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcprpcerr"
)

// Server is the acceptor endpoint of spec §4.7: one acceptor bound to the
// pool's first executor, with each accepted session handed to the pool
// round-robin.
type Server struct {
	*base
	listener *kcp.Listener
	addr     string
}

// NewServer builds a Server; bindings (Bind, BindInit, ...) may be
// registered any time before Start.
func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	s := &Server{base: newBase(o)}
	s.self = s
	return s
}

// Start listens on addr and begins accepting sessions. Returns
// kcprpcerr.ErrAlreadyStarted if already running.
func (s *Server) Start(addr string) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		s.setLastError(kcprpcerr.ErrAlreadyStarted)
		return errors.WithStack(kcprpcerr.ErrAlreadyStarted)
	}
	s.setLastError(nil)

	if s.hooks.OnInit != nil {
		s.hooks.OnInit()
	}

	if err := s.pool.Start(); err != nil {
		atomic.StoreInt32(&s.started, 0)
		s.setLastError(err)
		return err
	}

	s.registry.Freeze()

	lis, err := kcp.ListenWithOptions(addr, s.opts.BlockCrypt, s.opts.DataShard, s.opts.ParityShard)
	if err != nil {
		s.pool.Stop()
		atomic.StoreInt32(&s.started, 0)
		s.setLastError(err)
		return errors.Wrap(err, "endpoint: listen")
	}
	s.listener = lis
	s.addr = addr

	acceptor := s.pool.Get(0)
	guard := acceptor.TakeGuard()
	go s.acceptLoop(guard)

	if s.hooks.OnStart != nil {
		s.hooks.OnStart()
	}
	return nil
}

// AsyncStart runs Start in its own goroutine and reports the result via
// done, for callers that do not want to block on the initial listen.
func (s *Server) AsyncStart(addr string, done func(error)) {
	go func() {
		err := s.Start(addr)
		if done != nil {
			done(err)
		}
	}()
}

func (s *Server) acceptLoop(guard *iopool.WorkGuard) {
	defer guard.Release()
	for {
		conn, err := s.listener.AcceptKCP()
		if err != nil {
			return
		}
		c := conn
		s.pool.Get(0).Post(func() {
			s.handleAccept(c)
		})
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	executor := s.pool.Get(iopool.AUTO)
	entry := s.newSession(conn, executor, false)
	entry.session.Start()
}

// Stop tears the server down: stops accepting, then drains the pool
// (which in turn cancels every outstanding call and timer). Idempotent;
// calling it from within a pool executor returns without blocking, per
// spec §4.7.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.pool.Stop()
	if s.hooks.OnStop != nil {
		s.hooks.OnStop()
	}
}

// IsStarted/IsStopped report the server's lifecycle state.
func (s *Server) IsStarted() bool { return atomic.LoadInt32(&s.started) == 1 }
func (s *Server) IsStopped() bool { return !s.IsStarted() }

// ServerCall issues a synchronous call to a specific client session.
func ServerCall[T any](s *Server, sessionID uint64, name string, timeout time.Duration, args ...interface{}) (T, error) {
	var zero T
	entry, ok := s.lookupSession(sessionID)
	if !ok {
		s.setLastError(kcprpcerr.ErrNotFound)
		return zero, errors.WithStack(kcprpcerr.ErrNotFound)
	}
	return Call[T](s.base, entry, name, timeout, args...)
}

// ServerAsyncCall builds a fluent async call targeting a specific client
// session.
func ServerAsyncCall[T any](s *Server, sessionID uint64, name string, args ...interface{}) (*AsyncCallHandle[T], error) {
	entry, ok := s.lookupSession(sessionID)
	if !ok {
		return nil, errors.WithStack(kcprpcerr.ErrNotFound)
	}
	return AsyncCall[T](s.base, entry, name, args...), nil
}
