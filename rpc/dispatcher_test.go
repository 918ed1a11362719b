package rpc

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

func TestDispatchNotFoundRepliesWithError(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())

	p := iopool.New(1, zerolog.Nop())
	require.NoError(t, p.Start())
	defer p.Stop()
	e := p.Get(0)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	replies := make(chan *wire.Envelope, 4)
	go func() {
		var codec wire.FrameCodec
		buf := make([]byte, 4096)
		for {
			n, err := c1.Read(buf)
			if err != nil {
				return
			}
			frames, _ := codec.Feed(buf[:n])
			for _, body := range frames {
				var env wire.Envelope
				if err := wire.Unmarshal(body, &env); err == nil && env.Dir == wire.Reply {
					replies <- &env
				}
			}
		}
	}()

	session := connectedSession(t, e, c2, c1, false)

	done := make(chan struct{})
	e.Post(func() {
		d.Dispatch(session, nil, &wire.Envelope{Dir: wire.Request, CallID: 1, Name: "missing"})
		close(done)
	})
	<-done

	select {
	case env := <-replies:
		assert.Equal(t, uint64(1), env.CallID)
		assert.Equal(t, kcprpcerr.WireNotFound, env.ErrCode)
	case <-time.After(time.Second):
		t.Fatal("no reply observed")
	}
}

func TestDispatchInvalidArgumentRepliesWithError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Bind("add", func(a, b int) int { return a + b }))
	d := NewDispatcher(reg, zerolog.Nop())

	p := iopool.New(1, zerolog.Nop())
	require.NoError(t, p.Start())
	defer p.Stop()
	e := p.Get(0)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	replies := make(chan *wire.Envelope, 4)
	go func() {
		var codec wire.FrameCodec
		buf := make([]byte, 4096)
		for {
			n, err := c1.Read(buf)
			if err != nil {
				return
			}
			frames, _ := codec.Feed(buf[:n])
			for _, body := range frames {
				var env wire.Envelope
				if err := wire.Unmarshal(body, &env); err == nil && env.Dir == wire.Reply {
					replies <- &env
				}
			}
		}
	}()

	session := connectedSession(t, e, c2, c1, false)
	badPayload, _ := wire.MarshalArgs(1)

	done := make(chan struct{})
	e.Post(func() {
		d.Dispatch(session, nil, &wire.Envelope{Dir: wire.Request, CallID: 9, Name: "add", Payload: badPayload})
		close(done)
	})
	<-done

	select {
	case env := <-replies:
		assert.Equal(t, kcprpcerr.WireInvalidArgument, env.ErrCode)
	case <-time.After(time.Second):
		t.Fatal("no reply observed")
	}
}

func TestDispatchFutureHandlerFinishesOnSessionExecutor(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Bind("async_add", func(a, b int) Future {
		f := NewSettableFuture()
		go func() {
			time.Sleep(10 * time.Millisecond)
			f.Set(a+b, nil)
		}()
		return f
	}))
	d := NewDispatcher(reg, zerolog.Nop())

	p := iopool.New(1, zerolog.Nop())
	require.NoError(t, p.Start())
	defer p.Stop()
	e := p.Get(0)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	replies := make(chan *wire.Envelope, 4)
	go func() {
		var codec wire.FrameCodec
		buf := make([]byte, 4096)
		for {
			n, err := c1.Read(buf)
			if err != nil {
				return
			}
			frames, _ := codec.Feed(buf[:n])
			for _, body := range frames {
				var env wire.Envelope
				if err := wire.Unmarshal(body, &env); err == nil && env.Dir == wire.Reply {
					replies <- &env
				}
			}
		}
	}()

	session := connectedSession(t, e, c2, c1, false)
	payload, _ := wire.MarshalArgs(11, 12)

	done := make(chan struct{})
	e.Post(func() {
		assert.False(t, session.InHandler())
		d.Dispatch(session, nil, &wire.Envelope{Dir: wire.Request, CallID: 5, Name: "async_add", Payload: payload})
		close(done)
	})
	<-done

	select {
	case env := <-replies:
		assert.Equal(t, uint64(5), env.CallID)
		assert.Equal(t, kcprpcerr.WireOK, env.ErrCode)
		var sum int
		require.NoError(t, wire.UnmarshalValue(env.Payload, &sum))
		assert.Equal(t, 23, sum)
	case <-time.After(time.Second):
		t.Fatal("no reply observed")
	}

	// The future settled on its own background goroutine; by the time the
	// reply went out, ExitHandler must have run back on session's own
	// executor, leaving InHandler false again.
	back := make(chan bool, 1)
	e.Post(func() { back <- session.InHandler() })
	select {
	case inHandler := <-back:
		assert.False(t, inHandler)
	case <-time.After(time.Second):
		t.Fatal("executor never settled")
	}
}

// connectedSession builds a Session on conn and drives it to Connected by
// playing the other handshake role directly on peer, the opposite end of
// conn's net.Pipe, so Dispatch's session.Send calls have somewhere to go.
func connectedSession(t *testing.T, e *iopool.Executor, conn, peer net.Conn, isClient bool) *kcpconn.Session {
	t.Helper()
	connected := make(chan struct{})
	s := kcpconn.New(3, conn, e, isClient, kcpconn.Callbacks{
		OnConnect: func(*kcpconn.Session) { close(connected) },
	}, zerolog.Nop())
	s.Start()

	if !isClient {
		body, _ := wire.Marshal(&wire.Envelope{Dir: wire.Notify, Name: "__kcprpc_hello__", Payload: make([]byte, 8)})
		_, _ = peer.Write(wire.Encode(body))
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("session never reached Connected")
	}
	return s
}
