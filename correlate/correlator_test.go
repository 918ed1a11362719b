package correlate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/kcprpc/iopool"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

type fakeSender struct {
	sent []*wire.Envelope
	fail bool
}

func (f *fakeSender) Send(env *wire.Envelope) error {
	if f.fail {
		return kcprpcerr.ErrSessionClosed
	}
	f.sent = append(f.sent, env)
	return nil
}

func newTestExecutor(t *testing.T) (*iopool.Pool, *iopool.Executor) {
	t.Helper()
	p := iopool.New(1, zerolog.Nop())
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p, p.Get(0)
}

func TestBeginCallThenReplyDeliversPayload(t *testing.T) {
	_, e := newTestExecutor(t)
	done := make(chan struct{})
	var c *Correlator
	var waiter *Waiter
	var callID uint64

	sender := &fakeSender{}
	e.Post(func() {
		c = New(e, time.Second)
		var err error
		callID, waiter, err = c.BeginCall(sender, "add", nil, time.Second)
		require.NoError(t, err)
		close(done)
	})
	<-done
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "add", sender.sent[0].Name)

	deliver := make(chan struct{})
	e.Post(func() {
		c.OnReply(callID, []byte{0x01}, kcprpcerr.WireOK, "")
		close(deliver)
	})
	<-deliver

	select {
	case res := <-waiter.C():
		assert.NoError(t, res.Err)
		assert.Equal(t, []byte{0x01}, res.Payload)
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestOnReplyWithErrorCodeDeliversError(t *testing.T) {
	_, e := newTestExecutor(t)
	sender := &fakeSender{}
	done := make(chan struct{})
	var c *Correlator
	var waiter *Waiter
	var callID uint64
	e.Post(func() {
		c = New(e, time.Second)
		callID, waiter, _ = c.BeginCall(sender, "boom", nil, time.Second)
		close(done)
	})
	<-done

	deliver := make(chan struct{})
	e.Post(func() {
		c.OnReply(callID, nil, kcprpcerr.WireNotFound, "procedure not found: boom")
		close(deliver)
	})
	<-deliver

	res := <-waiter.C()
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, kcprpcerr.ErrNotFound)
}

func TestCallTimesOutWithoutReply(t *testing.T) {
	_, e := newTestExecutor(t)
	sender := &fakeSender{}
	var waiter *Waiter
	done := make(chan struct{})
	e.Post(func() {
		c := New(e, 20*time.Millisecond)
		_, waiter, _ = c.BeginCall(sender, "slow", nil, 0)
		close(done)
	})
	<-done

	select {
	case res := <-waiter.C():
		assert.ErrorIs(t, res.Err, kcprpcerr.ErrTimedOut)
	case <-time.After(time.Second):
		t.Fatal("call never timed out")
	}
}

func TestOnSessionLostAbortsOutstandingCalls(t *testing.T) {
	_, e := newTestExecutor(t)
	sender := &fakeSender{}
	var waiter *Waiter
	var c *Correlator
	done := make(chan struct{})
	e.Post(func() {
		c = New(e, time.Second)
		_, waiter, _ = c.BeginCall(sender, "add", nil, 0)
		close(done)
	})
	<-done

	lost := make(chan struct{})
	e.Post(func() {
		c.OnSessionLost()
		close(lost)
	})
	<-lost

	res := <-waiter.C()
	assert.ErrorIs(t, res.Err, kcprpcerr.ErrOperationAborted)

	count := make(chan int)
	e.Post(func() { count <- c.Len() })
	assert.Equal(t, 0, <-count)
}

func TestBeginCallPropagatesSendFailure(t *testing.T) {
	_, e := newTestExecutor(t)
	sender := &fakeSender{fail: true}
	done := make(chan struct{})
	var err error
	e.Post(func() {
		c := New(e, time.Second)
		_, _, err = c.BeginCall(sender, "add", nil, 0)
		close(done)
	})
	<-done
	assert.ErrorIs(t, err, kcprpcerr.ErrSessionClosed)
}
