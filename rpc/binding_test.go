package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/wire"
)

func TestBindFreeFunctionShape(t *testing.T) {
	b, err := Bind("add", func(a, b int) int { return a + b })
	require.NoError(t, err)
	assert.False(t, b.wantsSession)
	assert.False(t, b.wantsEndpoint)
	assert.Len(t, b.argTypes, 2)

	payload, err := wire.MarshalArgs(3, 4)
	require.NoError(t, err)
	args, err := b.buildCallArgs(payload, nil, nil)
	require.NoError(t, err)
	value, herr, future := b.invoke(args)
	require.NoError(t, herr)
	assert.Nil(t, future)
	assert.Equal(t, 7, value)
}

func TestBindSessionFirstShape(t *testing.T) {
	b, err := Bind("cat", func(s *kcpconn.Session, a, b string) string { return a + b })
	require.NoError(t, err)
	require.True(t, b.wantsSession)
	require.Len(t, b.argTypes, 2)

	payload, err := wire.MarshalArgs("ab", "cd")
	require.NoError(t, err)
	args, err := b.buildCallArgs(payload, nil, nil)
	require.NoError(t, err)
	value, herr, _ := b.invoke(args)
	require.NoError(t, herr)
	assert.Equal(t, "abcd", value)
}

type fakeEndpoint struct{ count int }

func (f *fakeEndpoint) GetSessionCount() int { return f.count }

func TestBindEndpointFirstShape(t *testing.T) {
	b, err := Bind("sessions", func(ep Endpoint) int { return ep.GetSessionCount() })
	require.NoError(t, err)
	require.True(t, b.wantsEndpoint)

	args, err := b.buildCallArgs(nil, nil, &fakeEndpoint{count: 5})
	require.NoError(t, err)
	value, herr, _ := b.invoke(args)
	require.NoError(t, herr)
	assert.Equal(t, 5, value)
}

func TestBindFutureReturningShape(t *testing.T) {
	b, err := Bind("async_add", func(a, b int) Future {
		f := NewSettableFuture()
		f.Set(a+b, nil)
		return f
	})
	require.NoError(t, err)
	require.True(t, b.isAsync)

	payload, err := wire.MarshalArgs(2, 3)
	require.NoError(t, err)
	args, err := b.buildCallArgs(payload, nil, nil)
	require.NoError(t, err)
	_, _, future := b.invoke(args)
	require.NotNil(t, future)

	done := make(chan struct{})
	var gotValue interface{}
	var gotErr error
	future.Subscribe(func(value interface{}, err error) {
		gotValue, gotErr = value, err
		close(done)
	})
	<-done
	assert.NoError(t, gotErr)
	assert.Equal(t, 5, gotValue)
}

func TestBindTwoReturnShapeWithError(t *testing.T) {
	b, err := Bind("div", func(a, b int) (int, error) {
		if b == 0 {
			return 0, assertDivByZero
		}
		return a / b, nil
	})
	require.NoError(t, err)

	payload, _ := wire.MarshalArgs(10, 0)
	args, err := b.buildCallArgs(payload, nil, nil)
	require.NoError(t, err)
	_, herr, _ := b.invoke(args)
	assert.Equal(t, assertDivByZero, herr)
}

var assertDivByZero = assertErr("division by zero")

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestBindRejectsNonFunction(t *testing.T) {
	_, err := Bind("bad", 42)
	assert.Error(t, err)
}

func TestBuildCallArgsArityMismatch(t *testing.T) {
	b, err := Bind("add", func(a, b int) int { return a + b })
	require.NoError(t, err)

	payload, _ := wire.MarshalArgs(1)
	_, err = b.buildCallArgs(payload, nil, nil)
	assert.Error(t, err)
}
