package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecRoundTrip(t *testing.T) {
	var c FrameCodec
	env := &Envelope{Dir: Request, CallID: 7, Name: "echo", Payload: []byte("hello")}
	body, err := Marshal(env)
	require.NoError(t, err)
	frame := Encode(body)

	frames, err := c.Feed(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var got Envelope
	require.NoError(t, Unmarshal(frames[0], &got))
	assert.Equal(t, env.CallID, got.CallID)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, env.Payload, got.Payload)
}

func TestFrameCodecPartialFeed(t *testing.T) {
	var c FrameCodec
	body, err := Marshal(&Envelope{Dir: Notify, Name: "ping"})
	require.NoError(t, err)
	frame := Encode(body)

	mid := len(frame) / 2
	frames, err := c.Feed(frame[:mid])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = c.Feed(frame[mid:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestFrameCodecMultipleFramesInOneChunk(t *testing.T) {
	var c FrameCodec
	b1, _ := Marshal(&Envelope{Dir: Notify, Name: "a"})
	b2, _ := Marshal(&Envelope{Dir: Notify, Name: "b"})
	chunk := append(Encode(b1), Encode(b2)...)

	frames, err := c.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	var e1, e2 Envelope
	require.NoError(t, Unmarshal(frames[0], &e1))
	require.NoError(t, Unmarshal(frames[1], &e2))
	assert.Equal(t, "a", e1.Name)
	assert.Equal(t, "b", e2.Name)
}

func TestFrameCodecRejectsOversizedFrame(t *testing.T) {
	c := FrameCodec{MaxFrameSize: 16}
	var illegal []byte
	c.IllegalResponseHandler = func(data []byte) { illegal = data }

	body, _ := Marshal(&Envelope{Dir: Notify, Name: "this name is long enough to blow the small max frame size"})
	frame := Encode(body)

	_, err := c.Feed(frame)
	require.Error(t, err)
	assert.True(t, IsIllegalFrame(err))
	assert.NotEmpty(t, illegal)
}

func TestMarshalArgsRoundTrip(t *testing.T) {
	payload, err := MarshalArgs(11, 12)
	require.NoError(t, err)

	raw, err := DecodeArgsRaw(payload)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	var a, b int
	require.NoError(t, UnmarshalValue(raw[0], &a))
	require.NoError(t, UnmarshalValue(raw[1], &b))
	assert.Equal(t, 11, a)
	assert.Equal(t, 12, b)
}
