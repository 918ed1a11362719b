package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// headerSize is the length-prefix width: a big-endian uint32 byte count
// of the frame body that follows.
const headerSize = 4

// DefaultMaxFrameSize bounds a single frame body, guarding against a
// corrupt or hostile length prefix claiming an unbounded allocation.
const DefaultMaxFrameSize = 4 << 20

// FrameCodec implements the length-prefixed framing of spec §4.3 over an
// already-ordered, already-reliable byte stream (a kcpconn.Session). It
// is restartable: Feed may be called repeatedly with arbitrary chunk
// boundaries, buffering any partial frame until the rest arrives.
type FrameCodec struct {
	MaxFrameSize int

	// IllegalResponseHandler, if set, is invoked with the offending
	// bytes whenever Feed encounters structurally invalid framing (an
	// oversized length prefix). It does not fire for envelope decode
	// errors past the frame boundary, which are in-session protocol
	// errors the caller may tolerate (spec §4.3 rationale).
	IllegalResponseHandler func(data []byte)

	buf []byte
}

// Encode prepends payload's length prefix, producing a self-delimited
// frame ready to write to a session's underlying connection.
func Encode(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Feed appends newly received bytes and returns every frame body that is
// now fully buffered, in arrival order. Any trailing partial frame is
// retained internally for the next call.
func (c *FrameCodec) Feed(chunk []byte) ([][]byte, error) {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	c.buf = append(c.buf, chunk...)

	var frames [][]byte
	for {
		if len(c.buf) < headerSize {
			return frames, nil
		}
		n := int(binary.BigEndian.Uint32(c.buf))
		if n < 0 || n > c.MaxFrameSize {
			offending := append([]byte(nil), c.buf...)
			c.buf = nil
			if c.IllegalResponseHandler != nil {
				c.IllegalResponseHandler(offending)
			}
			return frames, errors.Wrapf(errIllegalFrame, "frame length %d exceeds max %d", n, c.MaxFrameSize)
		}
		if len(c.buf) < headerSize+n {
			return frames, nil
		}
		body := make([]byte, n)
		copy(body, c.buf[headerSize:headerSize+n])
		c.buf = c.buf[headerSize+n:]
		frames = append(frames, body)
	}
}

var errIllegalFrame = errors.New("wire: illegal frame")

// IsIllegalFrame reports whether err originated from Feed rejecting a
// malformed length prefix.
func IsIllegalFrame(err error) bool {
	return errors.Is(err, errIllegalFrame)
}
