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

// Package wire implements the length-prefixed frame codec and wire
// message envelope of spec §4.3 and §6.
package wire

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Direction tags an Envelope's role on the wire (spec §6).
type Direction uint8

const (
	// Request carries a call_id, a procedure name, and argument payload
	// bytes; a reply is expected unless NoReply is set.
	Request Direction = iota
	// Reply carries a call_id, a result or error payload, and an error
	// field (0 = ok).
	Reply
	// Notify carries a procedure name and argument payload but no
	// call_id; no reply is ever sent for it.
	Notify
)

// Envelope is the opaque serialized object referenced by spec §6: every
// logical RPC message, independent of framing.
type Envelope struct {
	Dir     Direction `cbor:"0,keyasint"`
	CallID  uint64    `cbor:"1,keyasint,omitempty"`
	Name    string    `cbor:"2,keyasint,omitempty"`
	Payload []byte    `cbor:"3,keyasint,omitempty"`
	ErrCode uint32    `cbor:"4,keyasint,omitempty"`
	ErrMsg  string    `cbor:"5,keyasint,omitempty"`
	NoReply bool      `cbor:"6,keyasint,omitempty"`
}

var encMode, decMode = func() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return em, dm
}()

// Marshal encodes an Envelope into its on-stream representation (before
// length-prefix framing).
func Marshal(e *Envelope) ([]byte, error) {
	b, err := encMode.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "wire: marshal envelope")
	}
	return b, nil
}

// Unmarshal decodes a frame body into an Envelope.
func Unmarshal(b []byte, e *Envelope) error {
	if err := decMode.Unmarshal(b, e); err != nil {
		return errors.Wrap(err, "wire: unmarshal envelope")
	}
	return nil
}

// MarshalArgs encodes a slice of arbitrary arguments into payload bytes
// using the same codec, for use as an Envelope's Payload.
func MarshalArgs(args ...interface{}) ([]byte, error) {
	b, err := encMode.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "wire: marshal args")
	}
	return b, nil
}

// UnmarshalArgs decodes payload bytes produced by MarshalArgs into dst, a
// pointer to a slice of the expected argument types (typically
// []interface{} or a concrete []T).
func UnmarshalArgs(b []byte, dst interface{}) error {
	if err := decMode.Unmarshal(b, dst); err != nil {
		return errors.Wrap(err, "wire: unmarshal args")
	}
	return nil
}

// RawArg is one still-encoded element of an argument list, deferred so
// the dispatcher can decode each element into its handler's declared
// type.
type RawArg = cbor.RawMessage

// DecodeArgsRaw splits an args payload into its still-encoded elements
// without committing to concrete Go types, so a caller (the dispatcher)
// can decode each one against a handler's declared parameter types.
func DecodeArgsRaw(payload []byte) ([]RawArg, error) {
	var raw []RawArg
	if err := decMode.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(err, "wire: decode args")
	}
	return raw, nil
}

// MarshalValue encodes a single reply value.
func MarshalValue(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "wire: marshal value")
	}
	return b, nil
}

// UnmarshalValue decodes a single reply value into dst (a pointer).
func UnmarshalValue(b []byte, dst interface{}) error {
	if err := decMode.Unmarshal(b, dst); err != nil {
		return errors.Wrap(err, "wire: unmarshal value")
	}
	return nil
}
