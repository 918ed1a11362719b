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

package rpc

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/xtaci/kcprpc/kcpconn"
	"github.com/xtaci/kcprpc/kcprpcerr"
	"github.com/xtaci/kcprpc/wire"
)

// Endpoint is the minimal back-reference surface a bound handler can ask
// for as its first argument (spec §4.6 shape 3). Both endpoint.Server and
// endpoint.Client satisfy it; rpc does not import endpoint to avoid a
// cycle, so this is the duck-typed seam between the two packages.
type Endpoint interface {
	GetSessionCount() int
}

var (
	sessionType  = reflect.TypeOf((*kcpconn.Session)(nil))
	endpointType = reflect.TypeOf((*Endpoint)(nil)).Elem()
	futureType   = reflect.TypeOf((*Future)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// Binding is a Procedure Registry entry (spec §3): an immutable adapter
// from (request_payload) to a reply, built once at Bind time via
// reflection over the four handler shapes of spec §4.6.
type Binding struct {
	name string
	fn   reflect.Value

	wantsSession  bool
	wantsEndpoint bool
	argTypes      []reflect.Type
	isAsync       bool
}

// Bind inspects fn's signature and builds a Binding. fn must be a
// function. Its first parameter may optionally be *kcpconn.Session or
// something implementing Endpoint; its return value must be either a
// single value T, a (T, error) pair, or a single value implementing
// Future, which is awaited before encoding the reply.
func Bind(name string, fn interface{}) (*Binding, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, errors.Errorf("rpc: Bind(%q): not a function", name)
	}

	b := &Binding{name: name, fn: v}

	start := 0
	if t.NumIn() > 0 {
		switch {
		case t.In(0) == sessionType:
			b.wantsSession = true
			start = 1
		case t.In(0).Implements(endpointType):
			b.wantsEndpoint = true
			start = 1
		}
	}
	for i := start; i < t.NumIn(); i++ {
		b.argTypes = append(b.argTypes, t.In(i))
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0).Implements(futureType) {
			b.isAsync = true
		}
	case 2:
		if !t.Out(1).Implements(errorType) {
			return nil, errors.Errorf("rpc: Bind(%q): second return value must be error", name)
		}
	default:
		return nil, errors.Errorf("rpc: Bind(%q): handler must return 1 or 2 values", name)
	}
	return b, nil
}

// buildCallArgs converts a request's raw argument payload into reflect
// Values matching b.argTypes, prepending session/endpoint refs as the
// shape requires.
func (b *Binding) buildCallArgs(payload []byte, session *kcpconn.Session, ep Endpoint) ([]reflect.Value, error) {
	var raw []wire.RawArg
	if len(payload) > 0 {
		var err error
		raw, err = wire.DecodeArgsRaw(payload)
		if err != nil {
			return nil, errors.Wrap(kcprpcerr.ErrInvalidArgument, err.Error())
		}
	}
	if len(raw) != len(b.argTypes) {
		return nil, errors.Wrapf(kcprpcerr.ErrInvalidArgument, "%s: want %d args, got %d", b.name, len(b.argTypes), len(raw))
	}

	args := make([]reflect.Value, 0, len(b.argTypes)+1)
	if b.wantsSession {
		args = append(args, reflect.ValueOf(session))
	} else if b.wantsEndpoint {
		args = append(args, reflect.ValueOf(ep))
	}
	for i, at := range b.argTypes {
		ptr := reflect.New(at)
		if err := wire.UnmarshalValue(raw[i], ptr.Interface()); err != nil {
			return nil, errors.Wrapf(kcprpcerr.ErrInvalidArgument, "%s: arg %d: %v", b.name, i, err)
		}
		args = append(args, ptr.Elem())
	}
	return args, nil
}

// invoke calls the bound handler and returns either an immediate result
// (value and err, with a nil future) or a non-nil Future to await.
func (b *Binding) invoke(args []reflect.Value) (value interface{}, err error, future Future) {
	out := b.fn.Call(args)
	if b.isAsync {
		return nil, nil, out[0].Interface().(Future)
	}
	value = out[0].Interface()
	if len(out) == 2 && !out[1].IsNil() {
		err = out[1].Interface().(error)
	}
	return value, err, nil
}
