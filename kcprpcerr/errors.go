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

// Package kcprpcerr defines the error taxonomy shared by every layer of
// kcprpc: the correlator, the dispatcher and the endpoints all report
// failures as one of these sentinels (or an *ApplicationError carrying a
// peer-supplied code), so callers can branch with errors.Is regardless of
// which layer produced the failure.
package kcprpcerr

import "github.com/pkg/errors"

// Sentinel error kinds, per spec §7. Wrap with errors.Wrap/WithMessage to
// attach context; compare with errors.Is against these values.
var (
	// ErrAlreadyStarted is returned when start is called on an endpoint
	// that is already running.
	ErrAlreadyStarted = errors.New("kcprpc: already started")

	// ErrOperationAborted means a call was canceled by session loss,
	// endpoint stop, or an explicit cancel.
	ErrOperationAborted = errors.New("kcprpc: operation aborted")

	// ErrTimedOut means no reply arrived within the call's deadline.
	ErrTimedOut = errors.New("kcprpc: timed out")

	// ErrInvalidArgument covers request/reply decode failures, arity
	// mismatches, and argument type mismatches.
	ErrInvalidArgument = errors.New("kcprpc: invalid argument")

	// ErrNotFound means the requested procedure name has no binding at
	// the peer (or locally, for dispatch).
	ErrNotFound = errors.New("kcprpc: not found")

	// ErrInProgress is returned immediately, without performing the
	// call, when a synchronous call is issued from the session's own
	// executor; doing otherwise would deadlock.
	ErrInProgress = errors.New("kcprpc: call already in progress on this executor")

	// ErrIllegalData marks wire data that failed structural validation.
	// It is surfaced to the illegal-response hook, not typically to
	// callers.
	ErrIllegalData = errors.New("kcprpc: illegal data")

	// ErrNotConnected is returned when a call is attempted while the
	// session has not completed its handshake. See spec.md §9 Open
	// Questions: this module chooses to fail fast rather than queue.
	ErrNotConnected = errors.New("kcprpc: session not connected")

	// ErrSessionClosed marks a send attempted on a session that is not
	// in the Connected state (not yet connected, disconnecting, or
	// closed).
	ErrSessionClosed = errors.New("kcprpc: session closed")
)

// ApplicationError is an error explicitly embedded by a remote handler in
// a reply's error field. Code 0 is reserved for "no error" and is never
// constructed as an ApplicationError.
type ApplicationError struct {
	Code    uint32
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return errors.Errorf("kcprpc: application error %d", e.Code).Error()
	}
	return e.Message
}

// NewApplicationError builds an application-level error to embed in a
// reply envelope.
func NewApplicationError(code uint32, message string) *ApplicationError {
	return &ApplicationError{Code: code, Message: message}
}

// Reserved wire error codes (spec §6's reply error field). 0 means ok.
// 1-3 are framework-reserved so a peer can tell not_found/invalid_argument
// and internal failures apart from an application error without string
// matching; application codes occupy 4 and above.
const (
	WireOK              uint32 = 0
	WireNotFound        uint32 = 1
	WireInvalidArgument uint32 = 2
	WireInternal        uint32 = 3
	WireApplicationBase uint32 = 4
)

// ErrorToWire maps a Go error produced by a handler into the (code, msg)
// pair that belongs in a reply envelope's error field.
func ErrorToWire(err error) (uint32, string) {
	if err == nil {
		return WireOK, ""
	}
	if ae, ok := err.(*ApplicationError); ok {
		return ae.Code, ae.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return WireNotFound, err.Error()
	case errors.Is(err, ErrInvalidArgument):
		return WireInvalidArgument, err.Error()
	default:
		return WireInternal, err.Error()
	}
}

// WireToError is ErrorToWire's inverse, used by the correlator to decide
// what a peer's reply error field means to the caller.
func WireToError(code uint32, msg string) error {
	switch code {
	case WireOK:
		return nil
	case WireNotFound:
		return errors.Wrap(ErrNotFound, msg)
	case WireInvalidArgument:
		return errors.Wrap(ErrInvalidArgument, msg)
	case WireInternal:
		return errors.New(msg)
	default:
		return NewApplicationError(code, msg)
	}
}
