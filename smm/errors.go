// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

// Error is a sentinel dispatch-API error kind, comparable with errors.Is.
type Error string

func (e Error) Error() string {
	return string(e)
}

// Dispatch-API and arrival-gate error kinds. Fatal conditions (invariant
// violations) are not represented here: they panic, they are never
// recovered.
const (
	// ErrInvalidParameter is returned for bad CPU index, BSP target, a
	// removed CPU, a null procedure or an unsupported timeout request.
	ErrInvalidParameter = Error("smm: invalid parameter")
	// ErrNotReady is returned when a dispatch target is busy in
	// non-blocking mode, or a token probe finds the procedure still
	// running.
	ErrNotReady = Error("smm: not ready")
	// ErrNotStarted is returned when a broadcast finds no eligible APs.
	ErrNotStarted = Error("smm: not started")
	// ErrTimeout is the error kind for an elapsed per-procedure deadline.
	// Nothing in this package returns it: the arrival gate proceeds with
	// whoever arrived, and a non-zero DispatchRequest.Timeout is rejected
	// with ErrInvalidParameter.
	ErrTimeout = Error("smm: timeout")
)

// assertInvariant halts with a panic: these are programming errors in the
// caller or in this package, never recovered.
func assertInvariant(cond bool, msg string) {
	if !cond {
		panic("smm: invariant violated: " + msg)
	}
}
