// Package errs defines the stable error taxonomy of the BPM core.
// LLIO, dispatch argument validation and the message layer report
// failures through a [Code] (bare or wrapped in an [E]), and every
// reply frame carries one; setup and transport paths such as table
// registration, the broker and the device manager also return plain
// formatted errors.
//
// The type mirrors the object-dictionary error model used elsewhere
// in the wider CANopen-derived code base this project grew out of
// (a small integer newtype implementing error, with a description
// table consulted by [Code.Error]), generalized to the kinds named in
// the BPM error taxonomy.
package errs

import "fmt"

// Code is a stable, wire-facing error identifier.
type Code int8

const (
	OK Code = iota
	// ErrAlloc: out-of-memory / allocation failure, always fatal to
	// the current operation.
	ErrAlloc
	// ErrBadArgument: wrong opcode, wrong argument sizes, unknown
	// channel.
	ErrBadArgument
	// ErrClosedEndpoint: I/O attempted on an unopened LLIO handle.
	ErrClosedEndpoint
	// ErrTimeoutRecoverable: the 0xFF sentinel pattern was observed;
	// callers never see this one directly, it is retried internally.
	ErrTimeoutRecoverable
	// ErrTimeoutUnrecoverable: retries exhausted.
	ErrTimeoutUnrecoverable
	// ErrBusy: acquisition incomplete or a resource is temporarily
	// unavailable.
	ErrBusy
	// ErrAgain: poll again later (check_data_acquire not yet done).
	ErrAgain
	// ErrProtocolMalformed: reply frame count or sizes inconsistent.
	ErrProtocolMalformed
	// ErrInterrupted: cancellation flag observed mid-operation.
	ErrInterrupted
	// ErrTimeout: a client-side wait deadline elapsed.
	ErrTimeout
	// ErrWrongArgs: dispatch validation rejected a request.
	ErrWrongArgs
	// ErrNotSupported: unrecognized message framing.
	ErrNotSupported
	// ErrUnknownOpcode: no descriptor registered for the opcode.
	ErrUnknownOpcode
	// ErrBlockOutOfRange: get_data_block past the end of the curve.
	ErrBlockOutOfRange
	// ErrNotFound: generic "no such entry" (endpoint, service, child).
	ErrNotFound
)

var descriptions = map[Code]string{
	OK:                      "ok",
	ErrAlloc:                "allocation failure",
	ErrBadArgument:          "bad argument",
	ErrClosedEndpoint:       "endpoint not open",
	ErrTimeoutRecoverable:   "hardware timeout (recoverable)",
	ErrTimeoutUnrecoverable: "hardware timeout (unrecoverable)",
	ErrBusy:                 "busy",
	ErrAgain:                "again",
	ErrProtocolMalformed:    "malformed protocol message",
	ErrInterrupted:          "interrupted",
	ErrTimeout:              "timeout",
	ErrWrongArgs:            "wrong arguments",
	ErrNotSupported:         "not supported",
	ErrUnknownOpcode:        "unknown opcode",
	ErrBlockOutOfRange:      "block index out of range",
	ErrNotFound:             "not found",
}

// Error implements the error interface, falling back to a generic
// message for codes added after this table if the two ever drift.
func (c Code) Error() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return fmt.Sprintf("errs: unknown code %d", int8(c))
}

// coder is implemented by wrapped errors that want to carry their own
// Code through layers of fmt.Errorf("...: %w", err).
type coder interface {
	Code() Code
}

// Of extracts a Code from err, defaulting to ErrNotSupported when err
// is a plain error the taxonomy doesn't recognize, and OK when err is
// nil.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return ErrNotSupported
}

// E wraps a Code with operation context and an optional cause, for
// logging call sites that need more than the bare code.
type E struct {
	C   Code
	Op  string
	Err error
}

func (e *E) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.C.Error() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.C.Error()
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an [E] tying a Code to the operation name that raised
// it and (optionally) the lower-level cause.
func Wrap(op string, c Code, cause error) error {
	return &E{Op: op, C: c, Err: cause}
}
