// Package syserr defines the structured error surfaced by the socket engine
// and its delegates, plus the sentinel errors shared across packages.
package syserr

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// Common errors for socket operations
var (
	// ErrNotSupported indicates the operation does not exist for the socket type
	ErrNotSupported = errors.New("operation not supported for this socket type")

	// ErrNotConnected indicates the socket or its secure channel is not connected
	ErrNotConnected = errors.New("socket is not connected")

	// ErrRecvPending indicates a receive is already in flight on the socket
	ErrRecvPending = errors.New("receive already pending")

	// ErrTimeout indicates a bounded operation did not finish in time
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates the socket handle has been released
	ErrClosed = errors.New("socket closed")

	// ErrNoCandidates indicates address resolution produced nothing usable
	ErrNoCandidates = errors.New("no usable addresses")
)

// ErrorType is the category of a structured error.
type ErrorType uint8

const (
	// System errors come from a socket system call.
	System ErrorType = iota
	// AddrInfo errors come from address resolution.
	AddrInfo
	// Kernel errors come from the asynchronous I/O facility itself.
	Kernel
)

// String returns the display name of the error category.
func (t ErrorType) String() string {
	switch t {
	case System:
		return "System"
	case AddrInfo:
		return "getaddrinfo"
	case Kernel:
		return kernelTypeName
	default:
		return fmt.Sprintf("ErrorType(%d)", uint8(t))
	}
}

// Error is a platform error code tagged with its category and the failing operation.
type Error struct {
	Code int       // platform error code, 0 when the source has none
	Type ErrorType // error category
	Op   string    // operation that failed
	Err  error     // underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d (type %s, in %s): %v", e.Code, e.Type, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must be surfaced to the caller.
// Success and pending/in-progress statuses are not fatal.
func (e *Error) Fatal() bool {
	if e.Type != System && e.Type != Kernel {
		return true
	}
	return !isPendingCode(e.Code)
}

// New wraps err as a System error for op. Errno values keep their code;
// nil and already structured errors are returned unchanged.
func New(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Code: int(errno), Type: System, Op: op, Err: err}
	}
	return &Error{Type: System, Op: op, Err: err}
}

// FromCode builds a System error from a raw platform code.
func FromCode(op string, code int) error {
	return &Error{Code: code, Type: System, Op: op, Err: syscall.Errno(code)}
}

// NewAddrInfo wraps a resolution failure.
func NewAddrInfo(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Type: AddrInfo, Op: op, Err: err}
}

// NewKernel wraps a failure of the asynchronous I/O facility itself.
func NewKernel(op string, err error) error {
	if err == nil {
		return nil
	}
	code := 0
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	return &Error{Code: code, Type: Kernel, Op: op, Err: err}
}

// Canceled builds the error reported for an operation canceled by ctx.
func Canceled(op string, ctx context.Context) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Code: canceledCode, Type: System, Op: op, Err: cause}
}

// IsFatal reports whether err must be surfaced to the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Fatal()
	}
	return true
}

// IsCanceled reports whether err is the result of a cancellation rather than
// a connection failure. Deadline expiry is a failure, not a cancellation.
func IsCanceled(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *Error
	if errors.As(err, &se) {
		return isCanceledCode(se.Code)
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return isCanceledCode(int(errno))
	}
	return false
}

// Code returns the platform error code carried by err, or 0.
func Code(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
