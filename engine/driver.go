package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSupported indicates no completion driver exists for this platform
	ErrNotSupported = errors.New("asynchronous I/O not supported on this platform")

	// ErrBackendUnavailable indicates the requested backend cannot be used here
	ErrBackendUnavailable = errors.New("completion backend unavailable")

	// ErrEngineClosed indicates the engine has been shut down
	ErrEngineClosed = errors.New("engine closed")

	// ErrAlreadyRegistered indicates a handle was added twice
	ErrAlreadyRegistered = errors.New("handle already registered")

	// ErrNotRegistered indicates an operation on a handle that was never added
	ErrNotRegistered = errors.New("handle not registered")
)

// Backend selects the completion driver.
type Backend uint8

const (
	// BackendAuto picks the best driver for the platform.
	BackendAuto Backend = iota
	// BackendURing forces the Linux io_uring driver.
	BackendURing
	// BackendEpoll forces the Linux epoll driver.
	BackendEpoll
	// BackendIOCP forces the Windows completion port driver.
	BackendIOCP
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendURing:
		return "io_uring"
	case BackendEpoll:
		return "epoll"
	case BackendIOCP:
		return "iocp"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

// ParseBackend parses a backend name as printed by Backend.String.
// "uring" is accepted as an alias of io_uring.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "io_uring", "uring":
		return BackendURing, nil
	case "epoll":
		return BackendEpoll, nil
	case "iocp":
		return BackendIOCP, nil
	default:
		return BackendAuto, fmt.Errorf("unknown backend %q", s)
	}
}

// completion is one drained OS completion.
type completion struct {
	tok Token
	res Result
	err error
}

// driver is the per-platform half of the engine.
type driver interface {
	backend() Backend
	// register associates fd with the driver's completion mechanism.
	register(fd uintptr) error
	// unregister forgets fd before it is closed.
	unregister(fd uintptr)
	// submit issues exactly one native request for the slot.
	submit(tok Token, s *slot) error
	// cancel asks for the request behind tok to complete early.
	cancel(tok Token, s *slot) error
	// wait blocks until one completion is available. It returns false when
	// the worker received its shutdown sentinel.
	wait() (completion, bool)
	// wake posts n shutdown sentinels.
	wake(n int) error
	// close releases the driver's OS resources.
	close() error
}
