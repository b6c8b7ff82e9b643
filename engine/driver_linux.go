//go:build linux

package engine

import (
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// opState holds the kernel-visible structures of one pending operation.
type opState struct {
	iov     unix.Iovec
	msg     unix.Msghdr
	name    [unix.SizeofSockaddrAny]byte
	nameLen uint32

	// connectStarted is set by the epoll driver once connect(2) was issued.
	connectStarted bool
}

// newDriver picks io_uring when the kernel allows it and epoll otherwise.
func newDriver(opts *Options, slots *slab) (driver, error) {
	switch opts.Backend {
	case BackendURing:
		return newURing(opts.QueueDepth, slots)
	case BackendEpoll:
		return newEpoll(slots)
	case BackendAuto:
		d, err := newURing(opts.QueueDepth, slots)
		if err == nil {
			return d, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "newDriver",
			"error":    err.Error(),
		}).Warn("io_uring unavailable, falling back to epoll")
		return newEpoll(slots)
	default:
		return nil, ErrBackendUnavailable
	}
}

// bufPtr returns the address of b's first byte, or 0 for an empty slice.
func bufPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// fromName copies the first n bytes of a sockaddr storage buffer.
func fromName(name *[unix.SizeofSockaddrAny]byte, n uint32) []byte {
	if n == 0 {
		return nil
	}
	if n > uint32(len(name)) {
		n = uint32(len(name))
	}
	out := make([]byte, n)
	copy(out, name[:n])
	return out
}
