package sockets

import (
	"fmt"
	"sync"

	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Handle exclusively owns one native socket descriptor and its registration
// with the engine. The zero descriptor state is invalid; delegates install a
// descriptor with reset when they create the OS socket.
type Handle struct {
	eng *engine.Engine

	mu    sync.Mutex
	fd    uintptr
	valid bool
}

// NewHandle creates an empty handle bound to eng.
func NewHandle(eng *engine.Engine) *Handle {
	return &Handle{eng: eng}
}

// adoptHandle wraps an already open descriptor, registering it with eng.
func adoptHandle(eng *engine.Engine, fd uintptr) (*Handle, error) {
	h := NewHandle(eng)
	if err := h.reset(fd); err != nil {
		return nil, err
	}
	return h, nil
}

// Engine returns the engine the handle submits to.
func (h *Handle) Engine() *engine.Engine {
	return h.eng
}

// FD returns the descriptor and whether it is live.
func (h *Handle) FD() (uintptr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd, h.valid
}

// IsValid reports whether the handle holds a live descriptor.
func (h *Handle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

// fdOrErr returns the live descriptor or ErrNotConnected.
func (h *Handle) fdOrErr(op string) (uintptr, error) {
	fd, ok := h.FD()
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, syserr.ErrNotConnected)
	}
	return fd, nil
}

// reset closes any current descriptor and takes ownership of fd. On a
// registration failure fd is closed and the handle stays invalid.
func (h *Handle) reset(fd uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeLocked()
	if err := h.eng.Add(fd); err != nil {
		_ = closeSocket(fd)
		return err
	}
	h.fd = fd
	h.valid = true
	return nil
}

// CancelIO cancels all outstanding operations on the descriptor. It returns
// as soon as the cancellations are requested.
func (h *Handle) CancelIO() {
	fd, ok := h.FD()
	if !ok {
		return
	}
	if err := h.eng.CancelPending(fd); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CancelIO",
			"fd":       fd,
			"error":    err.Error(),
		}).Debug("Cancel request failed")
	}
}

// Close cancels pending I/O, shuts the socket down, unregisters it and
// releases the descriptor. Calling Close on a closed handle does nothing.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *Handle) closeLocked() error {
	if !h.valid {
		return nil
	}
	fd := h.fd
	h.valid = false

	_ = h.eng.CancelPending(fd)
	_ = shutdownSocket(fd)
	h.eng.Remove(fd)
	if err := closeSocket(fd); err != nil {
		return syserr.New("close", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"fd":       fd,
	}).Debug("Socket closed")
	return nil
}
