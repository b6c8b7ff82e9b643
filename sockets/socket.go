package sockets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Socket combines a handle, an I/O delegate and client/server delegates.
type Socket struct {
	handle HandleDelegate
	io     IODelegate
	client ClientDelegate
	server ServerDelegate

	connectTimeout time.Duration
	recvPending    atomic.Bool
}

// Compose assembles a socket from its delegates. Only the connect timeout
// of opts is used.
func Compose(h HandleDelegate, rw IODelegate, client ClientDelegate, server ServerDelegate, opts ...Option) *Socket {
	o := buildOptions(opts)
	return &Socket{
		handle:         h,
		io:             rw,
		client:         client,
		server:         server,
		connectTimeout: o.ConnectTimeout,
	}
}

// NewClientSocket creates an unconnected client socket of type t.
func NewClientSocket(eng *engine.Engine, t device.ConnectionType, opts ...Option) (*Socket, error) {
	o := buildOptions(opts)
	h := NewHandle(eng)

	switch {
	case t.IsIP():
		return Compose(h, &streamIO{h: h}, &ipClient{h: h, opts: o}, NoopServer{}, opts...), nil
	case t.IsBluetooth():
		if _, _, err := btParams(t); err != nil {
			return nil, err
		}
		return Compose(h, &streamIO{h: h}, &btClient{h: h}, NoopServer{}, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownType, t)
	}
}

// NewServerSocket creates an unbound server socket of type t.
func NewServerSocket(eng *engine.Engine, t device.ConnectionType, opts ...Option) (*Socket, error) {
	o := buildOptions(opts)
	h := NewHandle(eng)

	switch {
	case t.IsIP():
		return Compose(h, &streamIO{h: h}, NoopClient{}, &ipServer{h: h, t: t, opts: o}, opts...), nil
	case t.IsBluetooth():
		if _, _, err := btParams(t); err != nil {
			return nil, err
		}
		return Compose(h, &streamIO{h: h}, NoopClient{}, &btServer{h: h, t: t}, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownType, t)
	}
}

// Close cancels outstanding operations and releases the handle.
func (s *Socket) Close() error {
	return s.handle.Close()
}

// IsValid reports whether the socket holds a live descriptor.
func (s *Socket) IsValid() bool {
	return s.handle.IsValid()
}

// CancelIO cancels outstanding operations without closing the socket.
func (s *Socket) CancelIO() {
	s.handle.CancelIO()
}

// Send writes data with one call into the I/O delegate and returns the
// number of bytes taken.
func (s *Socket) Send(ctx context.Context, data []byte) (int, error) {
	return s.io.Send(ctx, data)
}

// Recv receives up to size bytes. Only one receive may be outstanding.
func (s *Socket) Recv(ctx context.Context, size int) (RecvResult, error) {
	if !s.recvPending.CompareAndSwap(false, true) {
		return RecvResult{}, syserr.ErrRecvPending
	}
	defer s.recvPending.Store(false)
	return s.io.Recv(ctx, size)
}

// Connect connects to dev. With a connect timeout configured, a connect that
// runs out of time closes the socket and fails with syserr.ErrTimeout.
func (s *Socket) Connect(ctx context.Context, dev device.Device) error {
	if s.connectTimeout <= 0 {
		return s.client.Connect(ctx, dev)
	}

	cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	err := s.client.Connect(cctx, dev)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"device":   dev.String(),
			"timeout":  s.connectTimeout,
		}).Warn("Connect timed out")
		_ = s.Close()
		return fmt.Errorf("%w after %s: %w", syserr.ErrTimeout, s.connectTimeout, err)
	}
	return err
}

// StartServer binds the socket and, for stream types, listens.
func (s *Socket) StartServer(dev device.Device) (ServerAddress, error) {
	return s.server.StartServer(dev)
}

// Accept waits for an inbound connection.
func (s *Socket) Accept(ctx context.Context) (AcceptResult, error) {
	return s.server.Accept(ctx)
}

// RecvFrom receives one datagram. It shares the receive guard with Recv.
func (s *Socket) RecvFrom(ctx context.Context, size int) (DgramRecvResult, error) {
	if !s.recvPending.CompareAndSwap(false, true) {
		return DgramRecvResult{}, syserr.ErrRecvPending
	}
	defer s.recvPending.Store(false)
	return s.server.RecvFrom(ctx, size)
}

// SendTo sends one datagram to dev.
func (s *Socket) SendTo(ctx context.Context, dev device.Device, data []byte) error {
	return s.server.SendTo(ctx, dev, data)
}

// SendAll calls w.Send until all of data has been written.
func SendAll(ctx context.Context, w IODelegate, data []byte) error {
	for {
		n, err := w.Send(ctx, data)
		if err != nil {
			return err
		}
		if n >= len(data) {
			return nil
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
}
