package sockets

import (
	"context"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
)

// NoopClient is the client delegate of sockets that cannot connect.
type NoopClient struct{}

// Connect always fails with syserr.ErrNotSupported.
func (NoopClient) Connect(context.Context, device.Device) error {
	return syserr.ErrNotSupported
}

// NoopServer is the server delegate of sockets that cannot serve.
type NoopServer struct{}

// StartServer always fails with syserr.ErrNotSupported.
func (NoopServer) StartServer(device.Device) (ServerAddress, error) {
	return ServerAddress{}, syserr.ErrNotSupported
}

// Accept always fails with syserr.ErrNotSupported.
func (NoopServer) Accept(context.Context) (AcceptResult, error) {
	return AcceptResult{}, syserr.ErrNotSupported
}

// RecvFrom always fails with syserr.ErrNotSupported.
func (NoopServer) RecvFrom(context.Context, int) (DgramRecvResult, error) {
	return DgramRecvResult{}, syserr.ErrNotSupported
}

// SendTo always fails with syserr.ErrNotSupported.
func (NoopServer) SendTo(context.Context, device.Device, []byte) error {
	return syserr.ErrNotSupported
}
