package sockets

import (
	"context"

	"github.com/opd-ai/whaleconnect/device"
)

// Alert is a notification raised by a secure channel.
type Alert struct {
	Desc  string
	Fatal bool
}

// RecvResult is the outcome of one receive.
type RecvResult struct {
	// Complete is false only when a secure channel consumed raw bytes
	// without producing plaintext or an alert.
	Complete bool
	// Closed is set when the peer shut down its side of the connection.
	Closed bool
	Data   []byte
	Alert  *Alert
}

// DgramRecvResult is one datagram together with its sender.
type DgramRecvResult struct {
	From device.Device
	Data []byte
}

// ServerAddress describes where a server ended up listening.
type ServerAddress struct {
	Port   uint16
	IPType device.IPType
}

// AcceptResult is an accepted connection and the peer that made it.
type AcceptResult struct {
	Device device.Device
	Socket *Socket
}

// HandleDelegate owns a native descriptor.
type HandleDelegate interface {
	// Close cancels pending I/O and releases the descriptor. It is idempotent.
	Close() error
	// IsValid reports whether a live descriptor is held.
	IsValid() bool
	// CancelIO cancels every outstanding operation without waiting for them.
	CancelIO()
}

// IODelegate sends and receives on a connected socket.
type IODelegate interface {
	Send(ctx context.Context, data []byte) (int, error)
	Recv(ctx context.Context, size int) (RecvResult, error)
}

// ClientDelegate connects a socket to a remote device.
type ClientDelegate interface {
	Connect(ctx context.Context, dev device.Device) error
}

// ServerDelegate binds a socket and serves peers.
type ServerDelegate interface {
	StartServer(dev device.Device) (ServerAddress, error)
	Accept(ctx context.Context) (AcceptResult, error)
	RecvFrom(ctx context.Context, size int) (DgramRecvResult, error)
	SendTo(ctx context.Context, dev device.Device, data []byte) error
}
