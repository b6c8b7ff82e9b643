// Package sockets builds TCP, UDP and Bluetooth sockets on top of the
// completion engine.
//
// A Socket is a composite of four capability delegates:
//
//   - a HandleDelegate that owns the native descriptor,
//   - an IODelegate that sends and receives,
//   - a ClientDelegate that connects, and
//   - a ServerDelegate that binds, accepts and exchanges datagrams.
//
// Roles a socket type does not support are filled with NoopClient and
// NoopServer, whose methods fail with syserr.ErrNotSupported without
// touching the OS. Every blocking method takes a context; canceling it
// cancels the native request, and the method still waits for the kernel to
// release the request's buffers before returning.
//
// Only one Recv may be in flight per Socket. A second concurrent Recv fails
// with syserr.ErrRecvPending.
package sockets
