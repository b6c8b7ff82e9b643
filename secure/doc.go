// Package secure layers an encrypted session over a plain stream socket.
//
// A Channel is a synchronous encryption state machine: ciphertext goes in
// through Feed, plaintext through Write, and everything it produces comes
// back out through Callbacks. The Overlay turns such a channel into the I/O
// and client delegates of a sockets.Socket. It keeps two FIFOs: completed
// reads (plaintext or alerts, in arrival order) and pending ciphertext
// writes, which are flushed to the transport before Send returns.
//
// Overlay states move Handshaking -> Active -> Closed. A fatal alert or a
// handshake failure moves to Closed, after which Send and Recv fail with
// syserr.ErrNotConnected.
//
// TLS is provided by TLS, backed by crypto/tls. The noise package provides a
// Noise protocol channel with the same interface.
package secure
