// Package noise provides a Noise Protocol Framework secure channel that can
// replace TLS on top of any connected stream socket.
//
// Handshakes run on the flynn/noise library with ChaCha20-Poly1305
// encryption, SHA256 hashing, and Curve25519 key exchange. The Channel type
// implements secure.Channel, so a Noise session plugs into the secure
// overlay exactly like the TLS channel does.
//
// # Pattern Selection Guide
//
//	Pattern │ When to Use                                │ Security Properties
//	────────┼────────────────────────────────────────────┼────────────────────────────────────────
//	IK      │ Client knows the server's public key       │ Mutual auth, forward secrecy, KCI resist
//	XX      │ Neither party knows the other's key        │ Mutual auth, forward secrecy
//
// InitiatorFactory picks IK when a peer key is supplied and XX otherwise. A server
// must be configured with the matching pattern through ResponderFactory.
//
// # IK Pattern
//
// Message flow:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss
//	                                       <- e, ee, se
//	[session established]
//
// # XX Pattern
//
// Message flow:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e
//	                                       <- e, ee, s, es
//	-> s, se
//	[session established]
//
// # Wire Format
//
// Every handshake and transport message is prefixed with a 2-byte
// big-endian length. Transport payloads longer than one Noise message are
// split across frames. After the handshake an empty frame is a close
// notification and is reported through the alert callback as
// secure.AlertCloseNotify. A frame that fails to decrypt is a fatal alert
// and the channel stays failed.
//
// Example usage:
//
//	keys, _ := noise.GenerateKeyPair()
//	sock, err := secure.NewClientSocket(eng, noise.InitiatorFactory(keys, serverPub))
//	if err != nil {
//	    return err
//	}
//	if err := sock.Connect(ctx, dev); err != nil {
//	    return err
//	}
//
//	// server side, after sockets.Socket.Accept
//	conn, err := secure.Accept(ctx, res, noise.ResponderFactory(serverKeys, noise.IK))
//
// # Key Verification
//
// After the handshake, Channel.RemoteStaticKey returns the peer's static
// key. Compare it against known keys before trusting the session.
//
// # Thread Safety
//
// Channel methods are safe for concurrent use. Handshake is not; it is
// driven by a single Channel under that channel's lock. The cipher states
// returned by Handshake.GetCipherStates are not thread-safe either.
//
// # Error Handling
//
// Common errors returned by handshake operations:
//   - ErrHandshakeNotComplete: Operation requires completed handshake
//   - ErrInvalidMessage: Received message is invalid for current state
//   - ErrHandshakeComplete: Handshake already finished, cannot process more messages
//   - ErrInvalidKey: Key material has the wrong size or is all zeros
package noise
