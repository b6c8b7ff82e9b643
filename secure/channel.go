package secure

import "github.com/opd-ai/whaleconnect/device"

// AlertCloseNotify is the description of an orderly shutdown by the peer.
const AlertCloseNotify = "close_notify"

// Callbacks receive everything a Channel produces.
type Callbacks struct {
	// Emit queues ciphertext for the transport.
	Emit func(ciphertext []byte)
	// Deliver queues decrypted application data.
	Deliver func(plaintext []byte)
	// Alert reports a protocol alert. Fatal alerts end the session.
	Alert func(desc string, fatal bool)
}

// Channel is a secure session driven by the Overlay. Feed and Write must
// have emitted all resulting output through the callbacks by the time they
// return.
type Channel interface {
	// Start begins the handshake.
	Start() error
	// Feed processes ciphertext received from the peer.
	Feed(ciphertext []byte) error
	// Write encrypts application data.
	Write(plaintext []byte) error
	// Active reports whether the handshake has completed.
	Active() bool
	// Close releases the channel's resources.
	Close() error
}

// ChannelFactory creates the channel for a session with peer.
type ChannelFactory func(peer device.Device, cb Callbacks) (Channel, error)
