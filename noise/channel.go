package noise

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/secure"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// tagSize is the ChaCha20-Poly1305 authentication tag length.
const tagSize = 16

// maxPlaintext is the largest plaintext carried by one transport frame.
const maxPlaintext = limits.MaxNoiseMessage - tagSize

// Channel is a Noise session implementing secure.Channel. Every message is
// framed with a 2-byte big-endian length. After the handshake an empty frame
// is the peer's close notification.
type Channel struct {
	hs *Handshake
	cb secure.Callbacks

	mu      sync.Mutex
	buf     []byte
	active  bool
	closed  bool
	failure error
}

// NewChannel wraps a prepared handshake.
func NewChannel(hs *Handshake, cb secure.Callbacks) *Channel {
	return &Channel{hs: hs, cb: cb}
}

// InitiatorFactory returns a factory for client channels. With a peer key the IK
// pattern is used, otherwise XX.
func InitiatorFactory(keys *KeyPair, peerPubKey []byte) secure.ChannelFactory {
	pattern := XX
	if len(peerPubKey) > 0 {
		pattern = IK
	}
	return Factory(pattern, keys, peerPubKey, Initiator)
}

// ResponderFactory returns a factory for server channels using pattern.
func ResponderFactory(keys *KeyPair, pattern Pattern) secure.ChannelFactory {
	return Factory(pattern, keys, nil, Responder)
}

// Factory returns a channel factory for an explicit pattern and role.
func Factory(pattern Pattern, keys *KeyPair, peerPubKey []byte, role HandshakeRole) secure.ChannelFactory {
	return func(peer device.Device, cb secure.Callbacks) (secure.Channel, error) {
		hs, err := NewHandshake(pattern, keys, peerPubKey, role)
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Factory",
			"pattern":  pattern.String(),
			"role":     role.String(),
			"peer":     peer.String(),
		}).Debug("Noise channel created")
		return NewChannel(hs, cb), nil
	}
}

// Start sends the first handshake message when we are the initiator.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advance()
}

// advance writes our handshake message if it is our turn.
func (c *Channel) advance() error {
	if c.hs.IsComplete() || !c.hs.MyTurn() {
		return nil
	}
	msg, done, err := c.hs.WriteMessage(nil)
	if err != nil {
		return c.fail(err)
	}
	c.emitFrame(msg)
	if done {
		c.active = true
	}
	return nil
}

// Feed buffers ciphertext and processes every complete frame.
func (c *Channel) Feed(ciphertext []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil {
		return c.failure
	}
	c.buf = append(c.buf, ciphertext...)
	for len(c.buf) >= limits.NoiseFrameHeader {
		n := int(binary.BigEndian.Uint16(c.buf))
		if len(c.buf) < limits.NoiseFrameHeader+n {
			break
		}
		frame := c.buf[limits.NoiseFrameHeader : limits.NoiseFrameHeader+n]
		c.buf = c.buf[limits.NoiseFrameHeader+n:]

		if err := c.process(frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) process(frame []byte) error {
	if !c.active {
		if len(frame) == 0 {
			return c.fail(fmt.Errorf("%w: empty handshake frame", ErrInvalidMessage))
		}
		_, done, err := c.hs.ReadMessage(frame)
		if err != nil {
			return c.fail(err)
		}
		if done {
			c.active = true
			return nil
		}
		return c.advance()
	}

	if len(frame) == 0 {
		c.cb.Alert(secure.AlertCloseNotify, false)
		return nil
	}
	_, recv, err := c.hs.GetCipherStates()
	if err != nil {
		return c.fail(err)
	}
	plaintext, err := recv.Decrypt(nil, nil, frame)
	if err != nil {
		return c.fail(fmt.Errorf("noise decrypt failed: %w", err))
	}
	if len(plaintext) > 0 {
		c.cb.Deliver(plaintext)
	}
	return nil
}

// fail records a fatal error and raises it as a fatal alert.
func (c *Channel) fail(err error) error {
	if c.failure == nil {
		c.failure = err
		c.cb.Alert(err.Error(), true)
	}
	return c.failure
}

func (c *Channel) emitFrame(msg []byte) {
	frame := make([]byte, limits.NoiseFrameHeader+len(msg))
	binary.BigEndian.PutUint16(frame, uint16(len(msg)))
	copy(frame[limits.NoiseFrameHeader:], msg)
	c.cb.Emit(frame)
}

// Write encrypts plaintext into as many frames as needed.
func (c *Channel) Write(plaintext []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || c.closed || c.failure != nil {
		return fmt.Errorf("noise write: %w", syserr.ErrNotConnected)
	}
	send, _, err := c.hs.GetCipherStates()
	if err != nil {
		return err
	}
	for {
		chunk := plaintext[:min(len(plaintext), maxPlaintext)]
		plaintext = plaintext[len(chunk):]

		msg, err := send.Encrypt(nil, nil, chunk)
		if err != nil {
			return fmt.Errorf("noise encrypt failed: %w", err)
		}
		c.emitFrame(msg)
		if len(plaintext) == 0 {
			return nil
		}
	}
}

// CloseNotify queues an empty frame telling the peer we are done.
func (c *Channel) CloseNotify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && !c.closed {
		c.emitFrame(nil)
	}
}

// Active reports whether the handshake completed.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RemoteStaticKey returns the peer's static key once the handshake is done.
func (c *Channel) RemoteStaticKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hs.GetRemoteStaticKey()
}

// Close marks the channel closed. Further writes fail.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
