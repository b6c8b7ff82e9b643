package noise

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake
	Initiator HandshakeRole = iota
	// Responder answers the initiator
	Responder
)

func (r HandshakeRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Pattern selects the Noise handshake pattern.
type Pattern uint8

const (
	// IK is used when the initiator knows the responder's static key.
	IK Pattern = iota
	// XX is used when neither side knows the other's static key.
	XX
)

func (p Pattern) String() string {
	switch p {
	case IK:
		return "IK"
	case XX:
		return "XX"
	default:
		return fmt.Sprintf("Pattern(%d)", uint8(p))
	}
}

// Handshake runs one Noise handshake and yields the transport cipher states.
// Messages alternate between the two sides; MyTurn reports whether the next
// step is a write.
type Handshake struct {
	role       HandshakeRole
	pattern    Pattern
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
	myTurn     bool
	localPub   []byte
}

// NewHandshake creates a handshake with our static keys. The IK initiator
// must know the responder's static public key.
func NewHandshake(pattern Pattern, keys *KeyPair, peerPubKey []byte, role HandshakeRole) (*Handshake, error) {
	if err := validateHandshakePattern(pattern, peerPubKey, role); err != nil {
		return nil, fmt.Errorf("handshake pattern validation failed: %w", err)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: static key pair required", ErrInvalidKey)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, KeySize),
		Public:  make([]byte, KeySize),
	}
	copy(staticKey.Private, keys.Private[:])
	copy(staticKey.Public, keys.Public[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if pattern == XX {
		config.Pattern = noise.HandshakeXX
	}
	if role == Initiator && pattern == IK {
		config.PeerStatic = append([]byte(nil), peerPubKey...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{
		role:     role,
		pattern:  pattern,
		state:    state,
		myTurn:   role == Initiator,
		localPub: append([]byte(nil), keys.Public[:]...),
	}, nil
}

// WriteMessage produces our next handshake message. It reports whether the
// handshake completed with this message.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, bool, error) {
	if h.complete {
		return nil, false, ErrHandshakeComplete
	}
	if !h.myTurn {
		return nil, false, fmt.Errorf("%w: waiting for peer message", ErrInvalidMessage)
	}

	message, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("%s write failed: %w", h.role, err)
	}
	h.myTurn = false
	h.finish(cs1, cs2)
	return message, h.complete, nil
}

// ReadMessage processes the peer's next handshake message and returns its
// payload.
func (h *Handshake) ReadMessage(message []byte) ([]byte, bool, error) {
	if h.complete {
		return nil, false, ErrHandshakeComplete
	}
	if h.myTurn {
		return nil, false, fmt.Errorf("%w: expected to write next", ErrInvalidMessage)
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("%s read failed: %w", h.role, err)
	}
	h.myTurn = true
	h.finish(cs1, cs2)
	return payload, h.complete, nil
}

// finish stores the cipher states once the pattern is exhausted. The first
// state always encrypts initiator-to-responder traffic.
func (h *Handshake) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if h.role == Initiator {
		h.sendCipher, h.recvCipher = cs1, cs2
	} else {
		h.sendCipher, h.recvCipher = cs2, cs1
	}
	h.complete = true
}

// IsComplete returns true if handshake is finished and cipher states are available.
func (h *Handshake) IsComplete() bool {
	return h.complete
}

// MyTurn reports whether the next handshake step is ours to write.
func (h *Handshake) MyTurn() bool {
	return h.myTurn
}

// GetCipherStates returns the send and receive cipher states after successful handshake.
func (h *Handshake) GetCipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !h.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return h.sendCipher, h.recvCipher, nil
}

// GetRemoteStaticKey returns the peer's static public key after successful handshake.
func (h *Handshake) GetRemoteStaticKey() ([]byte, error) {
	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	remoteKey := h.state.PeerStatic()
	if len(remoteKey) == 0 {
		return nil, fmt.Errorf("remote static key not available")
	}
	return append([]byte(nil), remoteKey...), nil
}

// GetLocalStaticKey returns our static public key.
func (h *Handshake) GetLocalStaticKey() []byte {
	return append([]byte(nil), h.localPub...)
}

// validateHandshakePattern checks the pattern is supported and that the
// initiator of an IK handshake has the responder's key.
func validateHandshakePattern(pattern Pattern, peerPubKey []byte, role HandshakeRole) error {
	switch pattern {
	case IK:
		if role == Initiator && len(peerPubKey) != KeySize {
			return fmt.Errorf("initiator requires peer public key (%d bytes), got %d", KeySize, len(peerPubKey))
		}
		return nil
	case XX:
		return nil
	default:
		return fmt.Errorf("unknown handshake pattern: %s", pattern)
	}
}
