// Package limits provides centralized buffer size limits for socket I/O.
// This ensures consistent validation across the engine, the socket delegates
// and the secure overlays.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MinRecvSize is the smallest receive buffer a caller may request.
	MinRecvSize = 1

	// DefaultRecvSize is the receive buffer size used when none is configured.
	DefaultRecvSize = 1024

	// MaxRecvSize is the largest receive buffer a caller may request.
	MaxRecvSize = MaxProcessingBuffer

	// MaxSendSize is the largest payload accepted by a single send call.
	MaxSendSize = MaxProcessingBuffer

	// MaxTLSRecord is the largest TLS ciphertext record (2^14 + 2048 expansion + 5 header).
	// Receives on a TLS overlay are never smaller than this so a full record fits.
	MaxTLSRecord = 16384 + 2048 + 5

	// MaxNoiseMessage is the Noise protocol limit for a single transport message.
	MaxNoiseMessage = 65535

	// NoiseFrameHeader is the length prefix carried before every Noise message.
	NoiseFrameHeader = 2

	// MaxProcessingBuffer is the absolute maximum for any operation.
	// This prevents memory exhaustion from oversized receive requests (1MB limit)
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidRecvSize indicates a receive size outside [MinRecvSize, MaxRecvSize]
	ErrInvalidRecvSize = errors.New("invalid receive size")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateSendSize checks a payload handed to a single send call.
// Empty payloads are allowed; datagram sockets may legitimately send them.
func ValidateSendSize(data []byte) error {
	if len(data) > MaxSendSize {
		return fmt.Errorf("%w: send size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxSendSize)
	}
	return nil
}

// ValidateRecvSize checks a requested receive buffer size.
func ValidateRecvSize(size int) error {
	if size < MinRecvSize || size > MaxRecvSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidRecvSize, size, MinRecvSize, MaxRecvSize)
	}
	return nil
}

// ClampRecvSize returns size limited to [MinRecvSize, MaxRecvSize].
func ClampRecvSize(size int) int {
	if size < MinRecvSize {
		return MinRecvSize
	}
	if size > MaxRecvSize {
		return MaxRecvSize
	}
	return size
}
