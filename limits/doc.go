// Package limits provides centralized buffer size constants and validation
// functions for socket I/O.
//
// # Size Hierarchy
//
//   - DefaultRecvSize (1024 bytes): the receive size used by sessions unless
//     configured otherwise.
//
//   - MaxTLSRecord: the largest TLS ciphertext record. Secure overlays always
//     read at least this much from the transport so one record fits.
//
//   - MaxNoiseMessage (65535 bytes): the Noise protocol message limit.
//
//   - MaxProcessingBuffer (1MB): the absolute maximum for any single receive or
//     send.
//
// # Validation Functions
//
//	if err := limits.ValidateRecvSize(size); err != nil {
//	    // errors.Is(err, limits.ErrInvalidRecvSize)
//	}
//
//	if err := limits.ValidateSendSize(data); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
package limits
