package e1381

import "errors"

// Sentinel errors for the E1381 link-layer protocol.
var (
	// Frame-level errors.
	ErrFrameTooLong       = errors.New("e1381: frame exceeds maximum length")
	ErrTruncatedFrame     = errors.New("e1381: stream closed mid-frame")
	ErrBadTrailer         = errors.New("e1381: frame trailer is not CR LF")
	ErrBadChecksumHex     = errors.New("e1381: checksum is not two hex digits")
	ErrInvalidFrameNumber = errors.New("e1381: frame number out of range [0, 7]")

	// Handshake errors (fatal in the Initiator role).
	ErrEnqRejected      = errors.New("e1381: peer rejected ENQ")
	ErrFrameRejected    = errors.New("e1381: peer rejected frame with NAK")
	ErrUnexpectedByte   = errors.New("e1381: unexpected byte during handshake")
	ErrRetriesExhausted = errors.New("e1381: frame send failure, retries exhausted")

	// Transport errors.
	ErrSessionClosed = errors.New("e1381: connection closed by peer")
	ErrReadTimeout   = errors.New("e1381: read timeout")
	ErrIdleTimeout   = errors.New("e1381: session idle timeout")
)
