package e1381

import (
	"fmt"
)

// E1381 control characters.
// These single-byte characters are exchanged on the wire to coordinate the
// half-duplex transfer.
const (
	// ENQ (Enquiry) opens a message transfer.
	ENQ byte = 0x05

	// ACK (Acknowledge) accepts an ENQ or a frame.
	ACK byte = 0x06

	// NAK (Negative Acknowledge) rejects an ENQ or a frame.
	NAK byte = 0x15

	// EOT (End of Transmission) terminates a message transfer.
	EOT byte = 0x04

	// STX (Start of Text) marks the beginning of a frame.
	STX byte = 0x02

	// ETX (End of Text) terminates the last (or only) frame of a record.
	ETX byte = 0x03

	// ETB (End of Transmission Block) terminates an intermediate frame.
	ETB byte = 0x17

	// CR is the record terminator within frame payloads.
	CR byte = 0x0D

	// LF completes the CR LF frame trailer.
	LF byte = 0x0A
)

// DefaultMaxFrameLength caps the payload of a single frame to bound memory
// while decoding. Frames exceeding this length are rejected with
// [ErrFrameTooLong].
const DefaultMaxFrameLength = 8192

// frameOverhead is the number of non-payload bytes in a wire frame:
// STX, frame number digit, terminator, 2 checksum hex digits, CR, LF.
const frameOverhead = 7

// maxFrameNumber is the largest frame number before the counter wraps to 0.
const maxFrameNumber = 7

// Checksum computes the E1381 checksum over data: the arithmetic sum of all
// unsigned byte values, truncated to 8 bits.
//
// On the wire the checksum covers the byte range from the frame number digit
// through the ETX/ETB terminator inclusive. STX and the trailing checksum/CRLF
// are excluded.
func Checksum(data []byte) byte {
	var sum uint32
	for _, v := range data {
		sum += uint32(v)
	}

	return byte(sum & 0xFF)
}

// renderChecksum renders a checksum as two uppercase ASCII hex digits.
func renderChecksum(cs byte) [2]byte {
	const hexDigits = "0123456789ABCDEF"

	return [2]byte{hexDigits[cs>>4], hexDigits[cs&0x0F]}
}

// parseChecksum parses two ASCII hex digits into a checksum value.
// Lowercase digits are accepted. Returns ErrBadChecksumHex if either byte
// is not a hex digit.
func parseChecksum(hi, lo byte) (byte, error) {
	h, err := hexNibble(hi)
	if err != nil {
		return 0, err
	}

	l, err := hexNibble(lo)
	if err != nil {
		return 0, err
	}

	return h<<4 | l, nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrBadChecksumHex, b)
	}
}

// Frame represents a single E1381 frame: one numbered, checksummed chunk of a
// logical message.
//
// A frame on the wire is:
//
//	STX <number digit> <payload ending in CR> <ETX|ETB> <checksum hi> <checksum lo> CR LF
type Frame struct {
	// Number is the cyclic frame number, 0–7. The first frame of a session
	// is numbered 1; the counter wraps 7 → 0 and continues.
	Number int

	// Payload is the record bytes strictly between the frame number digit
	// and the terminator, terminator excluded. On encode a trailing CR is
	// appended if the record lacks one.
	Payload []byte

	// Terminator is ETX for the final frame of a record, ETB for an
	// intermediate frame of an oversized record.
	Terminator byte
}

// numberDigit returns the ASCII digit byte for the frame number.
func (f *Frame) numberDigit() byte {
	return '0' + byte(f.Number)
}

// Checksum computes the frame's checksum over number digit + payload +
// terminator, with the payload's record-boundary CR included.
func (f *Frame) Checksum() byte {
	var sum uint32

	sum += uint32(f.numberDigit())
	for _, v := range f.Payload {
		sum += uint32(v)
	}

	if !endsWithCR(f.Payload) {
		sum += uint32(CR)
	}

	sum += uint32(f.Terminator)

	return byte(sum & 0xFF)
}

// Encode serializes the frame to its wire format.
//
// If the payload does not already end with CR, one is appended so that every
// frame carries a complete, CR-terminated record. Returns
// ErrInvalidFrameNumber if Number is outside [0, 7].
func (f *Frame) Encode() ([]byte, error) {
	if f.Number < 0 || f.Number > maxFrameNumber {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFrameNumber, f.Number)
	}

	term := f.Terminator
	if term == 0 {
		term = ETX
	}

	needCR := !endsWithCR(f.Payload)

	wireLen := frameOverhead + len(f.Payload)
	if needCR {
		wireLen++
	}

	buf := make([]byte, 0, wireLen)
	buf = append(buf, STX, f.numberDigit())
	buf = append(buf, f.Payload...)

	if needCR {
		buf = append(buf, CR)
	}

	buf = append(buf, term)

	// Checksum covers number digit through terminator; STX is excluded.
	cs := renderChecksum(Checksum(buf[1:]))
	buf = append(buf, cs[0], cs[1], CR, LF)

	return buf, nil
}

// EncodeFrame builds the wire bytes for one record carried in the frame with
// the given number. Shorthand for constructing a [Frame] and calling Encode.
func EncodeFrame(number int, record []byte) ([]byte, error) {
	f := Frame{Number: number, Payload: record, Terminator: ETX}

	return f.Encode()
}

// recvFrame is the result of decoding one frame from the wire.
//
// The trailer and checksum are validated independently: a frame with a
// malformed CR LF trailer still has its checksum verified, and the receiver
// role acknowledges or rejects it on checksum correctness alone.
type recvFrame struct {
	frame Frame

	// rawNumber is the wire byte following STX. It participates in the
	// checksum even when it is not a valid frame number digit.
	rawNumber byte

	// checksumValid reports whether the wire checksum matched the computed
	// one. A malformed checksum field (non-hex) counts as invalid.
	checksumValid bool

	// trailerErr is nil when the final two frame bytes were CR LF, and
	// wraps ErrBadTrailer otherwise. The receiver tolerates a malformed
	// trailer; acknowledgement rides on the checksum alone.
	trailerErr error
}

// frameCounter produces the session-scoped cyclic frame number sequence
// 1, 2, ..., 7, 0, 1, ... The counter continues across messages within one
// session; it does not reset at message boundaries.
type frameCounter struct {
	cur int
}

// next advances the counter and returns the number for the next frame.
func (c *frameCounter) next() int {
	c.cur = (c.cur + 1) % (maxFrameNumber + 1)

	return c.cur
}

func endsWithCR(b []byte) bool {
	return len(b) > 0 && b[len(b)-1] == CR
}
