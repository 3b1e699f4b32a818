package e1381

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/labwire/go-astm/logger"
)

// frameTransport handles byte-level I/O for an E1381 session over an abstract
// bidirectional byte channel (in practice a net.Conn, or a net.Pipe end in
// tests).
//
// This type is NOT goroutine-safe. The session engine must ensure that only
// one operation is active at a time, consistent with the half-duplex nature
// of E1381.
type frameTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    *SessionConfig
	logger logger.Logger
}

// newFrameTransport creates a frameTransport for the given connection.
func newFrameTransport(conn net.Conn, cfg *SessionConfig) *frameTransport {
	return &frameTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// --- Low-level I/O helpers ---

// readByte reads a single byte from the connection with the given timeout.
// Returns os.ErrDeadlineExceeded (or net.Error with Timeout()=true) on timeout.
func (ft *frameTransport) readByte(timeout time.Duration) (byte, error) {
	if err := ft.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	return ft.reader.ReadByte()
}

// readFull reads exactly len(buf) bytes, applying the read timeout as a
// per-read-call deadline.
//
// On TCP, Read() may return multiple bytes at once, so the deadline bounds
// each Read() call rather than each individual byte; it is reset after each
// chunk of data so the timer restarts whenever the peer makes progress.
func (ft *frameTransport) readFull(buf []byte, timeout time.Duration) error {
	for read := 0; read < len(buf); {
		if err := ft.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}

		n, err := ft.reader.Read(buf[read:])
		read += n

		if err != nil {
			return err
		}
	}

	return nil
}

// readUntil reads bytes until one of the stop bytes is encountered,
// returning the data including the stop byte. Reading more than maxLen bytes
// without hitting a stop byte fails with ErrFrameTooLong.
func (ft *frameTransport) readUntil(stopA, stopB byte, maxLen int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, 128)

	for {
		b, err := ft.readByte(timeout)
		if err != nil {
			return buf, err
		}

		buf = append(buf, b)

		if b == stopA || b == stopB {
			return buf, nil
		}

		if len(buf) >= maxLen {
			return buf, fmt.Errorf("%w: %d bytes without terminator", ErrFrameTooLong, len(buf))
		}
	}
}

// writeByte writes a single control byte (ENQ, ACK, NAK, or EOT).
func (ft *frameTransport) writeByte(b byte) error {
	_, err := ft.conn.Write([]byte{b})

	return err
}

// writeAll writes all bytes in data to the connection.
func (ft *frameTransport) writeAll(data []byte) error {
	for written := 0; written < len(data); {
		n, err := ft.conn.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

// --- Frame decoding ---

// readFrame reads and validates a single E1381 frame from the wire.
//
// The caller must have already consumed the STX byte. readFrame handles:
//
//  1. Reading the frame number byte.
//  2. Reading payload bytes until ETX or ETB, capped at maxFrameLength.
//  3. Reading the 2-byte checksum field and the 2-byte CR LF trailer.
//  4. Recomputing the checksum over (number byte + payload + terminator)
//     and comparing it to the parsed wire checksum.
//
// A malformed trailer is reported via recvFrame.trailerErr but does not abort
// checksum validation: the receiver role acknowledges or rejects the frame on
// checksum correctness alone. A short read (stream closed mid-frame) yields
// ErrTruncatedFrame; a read timeout yields ErrReadTimeout.
func (ft *frameTransport) readFrame() (*recvFrame, error) {
	timeout := ft.cfg.readTimeout

	// Step 1: frame number byte.
	numByte, err := ft.readByte(timeout)
	if err != nil {
		return nil, wrapReadErr("frame number", err)
	}

	// Step 2: payload through terminator.
	data, err := ft.readUntil(ETX, ETB, ft.cfg.maxFrameLength, timeout)
	if err != nil {
		if errors.Is(err, ErrFrameTooLong) {
			return nil, err
		}

		return nil, wrapReadErr("frame payload", err)
	}

	terminator := data[len(data)-1]
	payload := data[:len(data)-1]

	// Step 3: 2 checksum hex digits + CR LF trailer.
	var tail [4]byte
	if err := ft.readFull(tail[:], timeout); err != nil {
		return nil, wrapReadErr("frame trailer", err)
	}

	var trailerErr error
	if tail[2] != CR || tail[3] != LF {
		trailerErr = fmt.Errorf("%w: got 0x%02X 0x%02X", ErrBadTrailer, tail[2], tail[3])
		ft.logger.Warn("e1381: malformed frame trailer", "error", trailerErr)
	}

	// Step 4: checksum verification. The computed sum covers the number
	// byte through the terminator; a non-hex wire checksum counts as a
	// mismatch rather than a stream failure.
	computed := Checksum(data)
	computed += numByte // data excludes the number byte read in step 1

	valid := false
	if wire, err := parseChecksum(tail[0], tail[1]); err == nil {
		valid = wire == computed
	} else {
		ft.logger.Warn("e1381: malformed checksum field", "error", err)
	}

	rf := &recvFrame{
		frame: Frame{
			Number:     frameNumberFromDigit(numByte),
			Payload:    payload,
			Terminator: terminator,
		},
		rawNumber:     numByte,
		checksumValid: valid,
		trailerErr:    trailerErr,
	}

	return rf, nil
}

// frameNumberFromDigit maps a wire frame number byte to its integer value,
// or -1 if the byte is not a digit in '0'..'7'.
func frameNumberFromDigit(b byte) int {
	if b < '0' || b > '0'+maxFrameNumber {
		return -1
	}

	return int(b - '0')
}

// wrapReadErr classifies a low-level read failure as truncation, timeout, or
// closed stream, preserving the underlying error.
func wrapReadErr(what string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: reading %s: %w", ErrReadTimeout, what, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: reading %s: %w", ErrTruncatedFrame, what, err)
	}

	return fmt.Errorf("%w: reading %s: %w", ErrSessionClosed, what, err)
}

// isClosedErr reports whether err indicates the peer closed the stream.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// isTimeoutErr reports whether err is a read deadline expiry.
func isTimeoutErr(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedSessionErr reports whether err carries the ErrSessionClosed sentinel.
func isClosedSessionErr(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
