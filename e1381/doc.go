// Package e1381 implements the ASTM E1381 low-level (link layer) transport
// protocol running over a TCP/IP stream.
//
// ASTM E1381 is the framed transport used by clinical laboratory instruments
// to exchange E1394 (LIS2-A) result messages. This package adapts the protocol
// for use over TCP/IP, treating the TCP stream as a byte-oriented transport in
// place of the original serial line.
//
// # Protocol Overview
//
// E1381 is a half-duplex, frame-oriented protocol with explicit handshake
// control using single-byte control characters:
//
//   - ENQ (0x05) — sender requests to open a message transfer
//   - ACK (0x06) — receiver accepts the transfer or a frame
//   - NAK (0x15) — receiver rejects a frame (checksum failure)
//   - EOT (0x04) — sender terminates the transfer
//
// Each logical message is split into CR-terminated records, and each record is
// carried in one frame:
//
//	STX <frame number digit> <record bytes ending in CR> ETX <checksum (2 hex)> CR LF
//
// The checksum is the low 8 bits of the byte sum from the frame number digit
// through the ETX/ETB terminator, rendered as two uppercase hex characters.
// Frame numbers start at 1 and cycle 1..7, 0, 1, ... for the lifetime of the
// session.
//
// # Roles
//
// [Initiator] implements the sending side of the handshake: ENQ, a frame loop
// where each frame must be individually acknowledged, then EOT. [Responder]
// implements the receiving side: it waits for ENQ, acknowledges each valid
// frame, rejects frames with bad checksums, and reassembles the payloads into
// an [AssembledMessage]. Both roles are strictly sequential; there is no
// pipelining within a session.
//
// # Timeouts
//
// Two deadlines bound how long a session waits for the peer:
//
//   - read timeout: the deadline for a single blocking read; on expiry the
//     responder re-evaluates its idle deadline rather than failing
//   - idle timeout: the session-level inactivity bound; on expiry the session
//     is force-closed and whatever has been assembled is returned as partial
package e1381
