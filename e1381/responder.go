package e1381

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/labwire/go-astm/logger"
)

// Responder drives the receiving side of an E1381 session: it waits for ENQ,
// acknowledges it, then consumes frames until EOT, acknowledging each valid
// frame and rejecting each frame whose checksum fails.
//
// Whatever has been assembled is always surfaced, even on failure: forensic
// capture is a primary purpose of this role. A session that ends without a
// clean EOT returns a partial message alongside the error that ended it.
//
// Responder is not goroutine-safe; one session owns one connection.
type Responder struct {
	ft        *frameTransport
	cfg       *SessionConfig
	logger    logger.Logger
	assembler messageAssembler

	// enqSeen flips once the handshake has opened; before that, a peer
	// closing the stream is a clean session end rather than an error.
	enqSeen bool

	idleDeadline time.Time
}

// NewResponder creates a Responder session over the given connection.
func NewResponder(conn net.Conn, cfg *SessionConfig) *Responder {
	return &Responder{
		ft:     newFrameTransport(conn, cfg),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Run executes the session until EOT, stream close, idle timeout, or a fatal
// frame error, and returns the assembled message.
//
// The returned message is never nil. Complete is true only for a clean EOT
// termination; every other outcome yields a partial message, with the error
// describing what ended the session. A stream that closes before ENQ arrives
// is a clean (empty, partial) end with a nil error.
func (r *Responder) Run(ctx context.Context) (*AssembledMessage, error) {
	r.idleDeadline = time.Now().Add(r.cfg.idleTimeout)

	msg, err := r.run(ctx)
	r.cfg.trace.emitSessionEnd(msg, err)

	if msg.Complete {
		r.cfg.metrics.incMsgCompleteCount()
	} else {
		r.cfg.metrics.incMsgPartialCount()
	}

	return msg, err
}

func (r *Responder) run(ctx context.Context) (*AssembledMessage, error) {
	for {
		select {
		case <-ctx.Done():
			return r.assembler.snapshot(false), ctx.Err()
		default:
		}

		b, err := r.ft.readByte(r.cfg.readTimeout)
		if err != nil {
			if stop, msg, serr := r.handleReadError(err); stop {
				return msg, serr
			}

			continue
		}

		r.idleDeadline = time.Now().Add(r.cfg.idleTimeout)

		if stop, msg, serr := r.handleByte(b); stop {
			return msg, serr
		}
	}
}

// handleReadError classifies a failed read. A deadline expiry is a scheduling
// tick: the session only ends if the idle deadline has also passed.
func (r *Responder) handleReadError(err error) (bool, *AssembledMessage, error) {
	if isTimeoutErr(err) {
		if time.Now().After(r.idleDeadline) {
			r.logger.Info("e1381 responder: idle timeout, closing session",
				"idleTimeout", r.cfg.idleTimeout,
				"assembledBytes", r.assembler.len())

			return true, r.assembler.snapshot(false), ErrIdleTimeout
		}

		return false, nil, nil
	}

	if isClosedErr(err) {
		if !r.enqSeen {
			// Peer connected and left without opening a transfer.
			r.logger.Debug("e1381 responder: peer closed before ENQ")

			return true, r.assembler.snapshot(false), nil
		}

		r.logger.Info("e1381 responder: peer closed mid-session",
			"assembledBytes", r.assembler.len())

		return true, r.assembler.snapshot(false), fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}

	return true, r.assembler.snapshot(false), fmt.Errorf("%w: %w", ErrSessionClosed, err)
}

// handleByte dispatches one received byte according to the session state.
func (r *Responder) handleByte(b byte) (bool, *AssembledMessage, error) {
	if !r.enqSeen {
		return r.waitEnq(b)
	}

	return r.frameOrEot(b)
}

// waitEnq implements the opening state: everything except ENQ is ignorable
// noise until the peer opens a transfer.
func (r *Responder) waitEnq(b byte) (bool, *AssembledMessage, error) {
	if b != ENQ {
		r.logger.Debug("e1381 responder: ignoring byte while waiting for ENQ",
			"byte", fmt.Sprintf("0x%02X", b))

		return false, nil, nil
	}

	r.cfg.trace.emitControl(Recv, ENQ)

	if err := r.writeControl(ACK); err != nil {
		return true, r.assembler.snapshot(false), err
	}

	r.enqSeen = true

	return false, nil, nil
}

// frameOrEot implements the transfer state: each byte is EOT, the STX of a
// frame, role-violation noise, or ignorable garbage.
func (r *Responder) frameOrEot(b byte) (bool, *AssembledMessage, error) {
	switch b {
	case EOT:
		r.cfg.trace.emitControl(Recv, EOT)
		r.logger.Info("e1381 responder: EOT received, message complete",
			"assembledBytes", r.assembler.len())

		return true, r.assembler.snapshot(true), nil

	case STX:
		return r.receiveFrame()

	case ENQ:
		// A repeated ENQ mid-session is re-acknowledged; some analyzers
		// re-enquire between messages on a held-open connection.
		r.cfg.trace.emitControl(Recv, ENQ)

		if err := r.writeControl(ACK); err != nil {
			return true, r.assembler.snapshot(false), err
		}

		return false, nil, nil

	case ACK, NAK:
		// Role violation: these flow initiator-ward. Noise, not fatal.
		r.cfg.trace.emitControl(Recv, b)
		r.logger.Warn("e1381 responder: unexpected control byte for this role",
			"byte", fmt.Sprintf("0x%02X", b))

		return false, nil, nil

	default:
		r.logger.Debug("e1381 responder: ignoring unexpected byte",
			"byte", fmt.Sprintf("0x%02X", b))

		return false, nil, nil
	}
}

// receiveFrame decodes one frame after a consumed STX and acknowledges or
// rejects it on checksum correctness alone.
//
// Decode failures that leave the stream unreadable (truncation, an unbounded
// frame, a read timeout mid-frame) end the session with the partial message.
func (r *Responder) receiveFrame() (bool, *AssembledMessage, error) {
	rf, err := r.ft.readFrame()
	if err != nil {
		r.logger.Warn("e1381 responder: frame aborted", "error", err)

		// An unbounded frame leaves the stream readable: reject it and keep
		// consuming, skipping the overrun bytes until the next STX or EOT.
		if errors.Is(err, ErrFrameTooLong) {
			r.cfg.metrics.incNakSendCount()

			if werr := r.writeControl(NAK); werr != nil {
				return true, r.assembler.snapshot(false), werr
			}

			return false, nil, nil
		}

		// Mid-frame silence folds into the idle-timeout decision the same
		// way an idle line does.
		if errors.Is(err, ErrReadTimeout) && time.Now().After(r.idleDeadline) {
			return true, r.assembler.snapshot(false), ErrIdleTimeout
		}

		return true, r.assembler.snapshot(false), err
	}

	r.idleDeadline = time.Now().Add(r.cfg.idleTimeout)
	r.cfg.trace.emitFrame(Recv, &rf.frame, rf.checksumValid)

	r.logger.Debug("e1381 responder: frame received",
		"frameNumber", rf.frame.Number,
		"payloadLen", len(rf.frame.Payload),
		"checksumValid", rf.checksumValid,
		"trailerOK", rf.trailerErr == nil)

	if !rf.checksumValid {
		// The peer must retransmit; nothing is appended past a NAK.
		r.cfg.metrics.incNakSendCount()

		if err := r.writeControl(NAK); err != nil {
			return true, r.assembler.snapshot(false), err
		}

		return false, nil, nil
	}

	r.assembler.append(rf.frame.Payload)
	r.cfg.metrics.incFrameRecvCount()

	if r.cfg.payload != nil {
		r.cfg.payload(rf.frame.Payload)
	}

	if err := r.writeControl(ACK); err != nil {
		return true, r.assembler.snapshot(false), err
	}

	return false, nil, nil
}

// writeControl writes one control byte and traces it.
func (r *Responder) writeControl(b byte) error {
	if err := r.ft.writeByte(b); err != nil {
		return fmt.Errorf("%w: writing 0x%02X: %w", ErrSessionClosed, b, err)
	}

	r.cfg.trace.emitControl(Send, b)

	return nil
}

// Partial returns a snapshot of what has been assembled so far without
// ending the session. Useful for supervisors that decide to close a
// connection from outside the session goroutine.
func (r *Responder) Partial() *AssembledMessage {
	return r.assembler.snapshot(false)
}
