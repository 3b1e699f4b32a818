package e1381

import (
	"context"
	"fmt"
	"net"

	"github.com/labwire/go-astm/logger"
)

// Initiator drives the sending side of an E1381 session: it opens the
// transfer with ENQ, sends each record as a numbered frame awaiting an ACK
// per frame, and terminates with EOT.
//
// An Initiator may send multiple messages over the same connection; the
// frame counter is session-scoped and continues across messages without
// resetting.
//
// Initiator is not goroutine-safe: E1381 is half-duplex and strictly
// sequential, so only one Send may be active at a time.
type Initiator struct {
	ft      *frameTransport
	cfg     *SessionConfig
	logger  logger.Logger
	counter frameCounter
}

// NewInitiator creates an Initiator session over the given connection.
func NewInitiator(conn net.Conn, cfg *SessionConfig) *Initiator {
	return &Initiator{
		ft:     newFrameTransport(conn, cfg),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Send transfers one logical message to the peer.
//
// The message is normalized into CR-terminated records (empty records are
// dropped), and each record is sent as one frame. The returned
// AssembledMessage contains the records the peer acknowledged, in order;
// Complete is true only when every frame was ACK'd and EOT was sent.
//
// Handshake failures are fatal at this layer: the session aborts and the
// partial result is returned alongside the error. Retrying is a whole-session
// concern left to the caller.
func (i *Initiator) Send(ctx context.Context, message []byte) (*AssembledMessage, error) {
	records := SplitRecords(message)

	var sent messageAssembler

	msg, err := i.send(ctx, records, &sent)
	i.cfg.trace.emitSessionEnd(msg, err)

	if err != nil {
		i.cfg.metrics.incMsgPartialCount()
	} else {
		i.cfg.metrics.incMsgCompleteCount()
	}

	return msg, err
}

func (i *Initiator) send(ctx context.Context, records [][]byte, sent *messageAssembler) (*AssembledMessage, error) {
	if len(records) == 0 {
		i.logger.Debug("e1381 initiator: nothing to send")

		return sent.snapshot(true), nil
	}

	// Establishment: ENQ, then one control byte decides the session.
	if err := i.writeControl(ENQ); err != nil {
		return sent.snapshot(false), err
	}

	b, err := i.readControl()
	if err != nil {
		return sent.snapshot(false), fmt.Errorf("waiting for ENQ response: %w", err)
	}

	if b != ACK {
		if b == NAK {
			i.cfg.metrics.incNakRecvCount()
		}

		i.logger.Warn("e1381 initiator: ENQ rejected", "response", fmt.Sprintf("0x%02X", b))

		return sent.snapshot(false), fmt.Errorf("%w: got 0x%02X", ErrEnqRejected, b)
	}

	// Transfer: one frame per record, each individually acknowledged.
	for _, record := range records {
		select {
		case <-ctx.Done():
			return sent.snapshot(false), ctx.Err()
		default:
		}

		frame := Frame{Number: i.counter.next(), Payload: record, Terminator: ETX}

		if err := i.sendFrame(&frame); err != nil {
			// Terminate the line before reporting, so the peer's session
			// does not hang until its idle timeout.
			_ = i.writeControl(EOT)

			return sent.snapshot(false), err
		}

		sent.append(record)
		i.cfg.metrics.incFrameSendCount()
	}

	// Termination.
	if err := i.writeControl(EOT); err != nil {
		return sent.snapshot(false), err
	}

	return sent.snapshot(true), nil
}

// sendFrame transmits one frame and waits for its acknowledgement,
// retransmitting the same frame number up to the configured retry limit on
// NAK, timeout, or an unrecognized response byte.
func (i *Initiator) sendFrame(frame *Frame) error {
	wire, err := frame.Encode()
	if err != nil {
		return err
	}

	var lastErr error

	for attempt := 0; attempt <= i.cfg.sendRetryLimit; attempt++ {
		if attempt > 0 {
			i.cfg.metrics.incFrameRetryCount()
			i.logger.Debug("e1381 initiator: retransmitting frame",
				"frameNumber", frame.Number,
				"attempt", attempt+1,
				"maxAttempts", i.cfg.sendRetryLimit+1)
		}

		if err := i.ft.writeAll(wire); err != nil {
			return fmt.Errorf("%w: writing frame: %w", ErrSessionClosed, err)
		}

		i.cfg.trace.emitFrame(Send, frame, true)

		b, err := i.readControl()

		switch {
		case err != nil:
			lastErr = err

		case b == ACK:
			return nil

		case b == NAK:
			i.cfg.metrics.incNakRecvCount()
			lastErr = fmt.Errorf("%w: frame %d", ErrFrameRejected, frame.Number)

		default:
			lastErr = fmt.Errorf("%w: got 0x%02X awaiting frame ACK", ErrUnexpectedByte, b)
		}

		// A closed stream cannot be retried.
		if isClosedSessionErr(lastErr) {
			return lastErr
		}
	}

	if i.cfg.sendRetryLimit > 0 {
		return fmt.Errorf("%w: frame %d after %d attempts: %w",
			ErrRetriesExhausted, frame.Number, i.cfg.sendRetryLimit+1, lastErr)
	}

	return lastErr
}

// readControl reads one control byte with the configured read timeout and
// traces it.
func (i *Initiator) readControl() (byte, error) {
	b, err := i.ft.readByte(i.cfg.readTimeout)
	if err != nil {
		if isTimeoutErr(err) {
			return 0, fmt.Errorf("%w: %w", ErrReadTimeout, err)
		}

		return 0, fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}

	i.cfg.trace.emitControl(Recv, b)

	return b, nil
}

// writeControl writes one control byte and traces it.
func (i *Initiator) writeControl(b byte) error {
	if err := i.ft.writeByte(b); err != nil {
		return fmt.Errorf("%w: writing 0x%02X: %w", ErrSessionClosed, b, err)
	}

	i.cfg.trace.emitControl(Send, b)

	return nil
}
