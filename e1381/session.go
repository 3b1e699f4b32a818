package e1381

import (
	"context"
	"net"
)

// RunInitiatorSession runs one complete sending session over the given
// channel: ENQ, one frame per non-empty record of message, then EOT.
//
// The returned AssembledMessage reflects the records the peer acknowledged;
// Complete is true only for a clean, fully ACK'd transfer. On any handshake
// failure the partial result is returned with the error, and the caller may
// retry the whole session if desired — there is no partial retry at this
// layer.
func RunInitiatorSession(ctx context.Context, conn net.Conn, message []byte, opts ...SessionOption) (*AssembledMessage, error) {
	cfg, err := NewSessionConfig(opts...)
	if err != nil {
		return nil, err
	}

	return NewInitiator(conn, cfg).Send(ctx, message)
}

// RunResponderSession runs one complete receiving session over the given
// channel: wait for ENQ, consume and acknowledge frames, terminate on EOT,
// stream close, or idle timeout.
//
// The returned AssembledMessage is never nil; partial data is surfaced even
// on failure. See [Responder.Run] for the termination semantics.
func RunResponderSession(ctx context.Context, conn net.Conn, opts ...SessionOption) (*AssembledMessage, error) {
	cfg, err := NewSessionConfig(opts...)
	if err != nil {
		return nil, err
	}

	return NewResponder(conn, cfg).Run(ctx)
}
