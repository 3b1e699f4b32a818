package e1381

// Direction tags traced bytes and frames with the side that produced them.
type Direction int

const (
	// Recv marks bytes read from the peer.
	Recv Direction = iota
	// Send marks bytes written to the peer.
	Send
)

// String returns "recv" or "send".
func (d Direction) String() string {
	if d == Send {
		return "send"
	}

	return "recv"
}

// Trace carries optional observer hooks for a session. The engines invoke
// them synchronously from the protocol loop; hooks must not block and must
// not perform I/O on the session's channel.
//
// Any field may be nil. A nil *Trace disables tracing entirely.
type Trace struct {
	// OnControl is invoked for each control byte (ENQ, ACK, NAK, EOT)
	// sent or received.
	OnControl func(dir Direction, b byte)

	// OnFrame is invoked for each frame sent or received. For received
	// frames, checksumValid reports the validation outcome.
	OnFrame func(dir Direction, f *Frame, checksumValid bool)

	// OnSessionEnd is invoked once when the session terminates, with the
	// assembled message (possibly partial, possibly nil for the Initiator
	// role) and the session error, if any.
	OnSessionEnd func(msg *AssembledMessage, err error)
}

func (t *Trace) emitControl(dir Direction, b byte) {
	if t == nil || t.OnControl == nil {
		return
	}

	t.OnControl(dir, b)
}

func (t *Trace) emitFrame(dir Direction, f *Frame, checksumValid bool) {
	if t == nil || t.OnFrame == nil {
		return
	}

	t.OnFrame(dir, f, checksumValid)
}

func (t *Trace) emitSessionEnd(msg *AssembledMessage, err error) {
	if t == nil || t.OnSessionEnd == nil {
		return
	}

	t.OnSessionEnd(msg, err)
}
