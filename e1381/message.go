package e1381

import (
	"bytes"
	"strings"
	"sync"
)

// ===========================================================================
// Message splitting — split a logical message into records for sending.
// ===========================================================================

// SplitRecords normalizes a logical message into the CR-terminated records it
// will be framed as.
//
// Line endings are normalized to CR (CR LF and bare LF both become CR), the
// message is split on CR, and empty records are dropped. Each returned record
// excludes its terminator; the frame encoder re-appends the CR.
func SplitRecords(message []byte) [][]byte {
	norm := bytes.ReplaceAll(message, []byte{CR, LF}, []byte{CR})
	norm = bytes.ReplaceAll(norm, []byte{LF}, []byte{CR})

	var records [][]byte

	for _, line := range bytes.Split(norm, []byte{CR}) {
		if len(line) == 0 {
			continue
		}

		rec := make([]byte, len(line))
		copy(rec, line)
		records = append(records, rec)
	}

	return records
}

// ===========================================================================
// Message assembly — reassemble frame payloads received from the wire.
// ===========================================================================

// AssembledMessage is the result of one session: the concatenation of
// validated frame payloads in receipt order.
//
// Callers must not mutate Data; it is a snapshot owned by the caller once the
// session has ended.
type AssembledMessage struct {
	// Data is the raw assembled bytes, record-boundary normalized so every
	// record ends with CR.
	Data []byte

	// Complete is true only if the session was terminated by EOT with no
	// fatal frame error. Sessions ended by timeout, stream close, or
	// protocol failure produce a partial message.
	Complete bool
}

// Text returns the assembled message as text with CR LF sequences collapsed
// to CR and surrounding whitespace trimmed, the form used for display and
// logging. Data is unaffected.
func (m *AssembledMessage) Text() string {
	s := strings.ReplaceAll(string(m.Data), "\r\n", "\r")

	return strings.TrimSpace(s)
}

// Records splits the assembled data into its CR-terminated records,
// terminators excluded.
func (m *AssembledMessage) Records() []string {
	var records []string

	for _, line := range strings.Split(string(m.Data), "\r") {
		if line == "" {
			continue
		}

		records = append(records, line)
	}

	return records
}

// messageAssembler accumulates validated frame payloads into one logical
// message.
//
// Writes come from the session goroutine; snapshots may be taken from other
// goroutines (see [Responder.Partial]), so access is mutex-guarded.
type messageAssembler struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// append adds a validated payload to the accumulator. If the payload does not
// end with CR, one is appended so record boundaries survive reassembly.
func (a *messageAssembler) append(payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Write(payload)

	if !endsWithCR(payload) {
		a.buf.WriteByte(CR)
	}
}

// len returns the number of accumulated bytes.
func (a *messageAssembler) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.buf.Len()
}

// snapshot returns the accumulated bytes as an AssembledMessage with the
// given completeness. It may be called repeatedly and from any goroutine;
// each call returns an independent copy, so a partial result can be fetched
// before a decided close without disturbing the accumulator.
func (a *messageAssembler) snapshot(complete bool) *AssembledMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := make([]byte, a.buf.Len())
	copy(data, a.buf.Bytes())

	return &AssembledMessage{Data: data, Complete: complete}
}
