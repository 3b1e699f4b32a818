package e1381

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics for E1381 sessions.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// FrameSendCount indicates the number of frames sent (ACK'd).
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of checksum-valid frames received.
	FrameRecvCount atomic.Uint64
	// FrameRetryCount indicates the total number of frame send retries.
	FrameRetryCount atomic.Uint64

	// NakSendCount indicates the number of NAKs sent (bad checksums seen).
	NakSendCount atomic.Uint64
	// NakRecvCount indicates the number of NAKs received from the peer.
	NakRecvCount atomic.Uint64

	// MsgCompleteCount indicates the number of messages completed by EOT.
	MsgCompleteCount atomic.Uint64
	// MsgPartialCount indicates the number of sessions finalized with a
	// partial message (timeout, close, or protocol failure).
	MsgPartialCount atomic.Uint64
}

func (m *SessionMetrics) incFrameSendCount() {
	if m != nil {
		m.FrameSendCount.Add(1)
	}
}

func (m *SessionMetrics) incFrameRecvCount() {
	if m != nil {
		m.FrameRecvCount.Add(1)
	}
}

func (m *SessionMetrics) incFrameRetryCount() {
	if m != nil {
		m.FrameRetryCount.Add(1)
	}
}

func (m *SessionMetrics) incNakSendCount() {
	if m != nil {
		m.NakSendCount.Add(1)
	}
}

func (m *SessionMetrics) incNakRecvCount() {
	if m != nil {
		m.NakRecvCount.Add(1)
	}
}

func (m *SessionMetrics) incMsgCompleteCount() {
	if m != nil {
		m.MsgCompleteCount.Add(1)
	}
}

func (m *SessionMetrics) incMsgPartialCount() {
	if m != nil {
		m.MsgPartialCount.Add(1)
	}
}
