package e1381

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end tests wire a real Initiator against a real Responder over
// net.Pipe, with no scripted peer.

func TestSessionEndToEnd(t *testing.T) {
	local, remote := newPipeConn(t)

	message := []byte("H|\\^&|||Analyzer^1\rP|1\rO|1|SAMPLE01||^^^WBC\rR|1|^^^WBC|6.2|10*3/uL\rL|1|N\r")

	type result struct {
		msg *AssembledMessage
		err error
	}

	recvCh := make(chan result, 1)

	go func() {
		msg, err := RunResponderSession(context.Background(), remote,
			WithReadTimeout(200*time.Millisecond))
		recvCh <- result{msg, err}
	}()

	sent, err := RunInitiatorSession(context.Background(), local, message,
		WithReadTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.True(t, sent.Complete)

	recv := <-recvCh
	require.NoError(t, recv.err)
	require.True(t, recv.msg.Complete)

	assert.Equal(t, message, recv.msg.Data, "the assembled message must match what was sent byte for byte")
	assert.Equal(t, sent.Data, recv.msg.Data)
	assert.Len(t, recv.msg.Records(), 5)
}

func TestSessionEndToEnd_ManyRecords(t *testing.T) {
	// Enough records to wrap the frame counter twice.
	local, remote := newPipeConn(t)

	var (
		message []byte
		sendM   SessionMetrics
		recvM   SessionMetrics
	)

	const records = 20
	for i := 0; i < records; i++ {
		message = append(message, []byte("R|1|^^^RBC|4.5|10*6/uL\r")...)
	}

	recvCh := make(chan *AssembledMessage, 1)

	go func() {
		msg, err := RunResponderSession(context.Background(), remote,
			WithReadTimeout(200*time.Millisecond),
			WithMetrics(&recvM))
		assert.NoError(t, err)
		recvCh <- msg
	}()

	sent, err := RunInitiatorSession(context.Background(), local, message,
		WithReadTimeout(200*time.Millisecond),
		WithMetrics(&sendM))
	require.NoError(t, err)
	require.True(t, sent.Complete)

	recv := <-recvCh
	require.True(t, recv.Complete)
	assert.Equal(t, message, recv.Data)
	assert.Len(t, recv.Records(), records)
	assert.EqualValues(t, records, sendM.FrameSendCount.Load())
	assert.EqualValues(t, records, recvM.FrameRecvCount.Load())
}

func TestSessionEndToEnd_Trace(t *testing.T) {
	local, remote := newPipeConn(t)

	var (
		mu        sync.Mutex
		sendCtrl  []byte
		recvCtrl  []byte
		frameNums []int
	)

	sendTrace := &Trace{
		OnControl: func(dir Direction, b byte) {
			mu.Lock()
			defer mu.Unlock()
			if dir == Send {
				sendCtrl = append(sendCtrl, b)
			} else {
				recvCtrl = append(recvCtrl, b)
			}
		},
	}

	recvTrace := &Trace{
		OnFrame: func(dir Direction, f *Frame, checksumValid bool) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, Recv, dir)
			assert.True(t, checksumValid)
			frameNums = append(frameNums, f.Number)
		},
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := RunResponderSession(context.Background(), remote,
			WithReadTimeout(200*time.Millisecond),
			WithTrace(recvTrace))
		assert.NoError(t, err)
	}()

	message := []byte("H|\\^&\rP|1\rL|1|N\r")

	_, err := RunInitiatorSession(context.Background(), local, message,
		WithReadTimeout(200*time.Millisecond),
		WithTrace(sendTrace))
	require.NoError(t, err)
	<-done

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []byte{ENQ, EOT}, sendCtrl, "the initiator writes ENQ first and EOT last")
	assert.Equal(t, []byte{ACK, ACK, ACK, ACK}, recvCtrl, "one ACK for ENQ plus one per frame")
	assert.Equal(t, []int{1, 2, 3}, frameNums)
}

func TestSessionEndToEnd_SessionOverTCP(t *testing.T) {
	// The same handshake over a real TCP loopback connection.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	message := []byte("H|\\^&\rQ|1|ALL\rL|1|N\r")
	recvCh := make(chan *AssembledMessage, 1)

	go func() {
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			recvCh <- nil

			return
		}
		defer conn.Close()

		msg, err := RunResponderSession(context.Background(), conn,
			WithReadTimeout(200*time.Millisecond))
		assert.NoError(t, err)
		recvCh <- msg
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	sent, err := RunInitiatorSession(context.Background(), conn, message,
		WithReadTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.True(t, sent.Complete)

	recv := <-recvCh
	require.NotNil(t, recv)
	assert.True(t, recv.Complete)
	assert.Equal(t, message, recv.Data)
}

func TestRunInitiatorSession_BadOption(t *testing.T) {
	local, _ := newPipeConn(t)

	_, err := RunInitiatorSession(context.Background(), local, []byte("P|1\r"),
		WithReadTimeout(time.Millisecond))
	assert.Error(t, err)
}

func TestRunResponderSession_BadOption(t *testing.T) {
	local, _ := newPipeConn(t)

	_, err := RunResponderSession(context.Background(), local,
		WithSendRetryLimit(99))
	assert.Error(t, err)
}
