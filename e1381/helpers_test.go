package e1381

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"
)

// newTestConfig creates a SessionConfig with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...SessionOption) *SessionConfig {
	t.Helper()

	defaults := []SessionOption{
		WithReadTimeout(200 * time.Millisecond),
		WithIdleTimeout(MinIdleTimeout), // 1s
	}

	cfg, err := NewSessionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestTransport creates a frameTransport backed by the local end of
// net.Pipe(). Returns the transport and the remote end for test simulation.
func newTestTransport(t *testing.T, cfg *SessionConfig) (*frameTransport, net.Conn) {
	t.Helper()

	local, remote := newPipeConn(t)

	return newFrameTransport(local, cfg), remote
}

// newPipeConn creates a net.Pipe pair and registers cleanup.
func newPipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return local, remote
}

// encodeTestFrame builds the wire bytes for one frame, failing the test on
// error.
func encodeTestFrame(t *testing.T, number int, record string) []byte {
	t.Helper()

	wire, err := EncodeFrame(number, []byte(record))
	if err != nil {
		t.Fatalf("encodeTestFrame: %v", err)
	}

	return wire
}

// readExactly reads exactly n bytes from r, failing the test on error.
func readExactly(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("readExactly: %v", err)
	}

	return buf
}

// readOneByte reads exactly 1 byte from r, failing the test on error.
func readOneByte(t *testing.T, r io.Reader) byte {
	t.Helper()

	return readExactly(t, r, 1)[0]
}

// readFrameWire reads one whole wire frame (through the trailing LF) from br.
func readFrameWire(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()

	wire, err := br.ReadBytes(LF)
	if err != nil {
		t.Fatalf("readFrameWire: %v", err)
	}

	return wire
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data []byte) {
	t.Helper()

	if _, err := w.Write(data); err != nil {
		t.Fatalf("mustWrite: %v", err)
	}
}
