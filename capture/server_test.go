package capture

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwire/go-astm/e1381"
)

// memSink records delivered messages for inspection.
type memSink struct {
	mu   sync.Mutex
	msgs []*e1381.AssembledMessage
}

func (s *memSink) WriteMessage(_ string, msg *e1381.AssembledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)

	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.msgs)
}

func (s *memSink) last() *e1381.AssembledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.msgs) == 0 {
		return nil
	}

	return s.msgs[len(s.msgs)-1]
}

// startServer runs srv.Serve in the background and waits for it to bind.
func startServer(t *testing.T, srv *Server) (cancel context.CancelFunc, done chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan error, 1)

	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" },
		time.Second, 5*time.Millisecond, "server did not bind")

	return cancel, done
}

func waitServe(t *testing.T, done chan error) {
	t.Helper()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestServerCapturesMessage(t *testing.T) {
	sink := &memSink{}
	srv, err := NewServer("127.0.0.1:0",
		WithSink(sink),
		WithSessionOptions(e1381.WithReadTimeout(200*time.Millisecond)),
	)
	require.NoError(t, err)

	cancel, done := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	message := []byte("H|\\^&\rP|1\rL|1|N\r")
	sent, err := e1381.RunInitiatorSession(context.Background(), conn, message,
		e1381.WithReadTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.True(t, sent.Complete)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return sink.count() == 1 },
		time.Second, 5*time.Millisecond, "message not delivered to sink")

	got := sink.last()
	assert.True(t, got.Complete)
	assert.Equal(t, message, got.Data)
	assert.Equal(t, []string{"H|\\^&", "P|1", "L|1|N"}, got.Records())

	require.NoError(t, srv.Close())
	cancel()
	waitServe(t, done)
}

func TestServerMultipleMessagesOneConnection(t *testing.T) {
	sink := &memSink{}
	srv, err := NewServer("127.0.0.1:0",
		WithSink(sink),
		WithSessionOptions(e1381.WithReadTimeout(200*time.Millisecond)),
	)
	require.NoError(t, err)

	cancel, done := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e1381.RunInitiatorSession(context.Background(), conn,
			[]byte("H|\\^&\rL|1|N\r"),
			e1381.WithReadTimeout(200*time.Millisecond))
		require.NoError(t, err)
	}

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return sink.count() == 3 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())
	cancel()
	waitServe(t, done)
}

func TestServerReply(t *testing.T) {
	reply := []byte("H|\\^&|||host\rL|1|N\r")
	srv, err := NewServer("127.0.0.1:0",
		WithSink(&memSink{}),
		WithReply(func(_ string, _ *e1381.AssembledMessage) []byte { return reply }),
		WithSessionOptions(e1381.WithReadTimeout(200*time.Millisecond)),
	)
	require.NoError(t, err)

	cancel, done := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()

	_, err = e1381.RunInitiatorSession(ctx, conn, []byte("Q|1|ALL\rL|1|N\r"),
		e1381.WithReadTimeout(200*time.Millisecond))
	require.NoError(t, err)

	// The reply comes back over the same connection with roles reversed.
	got, err := e1381.RunResponderSession(ctx, conn,
		e1381.WithReadTimeout(200*time.Millisecond),
		e1381.WithIdleTimeout(2*time.Second))
	require.NoError(t, err)
	require.True(t, got.Complete)
	assert.Equal(t, reply, got.Data)

	require.NoError(t, srv.Close())
	cancel()
	waitServe(t, done)
}

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := &memSink{}
	srv, err := NewServer("127.0.0.1:0",
		WithSink(sink),
		WithMetricsRegistry(reg),
		WithSessionOptions(e1381.WithReadTimeout(200*time.Millisecond)),
	)
	require.NoError(t, err)

	cancel, done := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	_, err = e1381.RunInitiatorSession(context.Background(), conn,
		[]byte("H|\\^&\rL|1|N\r"),
		e1381.WithReadTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return sink.count() == 1 },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.SessionsTotal))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(srv.metrics.MessagesTotal.WithLabelValues("complete")))
	assert.EqualValues(t, 2, srv.SessionMetrics().FrameRecvCount.Load())

	require.NoError(t, srv.Close())
	cancel()
	waitServe(t, done)
}

func TestServerCloseIdle(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)

	cancel, done := startServer(t, srv)
	defer cancel()

	require.NoError(t, srv.Close())
	cancel()
	waitServe(t, done)
}
