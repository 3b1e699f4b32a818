package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/labwire/go-astm/e1381"
	"github.com/labwire/go-astm/internal/pool"
	"github.com/labwire/go-astm/logger"
)

const (
	// DefaultCloseTimeout bounds how long Close waits for active sessions
	// to drain after the listener is shut.
	DefaultCloseTimeout = 3 * time.Second

	// closeCheckInterval is the interval for checking session drain in Close.
	closeCheckInterval = 5 * time.Millisecond
)

// ErrServerClosed is returned by Serve after Close has been called.
var ErrServerClosed = errors.New("capture: server closed")

// ReplyFunc produces a logical message to send back to the analyzer after a
// complete message has been captured. Returning an empty slice sends nothing.
// It is called from the session goroutine and may be called concurrently for
// different connections.
type ReplyFunc func(remoteAddr string, msg *e1381.AssembledMessage) []byte

// Server accepts analyzer TCP connections and runs one independent E1381
// Responder session per connection. Sessions share no mutable state except
// the capture sink, which serializes its own writes.
type Server struct {
	addr         string
	sink         Sink
	reply        ReplyFunc
	sessionOpts  []e1381.SessionOption
	closeTimeout time.Duration
	logger       logger.Logger

	metrics        *Metrics
	sessionMetrics e1381.SessionMetrics

	listenerMu sync.Mutex
	listener   net.Listener
	sessions   *xsync.MapOf[string, net.Conn]
	shutdown   atomic.Bool
}

// Option is a functional option for configuring a Server.
type Option interface {
	apply(*Server) error
}

type optFunc func(*Server) error

func (f optFunc) apply(s *Server) error { return f(s) }

// WithSink sets the capture sink messages are delivered to. Without a sink,
// messages are only logged.
func WithSink(sink Sink) Option {
	return optFunc(func(s *Server) error {
		s.sink = sink

		return nil
	})
}

// WithReply installs a reply hook invoked after each complete captured
// message; the produced logical message is sent back over the same
// connection via an Initiator session.
func WithReply(fn ReplyFunc) Option {
	return optFunc(func(s *Server) error {
		s.reply = fn

		return nil
	})
}

// WithSessionOptions forwards options to every per-connection session config
// (timeouts, frame length cap, trace hooks).
func WithSessionOptions(opts ...e1381.SessionOption) Option {
	return optFunc(func(s *Server) error {
		s.sessionOpts = append(s.sessionOpts, opts...)

		return nil
	})
}

// WithLogger sets the server logger. Per-connection loggers are derived from
// it with a remoteAddr field.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Server) error {
		if l == nil {
			return errors.New("capture: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// WithMetricsRegistry registers the server's Prometheus metrics with reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return optFunc(func(s *Server) error {
		s.metrics = NewMetrics(reg, &s.sessionMetrics)

		return nil
	})
}

// WithCloseTimeout bounds how long Close waits for sessions to drain.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(s *Server) error {
		if d <= 0 {
			return errors.New("capture: close timeout must be positive")
		}
		s.closeTimeout = d

		return nil
	})
}

// NewServer creates a capture server listening on addr once Serve is called.
func NewServer(addr string, opts ...Option) (*Server, error) {
	s := &Server{
		addr:         addr,
		closeTimeout: DefaultCloseTimeout,
		logger:       logger.GetLogger(),
		sessions:     xsync.NewMapOf[string, net.Conn](),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	// Surface bad session options here rather than on the first connection.
	if _, err := e1381.NewSessionConfig(s.sessionOpts...); err != nil {
		return nil, err
	}

	return s, nil
}

// SessionMetrics returns the link-layer metrics shared by all sessions.
func (s *Server) SessionMetrics() *e1381.SessionMetrics {
	return &s.sessionMetrics
}

// Addr returns the listener address, or "" before Serve has bound it.
// Useful when listening on port 0.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) setListener(l net.Listener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *Server) closeListener() {
	s.listenerMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.listenerMu.Unlock()
}

// Serve listens on the configured address and handles connections until ctx
// is cancelled or Close is called. It returns ErrServerClosed on clean
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("capture: listen on %s: %w", s.addr, err)
	}

	s.setListener(listener)
	s.logger.Info("capture: listening", "address", listener.Addr().String())

	g, gctx := errgroup.WithContext(ctx)

	// Unblock Accept and any in-flight session reads once the group winds
	// down, whether from context cancellation or a Close call.
	g.Go(func() error {
		<-gctx.Done()
		_ = listener.Close()
		s.sessions.Range(func(_ string, conn net.Conn) bool {
			_ = conn.Close()

			return true
		})

		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(gctx, g, listener)
	})

	err = g.Wait()

	if errors.Is(err, ErrServerClosed) || errors.Is(ctx.Err(), context.Canceled) {
		return ErrServerClosed
	}

	return err
}

// acceptLoop returns ErrServerClosed when the listener shuts down cleanly so
// the errgroup context unwinds the watcher goroutine.
func (s *Server) acceptLoop(ctx context.Context, g *errgroup.Group, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			return fmt.Errorf("capture: accept: %w", err)
		}

		if s.shutdown.Load() {
			_ = conn.Close()

			return ErrServerClosed
		}

		g.Go(func() error {
			s.handleConn(ctx, conn)

			return nil
		})
	}
}

// handleConn runs E1381 sessions on one analyzer connection until the peer
// disconnects or the session fails. Multiple messages on a held-open
// connection each get their own Responder session.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.logger.With("remoteAddr", remote)

	s.sessions.Store(remote, conn)
	s.metrics.incSession()

	defer func() {
		s.sessions.Delete(remote)
		s.metrics.decSession()
		_ = conn.Close()
		log.Info("capture: client disconnected")
	}()

	log.Info("capture: client connected")

	opts := append([]e1381.SessionOption{}, s.sessionOpts...)
	opts = append(opts,
		e1381.WithLogger(log),
		e1381.WithMetrics(&s.sessionMetrics),
	)

	cfg, err := e1381.NewSessionConfig(opts...)
	if err != nil {
		log.Error("capture: bad session config", "error", err)

		return
	}

	// One Initiator per connection, created on first reply, so the reply
	// frame counter stays session-scoped across multiple replies.
	var replier *e1381.Initiator

	for {
		msg, err := e1381.NewResponder(conn, cfg).Run(ctx)

		s.deliver(log, remote, msg)

		switch {
		case err != nil:
			if errors.Is(err, e1381.ErrIdleTimeout) {
				log.Info("capture: session idle timeout")
			} else {
				log.Warn("capture: session ended with error", "error", err)
			}

			return

		case !msg.Complete:
			// Clean close before ENQ — the peer is done.
			return
		}

		if s.reply != nil {
			if replier == nil {
				replier = e1381.NewInitiator(conn, cfg)
			}

			if !s.sendReply(ctx, log, replier, remote, msg) {
				return
			}
		}
	}
}

// deliver hands an assembled message to the sink. Empty sessions (no payload
// at all) are not persisted.
func (s *Server) deliver(log logger.Logger, remote string, msg *e1381.AssembledMessage) {
	if len(msg.Data) == 0 {
		return
	}

	s.metrics.observeMessage(msg)

	log.Info("capture: message assembled",
		"bytes", len(msg.Data),
		"records", len(msg.Records()),
		"complete", msg.Complete)

	if s.sink == nil {
		return
	}

	if err := s.sink.WriteMessage(remote, msg); err != nil {
		log.Error("capture: sink write failed", "error", err)
	}
}

// sendReply runs the reply hook and, if it produces a message, sends it back
// over the same connection. Returns false when the connection is no longer
// usable.
func (s *Server) sendReply(ctx context.Context, log logger.Logger, replier *e1381.Initiator, remote string, msg *e1381.AssembledMessage) bool {
	body := s.reply(remote, msg)
	if len(body) == 0 {
		return true
	}

	if _, err := replier.Send(ctx, body); err != nil {
		log.Warn("capture: reply send failed", "error", err)

		return false
	}

	log.Debug("capture: reply sent", "bytes", len(body))

	return true
}

// Close shuts the server down: it stops accepting, closes all active
// connections, and waits up to the close timeout for sessions to drain.
func (s *Server) Close() error {
	s.shutdown.Store(true)
	s.closeListener()

	s.sessions.Range(func(_ string, conn net.Conn) bool {
		_ = conn.Close()

		return true
	})

	closeTimer := pool.Get(s.closeTimeout)
	defer pool.Put(closeTimer)

	ticker := time.NewTicker(closeCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closeTimer.C:
			if s.sessions.Size() == 0 {
				return nil
			}

			s.logger.Error("capture: close timeout",
				"timeout", s.closeTimeout,
				"activeSessions", s.sessions.Size())

			return errors.New("capture: close timeout waiting for sessions")

		case <-ticker.C:
			if s.sessions.Size() == 0 {
				return nil
			}
		}
	}
}
