package e1381

import (
	"errors"
	"fmt"
	"time"

	"github.com/labwire/go-astm/logger"
)

// Default timeout values, matching the behavior of common analyzer
// integrations: a short per-read deadline and a long session inactivity bound.
const (
	DefaultReadTimeout = 15 * time.Second
	DefaultIdleTimeout = 120 * time.Second

	// DefaultSendRetryLimit is the number of extra attempts the Initiator
	// makes for a NAK'd or unacknowledged frame. The default of 0 means a
	// NAK aborts the session.
	DefaultSendRetryLimit = 0
)

// Timeout and retry range limits.
const (
	MinReadTimeout = 100 * time.Millisecond
	MaxReadTimeout = 60 * time.Second

	MinIdleTimeout = 1 * time.Second
	MaxIdleTimeout = 1 * time.Hour

	// MaxSendRetryLimit caps frame retransmission attempts, per the E1381
	// limit of six retransmissions of the same frame.
	MaxSendRetryLimit = 6

	// MinMaxFrameLength is the smallest usable frame payload cap; anything
	// shorter cannot carry a meaningful record.
	MinMaxFrameLength = 64
)

// SessionConfig holds all configuration for an E1381 session, either role.
type SessionConfig struct {
	// readTimeout bounds a single blocking read. For the Responder it acts
	// as a scheduling tick: expiry re-evaluates the idle deadline rather
	// than failing the session.
	readTimeout time.Duration

	// idleTimeout bounds session inactivity. A Responder that receives no
	// byte for this long force-closes and returns the partial message.
	idleTimeout time.Duration

	// maxFrameLength caps a single frame's payload during decode.
	maxFrameLength int

	// sendRetryLimit is the number of extra attempts for a rejected or
	// unacknowledged frame in the Initiator role.
	sendRetryLimit int

	logger  logger.Logger
	trace   *Trace
	payload PayloadHandler
	metrics *SessionMetrics
}

// PayloadHandler is invoked by the Responder for each checksum-valid frame
// payload, after it has been appended to the assembled message. The payload
// slice must not be retained past the call.
type PayloadHandler func(payload []byte)

// NewSessionConfig creates a session configuration with the given options
// applied in order.
func NewSessionConfig(opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		readTimeout:    DefaultReadTimeout,
		idleTimeout:    DefaultIdleTimeout,
		maxFrameLength: DefaultMaxFrameLength,
		sendRetryLimit: DefaultSendRetryLimit,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.idleTimeout < cfg.readTimeout {
		return nil, fmt.Errorf("e1381: idle timeout %v must not be shorter than read timeout %v",
			cfg.idleTimeout, cfg.readTimeout)
	}

	return cfg, nil
}

// --- Getters ---

// ReadTimeout returns the per-read deadline.
func (cfg *SessionConfig) ReadTimeout() time.Duration { return cfg.readTimeout }

// IdleTimeout returns the session inactivity bound.
func (cfg *SessionConfig) IdleTimeout() time.Duration { return cfg.idleTimeout }

// MaxFrameLength returns the frame payload cap.
func (cfg *SessionConfig) MaxFrameLength() int { return cfg.maxFrameLength }

// SendRetryLimit returns the number of extra frame send attempts.
func (cfg *SessionConfig) SendRetryLimit() int { return cfg.sendRetryLimit }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithReadTimeout sets the deadline for a single blocking read.
// Must be in [MinReadTimeout, MaxReadTimeout].
func WithReadTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("e1381: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithIdleTimeout sets the session inactivity bound.
// Must be in [MinIdleTimeout, MaxIdleTimeout] and not shorter than the read
// timeout.
func WithIdleTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinIdleTimeout || d > MaxIdleTimeout {
			return fmt.Errorf("e1381: idle timeout %v out of range [%v, %v]", d, MinIdleTimeout, MaxIdleTimeout)
		}
		cfg.idleTimeout = d

		return nil
	})
}

// WithMaxFrameLength caps a single frame's payload during decode. Frames
// exceeding the cap are rejected with [ErrFrameTooLong].
func WithMaxFrameLength(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < MinMaxFrameLength {
			return fmt.Errorf("e1381: max frame length %d below minimum %d", n, MinMaxFrameLength)
		}
		cfg.maxFrameLength = n

		return nil
	})
}

// WithSendRetryLimit sets the number of extra attempts the Initiator makes
// when a frame is NAK'd or unacknowledged. Must be in [0, MaxSendRetryLimit].
//
// With the default of 0, a NAK is fatal and aborts the session with
// [ErrFrameRejected]. With n > 0, the same frame number is retransmitted up
// to n more times before the session aborts with [ErrRetriesExhausted].
func WithSendRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 0 || n > MaxSendRetryLimit {
			return fmt.Errorf("e1381: send retry limit %d out of range [0, %d]", n, MaxSendRetryLimit)
		}
		cfg.sendRetryLimit = n

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("e1381: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithTrace installs observer hooks invoked by the session engines.
// All hooks are optional; see [Trace].
func WithTrace(t *Trace) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.trace = t

		return nil
	})
}

// WithPayloadHandler installs a callback invoked by the Responder for each
// checksum-valid payload appended to the assembled message.
func WithPayloadHandler(h PayloadHandler) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.payload = h

		return nil
	})
}

// WithMetrics attaches a shared metrics collector to sessions created with
// this config. Multiple sessions may share one collector; all counters are
// atomic.
func WithMetrics(m *SessionMetrics) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.metrics = m

		return nil
	})
}
