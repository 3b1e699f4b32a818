// Package capture provides the Responder-side capture service: a TCP server
// that runs one E1381 session per analyzer connection and persists every
// assembled message — complete or partial — to an append-only sink.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/labwire/go-astm/e1381"
)

// Capture file banners delimiting messages. Partial messages are banner-
// tagged so a later forensic read can tell them apart.
const (
	msgBannerStart   = "\n##### NEW MESSAGE #####\n"
	msgBannerEnd     = "\n##### END MESSAGE #####\n"
	msgBannerPartial = "\n##### PARTIAL MESSAGE #####\n"
)

// Sink receives assembled messages at session end. Implementations must be
// safe for concurrent use: multiple analyzer sessions may deliver at once.
type Sink interface {
	// WriteMessage persists one assembled message attributed to the given
	// remote address.
	WriteMessage(remoteAddr string, msg *e1381.AssembledMessage) error

	// Close releases the sink's resources.
	Close() error
}

// writerSink serializes message writes onto a single io.Writer.
type writerSink struct {
	mu    sync.Mutex
	w     io.Writer
	owned io.Closer // non-nil when the sink owns the underlying file
}

// NewFileSink opens (or creates) path in append mode and returns a sink that
// writes banner-delimited raw message bytes to it.
func NewFileSink(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open sink file: %w", err)
	}

	return &writerSink{w: f, owned: f}, nil
}

// NewWriterSink wraps an arbitrary writer as a Sink. The caller retains
// ownership of the writer; Close is a no-op.
func NewWriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) WriteMessage(remoteAddr string, msg *e1381.AssembledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	banner := msgBannerStart
	if !msg.Complete {
		banner = msgBannerPartial
	}

	if _, err := io.WriteString(s.w, banner); err != nil {
		return fmt.Errorf("capture: write banner: %w", err)
	}

	if _, err := s.w.Write(msg.Data); err != nil {
		return fmt.Errorf("capture: write message from %s: %w", remoteAddr, err)
	}

	if _, err := io.WriteString(s.w, msgBannerEnd); err != nil {
		return fmt.Errorf("capture: write banner: %w", err)
	}

	if f, ok := s.w.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("capture: sync sink file: %w", err)
		}
	}

	return nil
}

func (s *writerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned != nil {
		return s.owned.Close()
	}

	return nil
}
