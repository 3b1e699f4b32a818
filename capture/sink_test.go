package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labwire/go-astm/e1381"
)

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer

	sink := NewWriterSink(&buf)
	defer sink.Close()

	complete := &e1381.AssembledMessage{Data: []byte("H|\\^&\rL|1|N\r"), Complete: true}
	require.NoError(t, sink.WriteMessage("10.0.0.5:4001", complete))

	out := buf.String()
	assert.Contains(t, out, msgBannerStart)
	assert.Contains(t, out, msgBannerEnd)
	assert.Contains(t, out, "H|\\^&\rL|1|N\r")
	assert.NotContains(t, out, msgBannerPartial)
}

func TestWriterSinkPartial(t *testing.T) {
	var buf bytes.Buffer

	sink := NewWriterSink(&buf)
	defer sink.Close()

	partial := &e1381.AssembledMessage{Data: []byte("H|\\^&\rP|1\r"), Complete: false}
	require.NoError(t, sink.WriteMessage("10.0.0.5:4001", partial))

	out := buf.String()
	assert.Contains(t, out, msgBannerPartial)
	assert.Contains(t, out, msgBannerEnd)
	assert.NotContains(t, out, msgBannerStart)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")

	sink, err := NewFileSink(path)
	require.NoError(t, err)

	msg := &e1381.AssembledMessage{Data: []byte("H|\\^&\rL|1|N\r"), Complete: true}
	require.NoError(t, sink.WriteMessage("analyzer:1", msg))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "H|\\^&\rL|1|N\r")

	// Append mode: reopening must not truncate what is already captured.
	sink, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.WriteMessage("analyzer:1", msg))
	require.NoError(t, sink.Close())

	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Greater(t, len(data2), len(data))
}
