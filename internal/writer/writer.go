// Package writer implements the event writer (spec.md §4.4): length-
// prefixed framing of serialized events into an output directory, plus
// a minimal read-only Reader backing the `show <dir>` CLI surface
// (spec.md §6.3).
package writer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nanoprof/miniperf/internal/wire"
)

// containerFileName is the single event container file a session
// writes within its output directory.
const containerFileName = "events.miniperf"

// Writer encodes events into the output container, preserving the
// decode stage's emission order (spec.md §4.4: "the writer preserves
// the decoder's emission order").
type Writer struct {
	file *os.File
	buf  *bufio.Writer
}

// Open creates dir (including parents) and the container file within
// it, per spec.md §6.3's `record` contract ("creates <dir> and writes
// container file(s) within").
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("writer: mkdir %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(dir, containerFileName))
	if err != nil {
		return nil, fmt.Errorf("writer: create container: %w", err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteEvent appends one length-prefixed, wire-encoded event frame.
func (w *Writer) WriteEvent(ev wire.Event) error {
	return wire.WriteIpcMessage(w.buf, wire.IpcMessage{Kind: wire.IpcKindEvent, Event: ev})
}

// Close flushes and fsyncs the container file before returning, per
// spec.md §4.4's "the writer must fsync before reporting completion",
// then closes the underlying file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("writer: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("writer: fsync: %w", err)
	}
	return w.file.Close()
}

// Reader replays a previously written session's events, backing the
// read-only `show <dir>` surface (spec.md §6.3).
type Reader struct {
	file *os.File
	buf  *bufio.Reader
}

// OpenReader opens dir's event container for sequential replay.
func OpenReader(dir string) (*Reader, error) {
	f, err := os.Open(filepath.Join(dir, containerFileName))
	if err != nil {
		return nil, fmt.Errorf("writer: open container: %w", err)
	}
	return &Reader{file: f, buf: bufio.NewReader(f)}, nil
}

// Next returns the next event in the container, or io.EOF once
// exhausted.
func (r *Reader) Next() (wire.Event, error) {
	msg, err := wire.ReadIpcMessage(r.buf)
	if err != nil {
		return wire.Event{}, err
	}
	return msg.Event, nil
}

// Close releases the container file.
func (r *Reader) Close() error {
	return r.file.Close()
}
