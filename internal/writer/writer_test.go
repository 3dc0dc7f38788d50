package writer

import (
	"errors"
	"io"
	"testing"

	"github.com/nanoprof/miniperf/internal/wire"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	alloc := wire.NewAllocator(1)

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []wire.Event{
		{UniqueId: alloc.Next(), Type: wire.EventTypePMUCycles, Timestamp: 10, Value: 100},
		{UniqueId: alloc.Next(), Type: wire.EventTypePMUInstructions, Timestamp: 20, Value: 200},
	}
	for _, ev := range want {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	var got []wire.Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, ev)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Timestamp != want[i].Timestamp || got[i].Value != want[i].Value || got[i].Type != want[i].Type {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOpenReaderMissingDirFails(t *testing.T) {
	if _, err := OpenReader(t.TempDir() + "/does-not-exist"); err == nil {
		t.Error("expected error opening a reader over a missing container")
	}
}

func TestWriteEventEmptyContainerReadsEOFImmediately(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next on empty container = %v, want io.EOF", err)
	}
}
