//go:build linux

package sampling

import (
	"testing"

	"github.com/nanoprof/miniperf/internal/wire"
)

func rec(ts uint64) DecodedRecord {
	return DecodedRecord{Event: wire.Event{Timestamp: ts}}
}

func TestReordererReleasesInTimestampOrder(t *testing.T) {
	var r Reorderer
	r.Push(rec(5_000_000))
	r.Push(rec(1_000_000))
	r.Push(rec(3_000_000))
	// Push something far enough ahead to push the window past all three.
	r.Push(rec(20_000_000))

	out := r.Drain()
	if len(out) != 3 {
		t.Fatalf("released %d records, want 3 (the 4th is still within the window)", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Event.Timestamp < out[i-1].Event.Timestamp {
			t.Errorf("records not in timestamp order: %v", out)
		}
	}
}

func TestReordererHoldsRecordsWithinWindow(t *testing.T) {
	var r Reorderer
	r.Push(rec(1_000_000))
	out := r.Drain()
	if len(out) != 0 {
		t.Errorf("released %d records, want 0 (still within window of itself)", len(out))
	}
}

func TestReordererFlushReleasesEverything(t *testing.T) {
	var r Reorderer
	r.Push(rec(5_000_000))
	r.Push(rec(1_000_000))

	out := r.Flush()
	if len(out) != 2 {
		t.Fatalf("Flush released %d records, want 2", len(out))
	}
	if out[0].Event.Timestamp > out[1].Event.Timestamp {
		t.Errorf("Flush did not sort by timestamp: %v", out)
	}
}
