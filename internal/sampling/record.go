//go:build linux

// Package sampling implements the sampling pipeline (spec.md §4.4): one
// drain task that polls every ring buffer of a session through a single
// epoll set, and one decode task per session, connected by a bounded
// channel. Decoded events are handed to the caller on a second bounded
// channel; this package does not write them out.
package sampling

import (
	"encoding/binary"
	"fmt"

	"github.com/nanoprof/miniperf/internal/perfgroup"
	"github.com/nanoprof/miniperf/internal/wire"
)

// Kernel ring-buffer record types (linux/perf_event.h perf_event_type).
// Fixed by the kernel ABI, not by this repository.
const (
	recordTypeMmap  uint32 = 1
	recordTypeLost  uint32 = 2
	recordTypeComm  uint32 = 3
	recordTypeExit  uint32 = 4
	recordTypeFork  uint32 = 7
	recordTypeSample uint32 = 9
)

// DecodedRecord pairs a canonical Event with the drain-time metadata the
// decoder needs for re-ordering and for LOST-record accounting.
type DecodedRecord struct {
	Event   wire.Event
	CPU     int
	GroupID int
}

// LostCount accumulates lost-record tallies across every ring buffer in
// a session, emitted as a single custom event at session end (spec.md
// §4.4: "LOST records -> counted and emitted as a single custom event
// carrying the lost count").
type LostCount struct {
	Total uint64
}

// decodeSample parses a PERF_RECORD_SAMPLE payload produced by a group
// opened with Sample_type = IP|TID|TIME|CALLCHAIN|CPU (perfgroup's
// sampling buildAttr), in the field order the kernel ABI fixes for that
// bitmask.
func decodeSample(data []byte, alloc *wire.Allocator, evType wire.EventType) (wire.Event, error) {
	var ev wire.Event
	ev.UniqueId = alloc.Next()

	off := 0
	need := func(n int) error {
		if len(data)-off < n {
			return fmt.Errorf("sampling: truncated SAMPLE record (need %d more bytes at offset %d)", n, off)
		}
		return nil
	}

	if err := need(8); err != nil {
		return ev, err
	}
	ev.IP = binary.NativeEndian.Uint64(data[off:])
	off += 8

	if err := need(8); err != nil {
		return ev, err
	}
	ev.ProcessId = binary.NativeEndian.Uint32(data[off:])
	ev.ThreadId = binary.NativeEndian.Uint32(data[off+4:])
	off += 8

	if err := need(8); err != nil {
		return ev, err
	}
	ev.Timestamp = binary.NativeEndian.Uint64(data[off:])
	off += 8

	if err := need(8); err != nil {
		return ev, err
	}
	// cpu, res — res is reserved/unused.
	_ = binary.NativeEndian.Uint32(data[off+4:])
	off += 8

	if err := need(8); err != nil {
		return ev, err
	}
	nr := binary.NativeEndian.Uint64(data[off:])
	off += 8

	if uint64(len(data)-off) < nr*8 {
		return ev, fmt.Errorf("sampling: truncated callchain (nr=%d)", nr)
	}
	ev.Callstack = make([]wire.CallFrame, nr)
	for i := uint64(0); i < nr; i++ {
		ip := binary.NativeEndian.Uint64(data[off:])
		off += 8
		ev.Callstack[i] = wire.CallFrame{Resolved: false, IP: ip}
	}

	ev.Type = evType
	return ev, nil
}

// decodeLost parses a PERF_RECORD_LOST payload: { u64 id; u64 lost; }.
func decodeLost(data []byte) (uint64, error) {
	if len(data) < 16 {
		return 0, fmt.Errorf("sampling: truncated LOST record")
	}
	return binary.NativeEndian.Uint64(data[8:]), nil
}

// Decode turns one raw ring-buffer record into a canonical Event, or
// reports that the record carried no event (process-tracking records
// this pipeline doesn't surface individually, and LOST records, which
// the caller accumulates into LostCount instead).
func Decode(raw perfgroup.RawRecord, cpu, groupID int, alloc *wire.Allocator, lost *LostCount, evType wire.EventType) (DecodedRecord, bool, error) {
	switch raw.Type {
	case recordTypeSample:
		ev, err := decodeSample(raw.Data, alloc, evType)
		if err != nil {
			return DecodedRecord{}, false, err
		}
		return DecodedRecord{Event: ev, CPU: cpu, GroupID: groupID}, true, nil
	case recordTypeLost:
		n, err := decodeLost(raw.Data)
		if err != nil {
			return DecodedRecord{}, false, err
		}
		lost.Total += n
		return DecodedRecord{}, false, nil
	case recordTypeMmap, recordTypeComm, recordTypeExit, recordTypeFork:
		// Process-tracking side-table records; this reference pipeline
		// doesn't maintain symbol side-tables, so they're consumed and
		// dropped rather than surfaced as events.
		return DecodedRecord{}, false, nil
	default:
		return DecodedRecord{}, false, nil
	}
}

// FinalEvent builds the single custom event carrying the session's
// total lost-sample count, emitted at session end. This is always
// pmuCustom: a lost-record tally isn't a reading of any one counter, so
// none of the typed PMU EventTypes fit it.
func (l *LostCount) FinalEvent(alloc *wire.Allocator, timestamp uint64) wire.Event {
	return wire.Event{
		UniqueId:  alloc.Next(),
		Type:      wire.EventTypePMUCustom,
		Timestamp: timestamp,
		Value:     l.Total,
	}
}
