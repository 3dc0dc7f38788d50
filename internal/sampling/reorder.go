//go:build linux

package sampling

import "sort"

// reorderWindowNs is the bounded re-ordering window the decode stage
// applies across drain tasks (spec.md §4.4: "re-orders by timestamp
// within a bounded window (<=10ms)").
const reorderWindowNs = 10_000_000

// Reorderer buffers decoded records from multiple drain tasks and
// releases them in non-decreasing timestamp order, except for samples
// that arrive more than reorderWindowNs late relative to the newest
// timestamp seen — those are emitted immediately, still carrying their
// original timestamp, rather than held indefinitely (spec.md §4.4:
// "out-of-window late samples are still emitted").
type Reorderer struct {
	buf      []DecodedRecord
	newestNs uint64
}

// Push adds a decoded record to the buffer.
func (r *Reorderer) Push(rec DecodedRecord) {
	if rec.Event.Timestamp > r.newestNs {
		r.newestNs = rec.Event.Timestamp
	}
	r.buf = append(r.buf, rec)
}

// Drain releases, in increasing timestamp order, every record whose
// timestamp is at least reorderWindowNs older than the newest timestamp
// seen. Records still inside the window are left buffered for a later
// Drain call once more context has arrived.
func (r *Reorderer) Drain() []DecodedRecord {
	if len(r.buf) == 0 {
		return nil
	}
	sort.SliceStable(r.buf, func(i, j int) bool {
		return r.buf[i].Event.Timestamp < r.buf[j].Event.Timestamp
	})

	cutoff := uint64(0)
	if r.newestNs > reorderWindowNs {
		cutoff = r.newestNs - reorderWindowNs
	}

	var ready, remaining []DecodedRecord
	for _, rec := range r.buf {
		if rec.Event.Timestamp <= cutoff {
			ready = append(ready, rec)
		} else {
			remaining = append(remaining, rec)
		}
	}
	r.buf = remaining
	return ready
}

// Flush releases every buffered record regardless of window, used at
// session end when no more data will ever arrive to push the window
// forward (spec.md §4.4's cancellation: "finish current batch, flush,
// then exit").
func (r *Reorderer) Flush() []DecodedRecord {
	sort.SliceStable(r.buf, func(i, j int) bool {
		return r.buf[i].Event.Timestamp < r.buf[j].Event.Timestamp
	})
	out := r.buf
	r.buf = nil
	return out
}
