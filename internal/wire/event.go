// Package wire defines the frozen, binary-compatible event and IPC schema
// described in the miniperf wire format: EventId, Event, CallFrame, Metadata,
// and the closed EventType enumeration. Nothing in this package may change
// field meaning or layout without a compatibility review.
package wire

import (
	"strconv"
	"sync/atomic"
	"time"
)

// EventId is a 128-bit opaque identifier, unique within a recording
// session. It also doubles as the key into the intern dictionary for
// strings (filenames, function names, metadata keys).
type EventId struct {
	Hi uint64
	Lo uint64
}

// Zero reports whether id is the zero value, used for "no parent" /
// "no correlation" sentinels.
func (id EventId) Zero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Allocator hands out fresh, process-wide monotonic EventIds. The high
// half is fixed at construction (process epoch in nanoseconds), the low
// half is a lock-free counter; this keeps allocation allocation-free and
// contention-free on the hot loop-begin/loop-end path (see
// internal/roofline) while still being globally unique within a session.
type Allocator struct {
	epoch   uint64
	counter uint64
}

// NewAllocator creates an Allocator seeded from a caller-supplied epoch
// (normally time.Now().UnixNano(), but taken as a parameter so sessions
// can be made deterministic in tests).
func NewAllocator(epochNanos int64) *Allocator {
	return &Allocator{epoch: uint64(epochNanos)}
}

// Next returns a fresh EventId. Safe for concurrent use.
func (a *Allocator) Next() EventId {
	n := atomic.AddUint64(&a.counter, 1)
	return EventId{Hi: a.epoch, Lo: n}
}

// EventType is the closed enumeration of canonical event kinds, frozen by
// the wire schema.
type EventType uint32

const (
	EventTypeUnknown EventType = iota

	// PMU counters
	EventTypePMUCycles
	EventTypePMUInstructions
	EventTypePMULLCReferences
	EventTypePMULLCMisses
	EventTypePMUBranchInstructions
	EventTypePMUBranchMisses
	EventTypePMUStalledCyclesFrontend
	EventTypePMUStalledCyclesBackend
	EventTypePMUCustom

	// OS counters
	EventTypeOSCPUClock
	EventTypeOSCPUMigrations
	EventTypeOSPageFaults
	EventTypeOSContextSwitches
	EventTypeOSTotalTime
	EventTypeOSUserTime
	EventTypeOSSystemTime

	// Roofline counters
	EventTypeRooflineBytesLoad
	EventTypeRooflineBytesStore
	EventTypeRooflineScalarIntOps
	EventTypeRooflineScalarFloatOps
	EventTypeRooflineScalarDoubleOps
	EventTypeRooflineVectorIntOps
	EventTypeRooflineVectorFloatOps
	EventTypeRooflineVectorDoubleOps
	EventTypeRooflineLoopStart
	EventTypeRooflineLoopEnd
)

var eventTypeNames = [...]string{
	EventTypeUnknown:                   "unknown",
	EventTypePMUCycles:                 "pmuCycles",
	EventTypePMUInstructions:           "pmuInstructions",
	EventTypePMULLCReferences:          "pmuLLCReferences",
	EventTypePMULLCMisses:              "pmuLLCMisses",
	EventTypePMUBranchInstructions:     "pmuBranchInstructions",
	EventTypePMUBranchMisses:           "pmuBranchMisses",
	EventTypePMUStalledCyclesFrontend:  "pmuStalledCyclesFrontend",
	EventTypePMUStalledCyclesBackend:   "pmuStalledCyclesBackend",
	EventTypePMUCustom:                 "pmuCustom",
	EventTypeOSCPUClock:                "osCpuClock",
	EventTypeOSCPUMigrations:           "osCpuMigrations",
	EventTypeOSPageFaults:              "osPageFaults",
	EventTypeOSContextSwitches:         "osContextSwitches",
	EventTypeOSTotalTime:               "osTotalTime",
	EventTypeOSUserTime:                "osUserTime",
	EventTypeOSSystemTime:              "osSystemTime",
	EventTypeRooflineBytesLoad:         "rooflineBytesLoad",
	EventTypeRooflineBytesStore:        "rooflineBytesStore",
	EventTypeRooflineScalarIntOps:      "rooflineScalarIntOps",
	EventTypeRooflineScalarFloatOps:    "rooflineScalarFloatOps",
	EventTypeRooflineScalarDoubleOps:   "rooflineScalarDoubleOps",
	EventTypeRooflineVectorIntOps:      "rooflineVectorIntOps",
	EventTypeRooflineVectorFloatOps:    "rooflineVectorFloatOps",
	EventTypeRooflineVectorDoubleOps:   "rooflineVectorDoubleOps",
	EventTypeRooflineLoopStart:         "rooflineLoopStart",
	EventTypeRooflineLoopEnd:           "rooflineLoopEnd",
}

// String returns the canonical name of t, or "eventType(N)" for an
// out-of-range value.
func (t EventType) String() string {
	if int(t) < len(eventTypeNames) && eventTypeNames[t] != "" {
		return eventTypeNames[t]
	}
	return "eventType(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// CallFrame is one entry in an Event's callstack: either a resolved
// source location or a raw, unresolved instruction pointer.
type CallFrame struct {
	Resolved bool
	Location Location
	IP       uint64
}

// Location is a resolved (function, file, line) triple. FunctionName and
// FileName are EventIds referencing the intern dictionary.
type Location struct {
	FunctionName EventId
	FileName     EventId
	Line         uint32
}

// MetadataValue is either an interned string id or a raw 64-bit integer.
type MetadataValue struct {
	IsString bool
	String   EventId // valid when IsString
	Integer  uint64  // valid when !IsString
}

// Metadata is one (key, value) pair attached to an Event. Key is an
// EventId referencing the intern dictionary.
type Metadata struct {
	Key   EventId
	Value MetadataValue
}

// Event is the canonical observation record (spec.md §3, §6.1).
type Event struct {
	UniqueId      EventId
	ParentId      EventId
	CorrelationId EventId

	Type EventType

	ProcessId uint32
	ThreadId  uint32

	TimeEnabled uint64 // nanoseconds the counter was armed
	TimeRunning uint64 // nanoseconds the counter was actually counting
	Timestamp   uint64 // monotonic nanoseconds
	Value       uint64
	IP          uint64

	Callstack []CallFrame
	Metadata  []Metadata
}

// Now returns the current wall-clock time in nanoseconds since the Unix
// epoch. It is not the kernel clock that stamps PMU samples, so its
// values are not directly comparable with sampled events' timestamps.
func Now() uint64 {
	return uint64(time.Now().UnixNano())
}
