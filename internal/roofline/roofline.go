// Package roofline is the host-side counterpart of the roofline
// collector runtime (spec.md §4.5): the shared library a compiler pass
// links into the profiled target. Because the actual runtime is linked
// into an arbitrary, typically non-Go target, this package implements
// the loop-stack and batching logic as a cgo-free, pure-Go reference
// runtime matching the four-symbol ABI the pass expects
// (internal/roofline/abi.go), so it can be exercised directly from Go
// tests and from cmd/roofline-demo without a real compiler pass.
package roofline

import (
	"hash/fnv"
	"sync"

	"github.com/nanoprof/miniperf/internal/wire"
)

// LoopInfo is the static, per-call-site description passed to
// notify_loop_begin: the preheader's source location.
type LoopInfo struct {
	Line         uint32
	FileName     string
	FunctionName string
}

// LoopStats is the nine-counter instrumentation block the instrumented
// clone accumulates per invocation (spec.md §3 "Loop frame").
type LoopStats struct {
	TripCount       uint64
	BytesLoad       uint64
	BytesStore      uint64
	ScalarIntOps    uint64
	ScalarFloatOps  uint64
	ScalarDoubleOps uint64
	VectorIntOps    uint64
	VectorFloatOps  uint64
	VectorDoubleOps uint64
}

// Add accumulates s into the receiver in place, used when multiple
// notify_loop_stats calls target the same frame (spec.md §4.5).
func (s *LoopStats) Add(o LoopStats) {
	s.TripCount += o.TripCount
	s.BytesLoad += o.BytesLoad
	s.BytesStore += o.BytesStore
	s.ScalarIntOps += o.ScalarIntOps
	s.ScalarFloatOps += o.ScalarFloatOps
	s.ScalarDoubleOps += o.ScalarDoubleOps
	s.VectorIntOps += o.VectorIntOps
	s.VectorFloatOps += o.VectorFloatOps
	s.VectorDoubleOps += o.VectorDoubleOps
}

// Handle is the opaque loop-frame handle returned by NotifyLoopBegin.
// The pass contract treats it as an opaque pointer; this reference
// runtime uses it only as a per-thread stack depth index, never
// dereferenced by caller code.
type Handle uint64

// maxLoopDepth bounds a single thread's loop nesting (spec.md §4.5's
// "preallocated stack of fixed depth"): source loops nest a handful of
// levels deep at most, so 64 leaves headroom without needing a growable
// stack on the hot path.
const maxLoopDepth = 64

// eventBatchSize is the per-thread event buffer's flush threshold
// (spec.md §4.5's "flushed on size threshold or on loop-end of an
// outermost loop").
const eventBatchSize = 32

// senderQueueSize bounds the MPSC queue between producer threads and
// the dedicated sender goroutine; a producer blocks on a full queue
// rather than dropping events.
const senderQueueSize = 4096

// frame is a loop activation on a thread's per-thread stack.
type frame struct {
	beginID EventId
	corrID  EventId
	info    LoopInfo
	stats   LoopStats
	startNs uint64
}

// eventBuffer is the thread-local, cache-line-padded batch a thread
// accumulates before handing events to the sender queue (spec.md §4.5).
// Its backing array is fixed-size so accumulating into it never
// allocates.
type eventBuffer struct {
	events [eventBatchSize]wire.Event
	n      int
	_      [64]byte // pad so two threads' buffers never share a cache line
}

func (b *eventBuffer) push(ev wire.Event) (full bool) {
	b.events[b.n] = ev
	b.n++
	return b.n == len(b.events)
}

// threadState is one thread's loop stack plus its pending event batch.
// The stack is a fixed-size array, not a slice, so pushing and popping
// loop frames never allocates. The calls still allocate elsewhere:
// NotifyLoopBegin builds each event's Callstack slice, and
// NotifyLoopEnd builds the event slice it returns.
type threadState struct {
	stack [maxLoopDepth]frame
	depth int
	buf   eventBuffer
}

// EventId is a re-export of wire.EventId, kept distinct at the package
// boundary so ABI callers don't need to import internal/wire directly.
type EventId = wire.EventId

// Sink receives events and interned strings the runtime emits, standing
// in for the IPC client in unit tests and for internal/ipc.Client in the
// real demonstration program.
type Sink interface {
	Emit(ev wire.Event)
	InternString(key uint64, value string)
}

// queuedEvent is one item on the sender queue: either a real event to
// forward to the sink, or a barrier used by Flush/Close to block until
// every event queued ahead of it has reached the sink (the queue is a
// single channel, so FIFO order makes this a correct synchronization
// point without a second coordination mechanism).
type queuedEvent struct {
	ev      wire.Event
	barrier chan struct{}
}

// Runtime implements the four ABI entry points against a per-thread loop
// stack, matching the "loop frames are per-thread" thread-safety rule of
// spec.md §4.5. Outbound events flow through a multi-producer
// single-consumer queue drained by a dedicated sender goroutine (spec.md
// §4.5: "a dedicated sender thread" draining "a multi-producer
// single-consumer queue"), so NotifyLoopBegin/Stats/End never block on
// sink.Emit directly.
type Runtime struct {
	sink  Sink
	alloc *wire.Allocator

	mu           sync.Mutex
	threads      map[uint64]*threadState // goroutine-local-id -> state
	instrumented bool

	sendCh     chan queuedEvent
	senderDone chan struct{}

	strMu    sync.Mutex
	strNext  uint64
	interned map[string]uint64
}

// NewRuntime creates a Runtime that emits through sink, allocating
// EventIds from alloc. instrumented mirrors
// MINIPERF_ROOFLINE_INSTRUMENTED / is_instrumented_profiling's answer
// for this pass. The returned Runtime owns a background sender
// goroutine; callers must call Close once no more Notify* calls will
// happen, so buffered events are flushed and the goroutine exits.
func NewRuntime(sink Sink, alloc *wire.Allocator, instrumented bool) *Runtime {
	r := &Runtime{
		sink:         sink,
		alloc:        alloc,
		threads:      make(map[uint64]*threadState),
		instrumented: instrumented,
		sendCh:       make(chan queuedEvent, senderQueueSize),
		senderDone:   make(chan struct{}),
		interned:     make(map[string]uint64),
	}
	go r.runSender()
	return r
}

// runSender is the dedicated sender thread: the sole caller of
// sink.Emit, draining the MPSC queue in order until it is closed.
func (r *Runtime) runSender() {
	for item := range r.sendCh {
		if item.barrier != nil {
			close(item.barrier)
			continue
		}
		r.sink.Emit(item.ev)
	}
	close(r.senderDone)
}

// Flush blocks until every event queued so far has been handed to the
// sink. Safe to call concurrently with producers.
func (r *Runtime) Flush() {
	done := make(chan struct{})
	r.sendCh <- queuedEvent{barrier: done}
	<-done
}

// Close flushes every thread's pending batch, drains the sender queue,
// and stops the sender goroutine. Callers must not invoke any Notify*
// method after Close.
func (r *Runtime) Close() {
	r.mu.Lock()
	for _, ts := range r.threads {
		r.flush(ts)
	}
	r.mu.Unlock()
	close(r.sendCh)
	<-r.senderDone
}

// threadStateFor returns threadID's state, creating it on first use.
// Callers must hold r.mu.
func (r *Runtime) threadStateFor(threadID uint64) *threadState {
	ts, ok := r.threads[threadID]
	if !ok {
		ts = &threadState{}
		r.threads[threadID] = ts
	}
	return ts
}

// emit appends ev to ts's batch, flushing it to the sender queue once
// it fills (spec.md §4.5's size-threshold flush trigger).
func (r *Runtime) emit(ts *threadState, ev wire.Event) {
	if ts.buf.push(ev) {
		r.flush(ts)
	}
}

// flush drains ts's batch onto the sender queue in order.
func (r *Runtime) flush(ts *threadState) {
	for i := 0; i < ts.buf.n; i++ {
		r.sendCh <- queuedEvent{ev: ts.buf.events[i]}
	}
	ts.buf.n = 0
}

// IsInstrumentedProfiling implements is_instrumented_profiling(): true
// only during the instrumented pass of a roofline scenario.
func (r *Runtime) IsInstrumentedProfiling() bool {
	return r.instrumented
}

// CorrelationID computes the deterministic (file, line, function) hash
// spec.md §8's "Correlation" testable property requires: identical
// inputs across passes must produce identical correlation ids.
func CorrelationID(info LoopInfo) wire.EventId {
	h := fnv.New128a()
	h.Write([]byte(info.FileName))
	h.Write([]byte{0})
	h.Write([]byte(info.FunctionName))
	h.Write([]byte{0})
	var lineBuf [4]byte
	lineBuf[0] = byte(info.Line)
	lineBuf[1] = byte(info.Line >> 8)
	lineBuf[2] = byte(info.Line >> 16)
	lineBuf[3] = byte(info.Line >> 24)
	h.Write(lineBuf[:])

	sum := h.Sum(nil) // 16 bytes
	var id wire.EventId
	id.Hi = beUint64(sum[0:8])
	id.Lo = beUint64(sum[8:16])
	return id
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// NotifyLoopBegin implements notify_loop_begin(info*) -> handle
// (spec.md §4.5 item 1): pushes a fresh frame onto threadID's fixed-
// depth stack and emits a rooflineLoopStart event. A thread nesting
// past maxLoopDepth is a fatal invariant violation (spec.md §4.5:
// "overflow is a fatal invariant violation, not an allocation"), not a
// growable stack, so NotifyLoopBegin panics rather than returning an
// error its ABI signature has no room for.
func (r *Runtime) NotifyLoopBegin(threadID uint64, info LoopInfo, nowNs uint64) Handle {
	id := r.alloc.Next()
	corr := CorrelationID(info)

	r.mu.Lock()
	ts := r.threadStateFor(threadID)
	if ts.depth >= maxLoopDepth {
		r.mu.Unlock()
		panic(errStackOverflow)
	}
	ts.stack[ts.depth] = frame{beginID: id, corrID: corr, info: info, startNs: nowNs}
	handle := Handle(ts.depth)
	ts.depth++

	r.emit(ts, wire.Event{
		UniqueId:      id,
		CorrelationId: corr,
		Type:          wire.EventTypeRooflineLoopStart,
		ThreadId:      uint32(threadID),
		Timestamp:     nowNs,
		Callstack: []wire.CallFrame{{
			Resolved: true,
			Location: wire.Location{
				FunctionName: r.internLocked(info.FunctionName),
				FileName:     r.internLocked(info.FileName),
				Line:         info.Line,
			},
		}},
	})
	r.mu.Unlock()
	return handle
}

// NotifyLoopStats implements notify_loop_stats(handle, stats*) (spec.md
// §4.5 item 3): accumulates stats into the frame addressed by handle.
func (r *Runtime) NotifyLoopStats(threadID uint64, handle Handle, stats LoopStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.threads[threadID]
	idx := int(handle)
	if !ok || idx < 0 || idx >= ts.depth {
		return errInvalidHandle
	}
	ts.stack[idx].stats.Add(stats)
	return nil
}

// NotifyLoopEnd implements notify_loop_end(handle) (spec.md §4.5 item
// 2): pops the frame, asserting LIFO match, and emits a rooflineLoopEnd
// event plus one typed event per non-zero accumulated counter, each
// carrying the loop_begin's id as parent_id (spec.md §3 invariants).
// The thread's batch is force-flushed once the pop returns it to depth
// zero, i.e. on the outermost loop's end (spec.md §4.5).
func (r *Runtime) NotifyLoopEnd(threadID uint64, handle Handle, nowNs uint64) ([]wire.Event, error) {
	r.mu.Lock()
	ts, ok := r.threads[threadID]
	idx := int(handle)
	if !ok || idx != ts.depth-1 {
		r.mu.Unlock()
		return nil, errLIFOViolation
	}
	f := ts.stack[idx]
	ts.depth--
	outermost := ts.depth == 0

	endID := r.alloc.Next()
	events := make([]wire.Event, 0, 10)

	endEvent := wire.Event{
		UniqueId:      endID,
		ParentId:      f.beginID,
		CorrelationId: f.corrID,
		Type:          wire.EventTypeRooflineLoopEnd,
		ThreadId:      uint32(threadID),
		Timestamp:     nowNs,
		Value:         nowNs - f.startNs,
	}
	events = append(events, endEvent)

	for _, stat := range statEvents(f.stats) {
		ev := wire.Event{
			UniqueId:      r.alloc.Next(),
			ParentId:      f.beginID,
			CorrelationId: f.corrID,
			Type:          stat.typ,
			ThreadId:      uint32(threadID),
			Timestamp:     nowNs,
			Value:         stat.value,
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		r.emit(ts, ev)
	}
	if outermost {
		r.flush(ts)
	}
	r.mu.Unlock()
	return events, nil
}

type typedStat struct {
	typ   wire.EventType
	value uint64
}

// statEvents expands a LoopStats block into one typed event per
// non-zero counter, matching spec.md §4.5's "as separate typed events,
// one per non-zero counter".
func statEvents(s LoopStats) []typedStat {
	var out []typedStat
	add := func(t wire.EventType, v uint64) {
		if v != 0 {
			out = append(out, typedStat{t, v})
		}
	}
	add(wire.EventTypeRooflineBytesLoad, s.BytesLoad)
	add(wire.EventTypeRooflineBytesStore, s.BytesStore)
	add(wire.EventTypeRooflineScalarIntOps, s.ScalarIntOps)
	add(wire.EventTypeRooflineScalarFloatOps, s.ScalarFloatOps)
	add(wire.EventTypeRooflineScalarDoubleOps, s.ScalarDoubleOps)
	add(wire.EventTypeRooflineVectorIntOps, s.VectorIntOps)
	add(wire.EventTypeRooflineVectorFloatOps, s.VectorFloatOps)
	add(wire.EventTypeRooflineVectorDoubleOps, s.VectorDoubleOps)
	return out
}

// internLocked assigns (or reuses) a stable EventId for s and notifies
// the sink so it can forward an IpcString frame, mirroring the runtime's
// real string-interning side channel.
func (r *Runtime) internLocked(s string) wire.EventId {
	r.strMu.Lock()
	defer r.strMu.Unlock()
	if key, ok := r.interned[s]; ok {
		return wire.EventId{Lo: key}
	}
	r.strNext++
	key := r.strNext
	r.interned[s] = key
	r.sink.InternString(key, s)
	return wire.EventId{Lo: key}
}

// StackDepth reports how many loop frames are currently open on
// threadID, used by tests asserting LIFO balance.
func (r *Runtime) StackDepth(threadID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.threads[threadID]
	if !ok {
		return 0
	}
	return ts.depth
}
