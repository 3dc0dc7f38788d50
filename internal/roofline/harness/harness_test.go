package harness

import (
	"testing"

	"github.com/nanoprof/miniperf/internal/roofline"
	"github.com/nanoprof/miniperf/internal/wire"
)

type recordingSink struct {
	events []wire.Event
}

func (s *recordingSink) Emit(ev wire.Event)                    { s.events = append(s.events, ev) }
func (s *recordingSink) InternString(key uint64, value string) {}

func TestRunUninstrumentedSkipsStats(t *testing.T) {
	sink := &recordingSink{}
	rt := roofline.NewRuntime(sink, wire.NewAllocator(1), false)
	defer rt.Close()

	tick := uint64(0)
	clock := func() uint64 { tick++; return tick }

	loop := Loop{
		Info:       roofline.LoopInfo{Line: 7, FileName: "saxpy.cpp", FunctionName: "saxpy"},
		Iterations: []roofline.LoopStats{{BytesLoad: 16}},
	}
	events, err := Run(rt, 1, loop, clock)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Pass 1 (uninstrumented) never calls notify_loop_stats, so the
	// loop_end event carries no accumulated counters.
	if len(events) != 1 || events[0].Type != wire.EventTypeRooflineLoopEnd {
		t.Fatalf("events = %+v, want a single loopEnd with no stat events", events)
	}
}

func TestRunInstrumentedEmitsStats(t *testing.T) {
	sink := &recordingSink{}
	rt := roofline.NewRuntime(sink, wire.NewAllocator(1), true)
	defer rt.Close()

	tick := uint64(0)
	clock := func() uint64 { tick++; return tick }

	loop := Loop{
		Info:       roofline.LoopInfo{Line: 7, FileName: "saxpy.cpp", FunctionName: "saxpy"},
		Iterations: []roofline.LoopStats{{BytesLoad: 16, ScalarFloatOps: 2}, {BytesLoad: 16, ScalarFloatOps: 2}},
	}
	events, err := Run(rt, 1, loop, clock)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var total uint64
	for _, ev := range events {
		if ev.Type == wire.EventTypeRooflineBytesLoad {
			total = ev.Value
		}
	}
	if total != 32 {
		t.Errorf("accumulated bytesLoad = %d, want 32", total)
	}
}

func TestRunCorrelatesAcrossPasses(t *testing.T) {
	sinkA := &recordingSink{}
	rtA := roofline.NewRuntime(sinkA, wire.NewAllocator(1), false)
	defer rtA.Close()
	sinkB := &recordingSink{}
	rtB := roofline.NewRuntime(sinkB, wire.NewAllocator(2), true)
	defer rtB.Close()

	loop := Loop{Info: roofline.LoopInfo{Line: 7, FileName: "saxpy.cpp", FunctionName: "saxpy"}}
	tick := uint64(0)
	clock := func() uint64 { tick++; return tick }

	if _, err := Run(rtA, 1, loop, clock); err != nil {
		t.Fatalf("pass 1 Run: %v", err)
	}
	if _, err := Run(rtB, 1, loop, clock); err != nil {
		t.Fatalf("pass 2 Run: %v", err)
	}
	rtA.Flush()
	rtB.Flush()

	if sinkA.events[0].CorrelationId != sinkB.events[0].CorrelationId {
		t.Errorf("correlation id differs across passes: %+v != %+v",
			sinkA.events[0].CorrelationId, sinkB.events[0].CorrelationId)
	}
}
