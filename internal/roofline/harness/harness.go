// Package harness drives the roofline collector runtime's four ABI
// entry points the way a compiler-pass-generated dispatch shim would,
// standing in for the real compiler pass (spec.md §4.6, external). It is
// used both by tests that want to simulate an instrumented loop without
// a compiler, and by cmd/roofline-demo.
package harness

import (
	"github.com/nanoprof/miniperf/internal/roofline"
	"github.com/nanoprof/miniperf/internal/wire"
)

// Loop describes one outermost loop's static site plus the per-iteration
// stats an instrumented clone would have measured, letting a test
// synthesize what the compiler pass's generated code would report.
type Loop struct {
	Info       roofline.LoopInfo
	Iterations []roofline.LoopStats
}

// Run simulates the compiler-generated dispatch shim for one call site:
// is_instrumented_profiling() gates whether notify_loop_stats is called
// at all, matching "true only during pass 2 of roofline scenario"
// (spec.md §4.5 item 4). threadID and clock are supplied by the caller
// so tests can be deterministic (this package does not call
// time.Now() itself).
func Run(rt *roofline.Runtime, threadID uint64, loop Loop, clock func() uint64) ([]wire.Event, error) {
	startNs := clock()
	handle := rt.NotifyLoopBegin(threadID, loop.Info, startNs)

	if rt.IsInstrumentedProfiling() {
		for _, stats := range loop.Iterations {
			if err := rt.NotifyLoopStats(threadID, handle, stats); err != nil {
				return nil, err
			}
		}
	}

	endNs := clock()
	return rt.NotifyLoopEnd(threadID, handle, endNs)
}
