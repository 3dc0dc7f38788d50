//go:build linux

package orchestrator

import (
	"github.com/nanoprof/miniperf/internal/roofline"
	"github.com/nanoprof/miniperf/internal/wire"
)

// applySymbolizer fills in CorrelationId on every event whose
// instruction pointer the symbolizer can resolve, in place. A nil
// symbolizer (the production default — see Config.Symbolizer's doc) is
// a no-op, leaving pass-1 PMU events with a zero CorrelationId.
func applySymbolizer(events []wire.Event, sym Symbolizer) {
	if sym == nil {
		return
	}
	for i := range events {
		info, ok := sym.Resolve(events[i].IP)
		if !ok {
			continue
		}
		events[i].CorrelationId = roofline.CorrelationID(info)
	}
}

// GroupByCorrelation partitions events by their CorrelationId, dropping
// the zero id (meaning "no correlation computed"). It backs the
// Correlation testable property (spec.md §8).
func GroupByCorrelation(events []wire.Event) map[wire.EventId][]wire.Event {
	out := make(map[wire.EventId][]wire.Event)
	for _, ev := range events {
		if ev.CorrelationId.Zero() {
			continue
		}
		out[ev.CorrelationId] = append(out[ev.CorrelationId], ev)
	}
	return out
}
