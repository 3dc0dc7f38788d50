//go:build linux

package orchestrator

import "github.com/nanoprof/miniperf/internal/wire"

// canonicalEventTypes maps the canonical counter names the built-in
// platform catalogs define (internal/platform/builtin/*.json) to the
// closed EventType enumeration (spec.md §6.1). A canonical name with no
// dedicated EventType — a vendor-raw event such as SpacemiT's
// u_mode_cycle, exposed under its own name in addition to the "cycles"
// alias it backs — falls back to pmuCustom, the taxonomy's catch-all
// for counters the wire schema doesn't name individually.
var canonicalEventTypes = map[string]wire.EventType{
	"cycles":                  wire.EventTypePMUCycles,
	"instructions":            wire.EventTypePMUInstructions,
	"cache_references":        wire.EventTypePMULLCReferences,
	"cache_misses":            wire.EventTypePMULLCMisses,
	"branch_instructions":     wire.EventTypePMUBranchInstructions,
	"branch_misses":           wire.EventTypePMUBranchMisses,
	"stalled_cycles_frontend": wire.EventTypePMUStalledCyclesFrontend,
	"stalled_cycles_backend":  wire.EventTypePMUStalledCyclesBackend,
	"cpu_clock":               wire.EventTypeOSCPUClock,
	"task_clock":              wire.EventTypeOSTotalTime,
	"page_faults":             wire.EventTypeOSPageFaults,
	"context_switches":        wire.EventTypeOSContextSwitches,
	"cpu_migrations":          wire.EventTypeOSCPUMigrations,
}

// eventTypeForCanonical returns the wire EventType a scaled reading of
// the named canonical counter should be emitted as.
func eventTypeForCanonical(name string) wire.EventType {
	if t, ok := canonicalEventTypes[name]; ok {
		return t
	}
	return wire.EventTypePMUCustom
}
