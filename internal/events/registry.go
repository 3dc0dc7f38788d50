//go:build linux

// Package events implements the counter registry: translating a
// canonical counter request (e.g. "cache_misses") into a concrete
// (perf_event type, raw code) pair for the current platform, following
// the resolution order fixed by spec.md §4.1.
package events

import (
	"golang.org/x/sys/unix"

	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/platform"
)

// Descriptor is the resolved form of a canonical counter request: a
// concrete perf_event_attr (type, config) the counter group engine can
// open directly.
type Descriptor struct {
	Canonical string
	Resolved  string // the platform event name actually opened (may equal Canonical)
	Type      uint32 // unix.PERF_TYPE_*
	Config    uint64
}

// typeCode maps a platform.EventDef's declarative Type string to the
// perf_event_attr.type value perf_event_open expects. Defaults to RAW,
// matching how upstream perf treats a bare hex code (spec.md §6.5).
func typeCode(t string) uint32 {
	switch t {
	case "hardware":
		return unix.PERF_TYPE_HARDWARE
	case "software":
		return unix.PERF_TYPE_SOFTWARE
	case "raw", "":
		return unix.PERF_TYPE_RAW
	default:
		return unix.PERF_TYPE_RAW
	}
}

// Resolve implements the resolution order from spec.md §4.1:
//  1. If the platform profile carries a canonical definition for name,
//     use it directly.
//  2. Else if an alias rule maps name to a vendor event, resolve that
//     vendor event by name in the platform's event table.
//  3. Else fail with merr.UnsupportedCounter.
func Resolve(p *platform.Profile, name string) (Descriptor, error) {
	if ev, ok := p.EventByName(name); ok {
		code, err := ev.RawCode()
		if err != nil {
			return Descriptor{}, merr.Wrap(merr.UnsupportedCounter, err)
		}
		return Descriptor{Canonical: name, Resolved: name, Type: typeCode(ev.Type), Config: code}, nil
	}

	if origin, ok := p.AliasFor(name); ok {
		ev, ok := p.EventByName(origin)
		if !ok {
			return Descriptor{}, merr.New(merr.UnsupportedCounter,
				"alias %s -> %s: %s not defined in platform %s", name, origin, origin, p.FamilyID)
		}
		code, err := ev.RawCode()
		if err != nil {
			return Descriptor{}, merr.Wrap(merr.UnsupportedCounter, err)
		}
		return Descriptor{Canonical: name, Resolved: origin, Type: typeCode(ev.Type), Config: code}, nil
	}

	return Descriptor{}, merr.New(merr.UnsupportedCounter, "no definition or alias for %q on platform %s", name, p.FamilyID)
}

// ResolveAll resolves every name in names, dropping (not failing on) any
// individual unsupported_counter per spec.md §4.2's "open of a
// multi-counter set" failure semantics: the caller decides whether to
// proceed with fewer counters. It returns the resolved descriptors plus
// the names that could not be resolved.
func ResolveAll(p *platform.Profile, names []string) (resolved []Descriptor, dropped []string) {
	for _, n := range names {
		d, err := Resolve(p, n)
		if err != nil {
			dropped = append(dropped, n)
			continue
		}
		resolved = append(resolved, d)
	}
	return resolved, dropped
}

// CanonicalCounters returns every canonical counter name this platform
// profile can resolve, from direct definitions and aliases combined.
// Used by the snapshot scenario to build "all canonical counters
// supported on the platform" (spec.md §4.8).
func CanonicalCounters(p *platform.Profile) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, ev := range p.Events {
		add(ev.Name)
	}
	for _, a := range p.Aliases {
		add(a.Target)
	}
	return names
}

// PreferredSamplingLeader picks a canonical/vendor event name usable as
// a sampling group leader on p: the profile's LeaderEvent override if
// set, otherwise "cycles" unless the platform flags cycles as refusing
// overflow interrupts, in which case it returns "instructions".
func PreferredSamplingLeader(p *platform.Profile) string {
	if p.LeaderEvent != "" {
		return p.LeaderEvent
	}
	if !p.RefusesAsLeader("cycles") {
		return "cycles"
	}
	return "instructions"
}
