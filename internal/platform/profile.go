// Package platform loads the declarative catalog of platform profiles
// that the counter registry (internal/events) resolves canonical counter
// names against. Profiles are data, not code: vendor quirks such as
// "cycles has no overflow IRQ" or "use u_mode_cycle as group leader"
// live in the JSON catalog, never in a type switch (spec.md §9).
package platform

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
)

// Alias redirects a canonical counter name (Target, e.g. "cache_misses")
// to a vendor-specific event name (Origin, e.g. "l2_miss") that must
// exist in the same profile's Events table.
type Alias struct {
	Target string `json:"target"`
	Origin string `json:"origin"`
}

// EventDef is one named event in a platform's event table. Code is
// parsed from a hexadecimal string per spec.md §6.5. Type selects which
// perf_event_attr.type the code belongs under; it defaults to "raw"
// when omitted, which is how upstream perf treats bare hex codes, so
// older catalog files without a Type field keep working unchanged.
type EventDef struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
	Code string `json:"code"` // hexadecimal, e.g. "0xb8"
	Type string `json:"type,omitempty"`
}

// RawCode parses Code as a hexadecimal integer.
func (e EventDef) RawCode() (uint64, error) {
	s := strings.TrimSpace(e.Code)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return strconv.ParseUint(s, 16, 64)
}

// Profile describes one (vendor, family) platform, including its
// event table, alias rules, and scheduling quirks (spec.md §3, §4.1).
type Profile struct {
	FamilyID string `json:"family_id"`
	Name     string `json:"name"`
	Vendor   string `json:"vendor"`
	Arch     string `json:"arch"`

	// LeaderEvent overrides the group leader when the architectural
	// cycle counter is unusable on this platform (e.g. SpacemiT X60).
	LeaderEvent string `json:"leader_event,omitempty"`

	// NoOverflowInterruptFor lists canonical or vendor event names that
	// cannot be used as a sampling leader because the PMU cannot raise
	// an overflow interrupt for them.
	NoOverflowInterruptFor []string `json:"no_overflow_interrupt_for,omitempty"`

	Aliases []Alias    `json:"aliases"`
	Events  []EventDef `json:"events"`
}

// EventByName returns the EventDef with the given name, if any.
func (p *Profile) EventByName(name string) (EventDef, bool) {
	for _, e := range p.Events {
		if e.Name == name {
			return e, true
		}
	}
	return EventDef{}, false
}

// AliasFor returns the vendor event name that canonical aliases to, if
// an alias rule exists.
func (p *Profile) AliasFor(canonical string) (string, bool) {
	for _, a := range p.Aliases {
		if a.Target == canonical {
			return a.Origin, true
		}
	}
	return "", false
}

// RefusesAsLeader reports whether name cannot be used as a sampling
// group leader on this platform because it has no overflow interrupt.
func (p *Profile) RefusesAsLeader(name string) bool {
	for _, n := range p.NoOverflowInterruptFor {
		if n == name {
			return true
		}
	}
	return false
}

// Parse decodes one platform profile JSON document. Unknown fields are
// ignored, per spec.md §6.5 (json.Unmarshal's default behavior).
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse platform profile: %w", err)
	}
	if p.FamilyID == "" {
		return nil, fmt.Errorf("parse platform profile: missing family_id")
	}
	return &p, nil
}

// LoadDir parses every *.json file in dir (non-recursive) as a platform
// profile. It is used to extend the built-in catalog with
// operator-supplied profiles at startup.
func LoadDir(dir fs.FS) ([]*Profile, error) {
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, err
	}
	var profiles []*Profile
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		data, err := fs.ReadFile(dir, ent.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ent.Name(), err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ent.Name(), err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
