package platform

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// Catalog is the append-only, versioned set of known platform profiles,
// keyed by family_id. It is loaded once at startup and never mutated
// afterward, so lookups are lock-free (spec.md §5: "Platform profile
// catalog: immutable after startup; free concurrent reads").
type Catalog struct {
	byFamily map[string]*Profile
}

// LoadCatalog loads the embedded built-in profiles plus, if extra is
// non-nil, every *.json profile under extra. A profile in extra with a
// family_id matching a built-in one overrides it, so operators can patch
// a single vendor's quirks without forking the whole catalog.
func LoadCatalog(extra fs.FS) (*Catalog, error) {
	builtinDir, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("builtin profile catalog: %w", err)
	}
	profiles, err := LoadDir(builtinDir)
	if err != nil {
		return nil, fmt.Errorf("builtin profile catalog: %w", err)
	}

	c := &Catalog{byFamily: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		c.byFamily[p.FamilyID] = p
	}

	if extra != nil {
		extraProfiles, err := LoadDir(extra)
		if err != nil {
			return nil, fmt.Errorf("extra profile catalog: %w", err)
		}
		for _, p := range extraProfiles {
			c.byFamily[p.FamilyID] = p
		}
	}
	return c, nil
}

// ByFamily returns the profile for the given family_id.
func (c *Catalog) ByFamily(familyID string) (*Profile, bool) {
	p, ok := c.byFamily[familyID]
	return p, ok
}

// ByVendorArch returns the first profile matching vendor and arch. Used
// when the caller doesn't know the exact family_id (e.g. CPU model
// string lookup failed) and just wants a generic profile for the arch.
func (c *Catalog) ByVendorArch(vendor, arch string) (*Profile, bool) {
	for _, p := range c.byFamily {
		if p.Vendor == vendor && p.Arch == arch {
			return p, true
		}
	}
	return nil, false
}

// FamilyIDs returns every family_id in the catalog.
func (c *Catalog) FamilyIDs() []string {
	ids := make([]string, 0, len(c.byFamily))
	for id := range c.byFamily {
		ids = append(ids, id)
	}
	return ids
}
