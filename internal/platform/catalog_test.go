package platform

import "testing"

func TestLoadCatalogHasSpacemitX60(t *testing.T) {
	cat, err := LoadCatalog(nil)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, ok := cat.ByFamily("spacemit_x60")
	if !ok {
		t.Fatalf("expected spacemit_x60 profile in built-in catalog")
	}
	if p.LeaderEvent != "u_mode_cycle" {
		t.Errorf("LeaderEvent = %q, want u_mode_cycle", p.LeaderEvent)
	}
	if !p.RefusesAsLeader("cycles") {
		t.Errorf("expected cycles to refuse leader role on SpacemiT X60")
	}

	origin, ok := p.AliasFor("cache_misses")
	if !ok || origin != "l2_miss" {
		t.Fatalf("AliasFor(cache_misses) = %q,%v; want l2_miss,true", origin, ok)
	}
	ev, ok := p.EventByName(origin)
	if !ok {
		t.Fatalf("expected event %q to be defined", origin)
	}
	code, err := ev.RawCode()
	if err != nil {
		t.Fatalf("RawCode: %v", err)
	}
	if code != 0xb9 {
		t.Errorf("l2_miss code = %#x, want 0xb9", code)
	}
}

func TestLoadCatalogGenericX86(t *testing.T) {
	cat, err := LoadCatalog(nil)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, ok := cat.ByVendorArch("generic", "x86_64")
	if !ok {
		t.Fatalf("expected a generic x86_64 profile")
	}
	if _, ok := p.EventByName("cycles"); !ok {
		t.Errorf("expected generic x86_64 profile to define cycles directly")
	}
}

func TestParseIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{"family_id":"x","name":"X","vendor":"v","arch":"a","totally_unknown_field":123,"events":[]}`)
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.FamilyID != "x" {
		t.Errorf("FamilyID = %q, want x", p.FamilyID)
	}
}
