//go:build linux

package events

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/platform"
)

func mustCatalog(t *testing.T) *platform.Catalog {
	t.Helper()
	cat, err := platform.LoadCatalog(nil)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return cat
}

func TestResolveDirectDefinition(t *testing.T) {
	cat := mustCatalog(t)
	p, _ := cat.ByFamily("generic_x86_64")

	d, err := Resolve(p, "cycles")
	if err != nil {
		t.Fatalf("Resolve(cycles): %v", err)
	}
	if d.Type != unix.PERF_TYPE_HARDWARE || d.Config != 0 {
		t.Errorf("Resolve(cycles) = %+v, want hardware/0", d)
	}
}

func TestResolveViaAliasSpacemitX60(t *testing.T) {
	cat := mustCatalog(t)
	p, _ := cat.ByFamily("spacemit_x60")

	d, err := Resolve(p, "cache_misses")
	if err != nil {
		t.Fatalf("Resolve(cache_misses): %v", err)
	}
	if d.Type != unix.PERF_TYPE_RAW || d.Config != 0xb9 {
		t.Errorf("Resolve(cache_misses) = %+v, want raw/0xb9", d)
	}

	d, err = Resolve(p, "cache_references")
	if err != nil {
		t.Fatalf("Resolve(cache_references): %v", err)
	}
	if d.Config != 0xb8 {
		t.Errorf("Resolve(cache_references).Config = %#x, want 0xb8", d.Config)
	}
}

func TestResolveUnsupportedCounter(t *testing.T) {
	cat := mustCatalog(t)
	p, _ := cat.ByFamily("generic_x86_64")

	_, err := Resolve(p, "does_not_exist")
	if merr.KindOf(err) != merr.UnsupportedCounter {
		t.Fatalf("Resolve(does_not_exist) kind = %v, want UnsupportedCounter", merr.KindOf(err))
	}
}

// TestAliasIdempotence is the "Alias idempotence" testable property from
// spec.md §8: resolving an already-canonical name returns the same
// descriptor as the platform's direct definition.
func TestAliasIdempotence(t *testing.T) {
	cat := mustCatalog(t)
	p, _ := cat.ByFamily("generic_x86_64")

	direct, err := Resolve(p, "instructions")
	if err != nil {
		t.Fatalf("Resolve(instructions): %v", err)
	}

	// "instructions" has no alias rule on this platform: resolving it
	// again must be idempotent.
	again, err := Resolve(p, "instructions")
	if err != nil {
		t.Fatalf("Resolve(instructions) again: %v", err)
	}
	if direct != again {
		t.Fatalf("Resolve(instructions) not idempotent: %+v != %+v", direct, again)
	}
}

func TestResolveAllDropsUnsupported(t *testing.T) {
	cat := mustCatalog(t)
	p, _ := cat.ByFamily("generic_x86_64")

	resolved, dropped := ResolveAll(p, []string{"cycles", "bogus", "instructions"})
	if len(resolved) != 2 {
		t.Errorf("resolved = %d, want 2", len(resolved))
	}
	if len(dropped) != 1 || dropped[0] != "bogus" {
		t.Errorf("dropped = %v, want [bogus]", dropped)
	}
}

func TestPreferredSamplingLeader(t *testing.T) {
	cat := mustCatalog(t)

	generic, _ := cat.ByFamily("generic_x86_64")
	if got := PreferredSamplingLeader(generic); got != "cycles" {
		t.Errorf("generic leader = %q, want cycles", got)
	}

	x60, _ := cat.ByFamily("spacemit_x60")
	if got := PreferredSamplingLeader(x60); got != "u_mode_cycle" {
		t.Errorf("x60 leader = %q, want u_mode_cycle", got)
	}
}
