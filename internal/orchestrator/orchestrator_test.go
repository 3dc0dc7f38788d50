//go:build linux

package orchestrator

import (
	"testing"

	"github.com/nanoprof/miniperf/internal/logx"
	"github.com/nanoprof/miniperf/internal/platform"
)

func testProfile(t *testing.T) *platform.Profile {
	t.Helper()
	cat, err := platform.LoadCatalog(nil)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, ok := cat.ByFamily("generic_x86_64")
	if !ok {
		t.Fatalf("expected generic_x86_64 in built-in catalog")
	}
	return p
}

func TestNewRejectsUnknownScenario(t *testing.T) {
	cfg := Config{Profile: testProfile(t), Log: logx.New("test", false)}
	if _, err := New("bogus", cfg); err == nil {
		t.Fatal("expected an error for an unknown scenario name")
	}
}

func TestNewResolvesKnownScenarios(t *testing.T) {
	cfg := Config{Profile: testProfile(t), Log: logx.New("test", false)}
	for _, name := range []string{"snapshot", "roofline"} {
		s, err := New(name, cfg)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if s == nil {
			t.Fatalf("New(%q) returned a nil Scenario", name)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	if cfg.samplePeriod() != defaultSamplePeriod {
		t.Errorf("samplePeriod() = %d, want default %d", cfg.samplePeriod(), defaultSamplePeriod)
	}
	if cfg.bufferPages() != defaultBufferPages {
		t.Errorf("bufferPages() = %d, want default %d", cfg.bufferPages(), defaultBufferPages)
	}

	cfg.SamplePeriod = 42
	cfg.BufferPages = 16
	if cfg.samplePeriod() != 42 {
		t.Errorf("samplePeriod() = %d, want override 42", cfg.samplePeriod())
	}
	if cfg.bufferPages() != 16 {
		t.Errorf("bufferPages() = %d, want override 16", cfg.bufferPages())
	}
}

func TestEventTypeForCanonicalKnownAndUnknown(t *testing.T) {
	cases := map[string]bool{
		"cycles":           true,
		"cache_misses":     true,
		"context_switches": true,
		"u_mode_cycle":     false, // vendor-raw name, no dedicated EventType
	}
	for name, hasDedicated := range cases {
		got := eventTypeForCanonical(name)
		isCustom := got.String() == "pmuCustom"
		if hasDedicated == isCustom {
			t.Errorf("eventTypeForCanonical(%q) = %v, hasDedicated=%v", name, got, hasDedicated)
		}
	}
}
