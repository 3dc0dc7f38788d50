//go:build linux

// Package orchestrator implements the scenario orchestrator (spec.md
// §4.8): finite plans over counter-group configurations and collector
// settings, run against a supervised child and reduced to one ordered
// slice of events.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nanoprof/miniperf/internal/logx"
	"github.com/nanoprof/miniperf/internal/platform"
	"github.com/nanoprof/miniperf/internal/roofline"
	"github.com/nanoprof/miniperf/internal/wire"
)

// defaultSamplePeriod is the number of raw leader events between PMU
// samples when Config.SamplePeriod is unset, chosen to sample in the
// few-kHz range at typical clock speeds without overwhelming the ring
// buffer.
const defaultSamplePeriod = 100_000

// defaultBufferPages is the sampling ring buffer size in pages (plus one
// header page), used when Config.BufferPages is unset.
const defaultBufferPages = 8

// Symbolizer resolves a PMU sample's instruction pointer back to the
// source triple needed to compute a matching correlation_id (spec.md
// §8's Correlation property). No production symbolizer ships in this
// repository — address-to-source symbolization is the "symbolizing
// report renderer" spec.md §1 excludes from the CORE — so a real
// Config carries a nil Symbolizer and pass-1 PMU events keep a zero
// CorrelationId. Tests that exercise the Correlation property supply a
// fake that knows the test binary's layout.
type Symbolizer interface {
	Resolve(ip uint64) (roofline.LoopInfo, bool)
}

// Config carries everything a Scenario needs, assembled by cmd/miniperf
// from CLI flags plus the loaded platform profile.
type Config struct {
	Argv []string
	Dir  string

	Profile *platform.Profile
	Log     *logx.Logger

	// IPCSocketPath is where the roofline collector runtime's IPC
	// server listens. Required by Roofline, ignored by Snapshot.
	IPCSocketPath string

	SamplePeriod uint64 // 0 -> defaultSamplePeriod
	BufferPages  int    // 0 -> defaultBufferPages
	Symbolizer   Symbolizer

	// GracePeriod is how long the supervisor waits after SIGTERM before
	// escalating to SIGKILL on context cancellation. 0 uses the
	// supervisor package's own default (spec.md §4.3: 5s).
	GracePeriod time.Duration

	// EpochNanos seeds the session's EventId allocator (spec.md §3:
	// monotonic, not random). Normally time.Now().UnixNano(); taken as
	// a field so a session can be made deterministic in tests.
	EpochNanos int64
}

func (c Config) samplePeriod() uint64 {
	if c.SamplePeriod != 0 {
		return c.SamplePeriod
	}
	return defaultSamplePeriod
}

func (c Config) bufferPages() int {
	if c.BufferPages != 0 {
		return c.BufferPages
	}
	return defaultBufferPages
}

// Result is everything a Scenario produced, in emission order.
type Result struct {
	Events []wire.Event
}

// Scenario is a finite plan over counter-group configurations and
// collector settings (spec.md §4.8). snapshot and roofline are its two
// members; both implement Run.
type Scenario interface {
	Run(ctx context.Context) (*Result, error)
}

// New resolves a scenario name to a Scenario: cmd/miniperf calls this
// once per `record` invocation and never constructs a Scenario directly.
func New(name string, cfg Config) (Scenario, error) {
	switch name {
	case "snapshot":
		return &Snapshot{cfg: cfg}, nil
	case "roofline":
		return &Roofline{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown scenario %q (want snapshot or roofline)", name)
	}
}
