//go:build linux

package orchestrator

import (
	"context"
	"fmt"

	"github.com/nanoprof/miniperf/internal/events"
	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/perfgroup"
	"github.com/nanoprof/miniperf/internal/supervisor"
	"github.com/nanoprof/miniperf/internal/wire"
)

// Snapshot implements the `snapshot` scenario (spec.md §4.8): open one
// group with every canonical counter the platform supports, in counting
// mode only; run the child once; on exit, read each counter scaled and
// emit one event per counter.
type Snapshot struct {
	cfg Config
}

// Run executes the snapshot scenario end to end.
func (s *Snapshot) Run(ctx context.Context) (*Result, error) {
	cfg := s.cfg
	names := events.CanonicalCounters(cfg.Profile)
	resolved, dropped := events.ResolveAll(cfg.Profile, names)
	if len(resolved) == 0 {
		return nil, merr.New(merr.UnsupportedCounter, "no canonical counters resolve on platform %s", cfg.Profile.FamilyID)
	}
	for _, d := range dropped {
		cfg.Log.Warn("snapshot: counter unsupported on this platform, dropping", "counter", d)
	}

	descriptors := make([]perfgroup.Descriptor, len(resolved))
	for i, d := range resolved {
		descriptors[i] = perfgroup.Descriptor{Descriptor: d}
	}

	sup := supervisor.New(cfg.Log, &supervisor.EnvBuilder{}, cfg.GracePeriod)

	handle, err := sup.Start(ctx, cfg.Argv, "")
	if err != nil {
		return nil, err
	}

	group, err := perfgroup.Open(perfgroup.AttachPID(handle.PID(), false), descriptors, 0)
	if err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, err
	}
	defer group.Close()

	if err := group.Enable(); err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, fmt.Errorf("orchestrator: enable snapshot group: %w", err)
	}
	if err := handle.Release(); err != nil {
		return nil, err
	}

	res, err := sup.Wait(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := group.Disable(); err != nil {
		return nil, fmt.Errorf("orchestrator: disable snapshot group: %w", err)
	}

	scaled, err := group.ReadScaled()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read snapshot group: %w", err)
	}

	alloc := wire.NewAllocator(cfg.EpochNanos)
	now := wire.Now()

	var out []wire.Event
	for _, sc := range scaled {
		if sc.Dropped {
			continue
		}
		out = append(out, wire.Event{
			UniqueId:    alloc.Next(),
			Type:        eventTypeForCanonical(sc.Descriptor.Canonical),
			ProcessId:   uint32(res.PID),
			TimeEnabled: sc.TimeEnabled,
			TimeRunning: sc.TimeRunning,
			Timestamp:   now,
			Value:       sc.Value,
		})
	}

	out = append(out,
		osUsageEvent(alloc, wire.EventTypeOSUserTime, uint32(res.PID), now, uint64(res.Usage.UserTime)),
		osUsageEvent(alloc, wire.EventTypeOSSystemTime, uint32(res.PID), now, uint64(res.Usage.SystemTime)),
	)

	return &Result{Events: out}, nil
}

func osUsageEvent(alloc *wire.Allocator, t wire.EventType, pid uint32, timestamp uint64, value uint64) wire.Event {
	return wire.Event{
		UniqueId:  alloc.Next(),
		Type:      t,
		ProcessId: pid,
		Timestamp: timestamp,
		Value:     value,
	}
}
