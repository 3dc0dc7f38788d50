//go:build linux

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nanoprof/miniperf/internal/events"
	"github.com/nanoprof/miniperf/internal/ipc"
	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/perfgroup"
	"github.com/nanoprof/miniperf/internal/sampling"
	"github.com/nanoprof/miniperf/internal/supervisor"
	"github.com/nanoprof/miniperf/internal/wire"
)

// Roofline implements the `roofline` scenario (spec.md §4.8): two
// passes over the same command, merged by correlation_id.
//
//   - Pass 1: a PMU sampling group on the platform's preferred sampling
//     leader, child run with MINIPERF_ROOFLINE_INSTRUMENTED=0; the
//     sampling pipeline produces PMU events with callstacks.
//   - Pass 2: no PMU sampling; MINIPERF_ROOFLINE_INSTRUMENTED=1; the
//     collector runtime linked into the child emits loop events over
//     IPC.
type Roofline struct {
	cfg Config
}

// Run executes both passes in sequence and concatenates their events.
// If pass 1 fails, pass 2 never starts (spec.md §7: an ipc_disconnect or
// other fatal error "does not start subsequent passes"). If pass 2
// fails, pass 1's events are still returned alongside the error so a
// caller (cmd/miniperf's `record`) can flush a partial, valid container
// and still report a non-zero exit code (spec.md §8 scenario 6).
func (r *Roofline) Run(ctx context.Context) (*Result, error) {
	pass1, err := r.runSamplingPass(ctx)
	if err != nil {
		return nil, err
	}

	pass2, err := r.runInstrumentedPass(ctx)
	out := append(append([]wire.Event(nil), pass1...), pass2...)
	if err != nil {
		return &Result{Events: out}, err
	}
	return &Result{Events: out}, nil
}

// runSamplingPass is pass 1: open a sampling group on the preferred
// leader event and drain it through the sampling pipeline while the
// uninstrumented child runs.
func (r *Roofline) runSamplingPass(ctx context.Context) ([]wire.Event, error) {
	cfg := r.cfg

	leaderName := events.PreferredSamplingLeader(cfg.Profile)
	desc, err := events.Resolve(cfg.Profile, leaderName)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: roofline pass 1 leader: %w", err)
	}
	leader := perfgroup.Descriptor{Descriptor: desc, Sampling: true, SamplePeriod: cfg.samplePeriod()}

	env := &supervisor.EnvBuilder{IPCSocketPath: cfg.IPCSocketPath, RooflineInstrumented: false}
	sup := supervisor.New(cfg.Log, env, cfg.GracePeriod)

	handle, err := sup.Start(ctx, cfg.Argv, "")
	if err != nil {
		return nil, err
	}

	group, err := perfgroup.Open(perfgroup.AttachPID(handle.PID(), true), []perfgroup.Descriptor{leader}, cfg.bufferPages())
	if err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, err
	}
	defer group.Close()

	alloc := wire.NewAllocator(cfg.EpochNanos)
	evType := eventTypeForCanonical(desc.Canonical)
	pipeline, err := sampling.New(cfg.Log, alloc, []*perfgroup.Group{group}, []int{0}, evType)
	if err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, err
	}

	pipeCtx, cancelPipe := context.WithCancel(ctx)
	defer cancelPipe()
	eventCh, lost, err := pipeline.Run(pipeCtx)
	if err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, err
	}

	if err := group.Enable(); err != nil {
		_ = handle.Release()
		_, _ = sup.Wait(ctx, handle)
		return nil, fmt.Errorf("orchestrator: enable roofline sampling group: %w", err)
	}
	if err := handle.Release(); err != nil {
		return nil, err
	}

	res, waitErr := sup.Wait(ctx, handle)
	_ = group.Disable()
	cancelPipe() // let the pipeline flush to quiescence (spec.md §5)

	var out []wire.Event
	for ev := range eventCh {
		out = append(out, ev)
	}
	if lost.Total > 0 {
		out = append(out, lost.FinalEvent(alloc, wire.Now()))
	}
	if waitErr != nil {
		return out, waitErr
	}

	applySymbolizer(out, cfg.Symbolizer)
	for i := range out {
		out[i].ProcessId = uint32(res.PID)
	}
	return out, nil
}

// runInstrumentedPass is pass 2: listen for the collector runtime's IPC
// connection, run the child with MINIPERF_ROOFLINE_INSTRUMENTED=1, and
// collect every event it posts until the connection closes.
func (r *Roofline) runInstrumentedPass(ctx context.Context) ([]wire.Event, error) {
	cfg := r.cfg

	server, err := ipc.Listen(cfg.IPCSocketPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: roofline ipc listen: %w", err)
	}
	defer server.Close()

	env := &supervisor.EnvBuilder{IPCSocketPath: cfg.IPCSocketPath, RooflineInstrumented: true}
	sup := supervisor.New(cfg.Log, env, cfg.GracePeriod)

	handle, err := sup.Start(ctx, cfg.Argv, "")
	if err != nil {
		return nil, err
	}
	if err := handle.Release(); err != nil {
		return nil, err
	}

	if err := server.Accept(); err != nil {
		_, _ = sup.Wait(ctx, handle)
		return nil, merr.Wrap(merr.IPCDisconnect, err)
	}

	var mu sync.Mutex
	var out []wire.Event
	postDone := make(chan error, 1)
	go func() {
		postDone <- server.Post(func(msg wire.IpcMessage) {
			if msg.Kind != wire.IpcKindEvent {
				return
			}
			mu.Lock()
			out = append(out, msg.Event)
			mu.Unlock()
		})
	}()

	waitDone := make(chan error, 1)
	go func() {
		_, err := sup.Wait(ctx, handle)
		waitDone <- err
	}()

	postErr := <-postDone
	waitErr := <-waitDone

	mu.Lock()
	collected := append([]wire.Event(nil), out...)
	mu.Unlock()

	if waitErr != nil {
		return collected, waitErr
	}
	// io.EOF is the collector runtime closing its socket as the child
	// exits; anything else is the "collector socket closed mid-pass"
	// failure spec.md §7/§8 scenario 6 names.
	if postErr != nil && !errors.Is(postErr, io.EOF) {
		return collected, merr.Wrap(merr.IPCDisconnect, postErr)
	}
	return collected, nil
}
