package roofline

import (
	"sync"

	"github.com/nanoprof/miniperf/internal/wire"
)

// This file specifies the four compiler-pass entry points (spec.md
// §4.5) with the C calling-convention shape the real shared library
// would export (`-buildmode=c-shared`): scalar, cgo-friendly argument
// types, no Go-specific types crossing the ABI boundary. The real
// deliverable exports these as C symbols; here they are ordinary
// exported Go functions over a single package-level Runtime instance,
// letting cmd/roofline-demo and internal/roofline/harness call them
// exactly as the compiler-generated dispatch shim would.

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
)

// InstallRuntime sets the process-wide Runtime the ABI functions below
// dispatch to. Call once per pass, before the target's instrumented code
// runs.
func InstallRuntime(rt *Runtime) {
	defaultMu.Lock()
	defaultRuntime = rt
	defaultMu.Unlock()
}

func current() *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRuntime
}

// NotifyLoopBegin is the ABI entry point `notify_loop_begin(info*) ->
// handle`. threadID stands in for the C runtime's native thread id
// (pthread_self()); Go callers use a goroutine-scoped id instead, since
// real goroutines don't have a single OS thread identity.
func NotifyLoopBegin(threadID uint64, line uint32, fileName, functionName string, nowNs uint64) Handle {
	return current().NotifyLoopBegin(threadID, LoopInfo{Line: line, FileName: fileName, FunctionName: functionName}, nowNs)
}

// NotifyLoopStats is the ABI entry point `notify_loop_stats(handle,
// stats*)`.
func NotifyLoopStats(threadID uint64, handle Handle, stats LoopStats) error {
	return current().NotifyLoopStats(threadID, handle, stats)
}

// NotifyLoopEnd is the ABI entry point `notify_loop_end(handle)`. It
// returns the events emitted as a side effect (loop_end plus any
// non-zero stat events), which real callers ignore — the runtime has
// already posted them over IPC — but which tests and
// internal/roofline/harness use to assert on.
func NotifyLoopEnd(threadID uint64, handle Handle, nowNs uint64) ([]wire.Event, error) {
	return current().NotifyLoopEnd(threadID, handle, nowNs)
}

// IsInstrumentedProfiling is the ABI entry point
// `is_instrumented_profiling() -> bool`, consulted by the
// pass-generated dispatch shim to choose the instrumented clone.
func IsInstrumentedProfiling() bool {
	rt := current()
	if rt == nil {
		return false
	}
	return rt.IsInstrumentedProfiling()
}
