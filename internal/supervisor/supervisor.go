// Package supervisor runs the profiled target under a "ptrace-style"
// stop-at-exec discipline (spec.md §4.3): the child blocks in its own
// pre-exec hook on a single-byte pipe read, giving the parent a window
// to open and arm every counter group before the target's first
// instruction runs, without requiring cgo or raw ptrace syscalls.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nanoprof/miniperf/internal/logx"
	"github.com/nanoprof/miniperf/internal/merr"
)

// defaultGracefulShutdownTimeout is how long the supervisor waits after
// SIGTERM before escalating to SIGKILL when GracePeriod is left zero
// (spec.md §4.3).
const defaultGracefulShutdownTimeout = 5 * time.Second

// Usage carries the OS resource accounting the supervisor reaps from the
// child at exit, used to emit the synthetic osXxx events spec.md §4.3
// calls for.
type Usage struct {
	UserTime         time.Duration
	SystemTime       time.Duration
	MaxRSS           int64
	PageFaults       int64
	ContextSwitches  int64
	VoluntaryCtxSw   int64
	InvoluntaryCtxSw int64
}

// Result is what Wait reports once the child has exited.
type Result struct {
	PID      int
	ExitCode int
	Usage    Usage
}

// Supervisor starts a target command gated behind an exec barrier and
// releases it once the caller's counter groups are armed.
type Supervisor struct {
	log         *logx.Logger
	env         *EnvBuilder
	gracePeriod time.Duration
}

// New creates a Supervisor. env carries the IPC socket path and roofline
// instrumentation flag the child process (and, transitively, any
// roofline collector runtime linked into it) needs to see. gracePeriod
// is how long Wait waits after SIGTERM before escalating to SIGKILL; a
// zero value uses defaultGracefulShutdownTimeout (spec.md §4.3: "the
// supervisor's grace period on child shutdown is configurable (default
// 5 s SIGTERM -> SIGKILL)").
func New(log *logx.Logger, env *EnvBuilder, gracePeriod time.Duration) *Supervisor {
	if gracePeriod <= 0 {
		gracePeriod = defaultGracefulShutdownTimeout
	}
	return &Supervisor{log: log, env: env, gracePeriod: gracePeriod}
}

// Handle is a started-but-gated child: exec has not yet run. Release
// must be called to let it proceed, even on the error path, or the child
// leaks blocked on its pipe read forever; calls after the first are no-ops.
type Handle struct {
	cmd      *exec.Cmd
	gateFile *os.File
	released bool
}

// Start forks argv[0] with argv[1:] as arguments, under the gate: the
// child's first action is a blocking read of one byte from an inherited
// pipe fd before calling exec, via the shim installed in
// newExecGateCmd. Start returns once the child process exists but
// before it has executed target code.
func (s *Supervisor) Start(ctx context.Context, argv []string, dir string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("supervisor: empty argv")
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, merr.Wrap(merr.ChildSpawnFailure, fmt.Errorf("exec gate pipe: %w", err))
	}

	cmd, err := newExecGateCmd(argv, dir, s.env.Build(), readEnd)
	if err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, merr.Wrap(merr.ChildSpawnFailure, err)
	}

	if err := cmd.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, merr.Wrap(merr.ChildSpawnFailure, fmt.Errorf("start %s: %w", argv[0], err))
	}
	readEnd.Close() // parent keeps only the write end open

	s.log.Info("supervisor: child spawned gated at exec", "pid", cmd.Process.Pid, "argv0", argv[0])
	return &Handle{cmd: cmd, gateFile: writeEnd}, nil
}

// PID returns the gated child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Release writes the single gate byte that unblocks the child's exec.
// Idempotent: calling it more than once is a no-op.
func (h *Handle) Release() error {
	if h.released {
		return nil
	}
	h.released = true
	_, err := h.gateFile.Write([]byte{0})
	h.gateFile.Close()
	if err != nil {
		return fmt.Errorf("supervisor: release exec gate: %w", err)
	}
	return nil
}

// Wait blocks until the child exits, propagating signals from ctx
// cancellation per spec.md §4.3's SIGINT -> SIGTERM -> SIGKILL sequence,
// and returns the reaped exit status and resource usage.
func (s *Supervisor) Wait(ctx context.Context, h *Handle) (*Result, error) {
	if !h.released {
		if err := h.Release(); err != nil {
			return nil, err
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	pid := h.cmd.Process.Pid
	select {
	case waitErr := <-done:
		return s.reap(h, waitErr)
	case <-ctx.Done():
		s.log.Info("supervisor: context cancelled, signaling child", "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		select {
		case waitErr := <-done:
			return s.reap(h, waitErr)
		case <-time.After(s.gracePeriod):
			s.log.Warn("supervisor: grace period expired, killing child", "pid", pid)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			waitErr := <-done
			return s.reap(h, waitErr)
		}
	}
}

func (s *Supervisor) reap(h *Handle, waitErr error) (*Result, error) {
	res := &Result{PID: h.cmd.Process.Pid}
	if h.cmd.ProcessState != nil {
		res.ExitCode = h.cmd.ProcessState.ExitCode()
		res.Usage = usageFromProcessState(h.cmd.ProcessState)
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			return res, nil
		}
		return res, fmt.Errorf("supervisor: wait: %w", waitErr)
	}
	return res, nil
}

func usageFromProcessState(state *os.ProcessState) Usage {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return Usage{}
	}
	return Usage{
		UserTime:         time.Duration(ru.Utime.Nano()),
		SystemTime:       time.Duration(ru.Stime.Nano()),
		MaxRSS:           int64(ru.Maxrss),
		PageFaults:       int64(ru.Minflt) + int64(ru.Majflt),
		VoluntaryCtxSw:   int64(ru.Nvcsw),
		InvoluntaryCtxSw: int64(ru.Nivcsw),
		ContextSwitches:  int64(ru.Nvcsw) + int64(ru.Nivcsw),
	}
}
