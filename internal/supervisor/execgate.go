package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// GateFlag is the hidden argv[1] marker the supervisor re-execs
// itself with to act as the exec gate shim: `<self> GateFlag <target>
// <target-args...>`, with the gate pipe's read end on fd 3.
// cmd/miniperf's main must check for this
// as its very first action and dispatch to RunGate instead of the
// normal CLI, since by the time RunGate returns the process image has
// been replaced by the target binary.
const GateFlag = "--miniperf-exec-gate"

// newExecGateCmd builds the *exec.Cmd for the gate shim: re-executing
// the supervisor's own binary with GateFlag, the real target appended,
// and the gate pipe's read end passed as an inherited fd. Setpgid
// isolates the child (and whatever it execs into) into its own process
// group so a SIGTERM/SIGKILL reaches any children it spawns too.
func newExecGateCmd(argv []string, dir string, env []string, readEnd *os.File) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}

	gateArgv := append([]string{GateFlag}, argv...)
	cmd := exec.Command(self, gateArgv...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{readEnd}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// RunGate is the body of the re-exec'd gate shim: it blocks reading one
// byte from the inherited gate fd (always fd 3, the first ExtraFiles
// entry), then replaces its own process image with the real target via
// execve, so the target's first user instruction runs only after the
// parent has released the gate. It never returns on success: a
// successful syscall.Exec does not come back into Go code.
func RunGate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("supervisor: exec gate requires a target command")
	}

	gate := os.NewFile(3, "<exec-gate>")
	var b [1]byte
	if _, err := gate.Read(b[:]); err != nil {
		return fmt.Errorf("supervisor: exec gate read: %w", err)
	}
	gate.Close()

	target, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("supervisor: resolve target %q: %w", args[0], err)
	}
	return syscall.Exec(target, args, os.Environ())
}
