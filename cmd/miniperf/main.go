//go:build linux

// miniperf is the CLI driver for the profiler CORE: `stat`, `record`,
// and `show` (spec.md §6.3). Flag parsing and command dispatch live
// here; the child process supervisor, the on-disk container writer, the
// sampling pipeline, the counter registry, and the roofline runtime live
// in internal/.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanoprof/miniperf/internal/logx"
	"github.com/nanoprof/miniperf/internal/mcpquery"
	"github.com/nanoprof/miniperf/internal/merr"
	"github.com/nanoprof/miniperf/internal/orchestrator"
	"github.com/nanoprof/miniperf/internal/platform"
	"github.com/nanoprof/miniperf/internal/supervisor"
	"github.com/nanoprof/miniperf/internal/writer"
)

var version = "0.1.0"

func main() {
	// The supervisor re-execs this very binary with a hidden flag to
	// act as the exec-gate shim (internal/supervisor/execgate.go); that
	// re-exec must be intercepted before cobra ever sees argv.
	if len(os.Args) > 1 && os.Args[1] == supervisor.GateFlag {
		if err := supervisor.RunGate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "miniperf: exec gate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(merr.ExitCode(merr.KindOf(err)))
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:     "miniperf",
		Short:   "Sampling profiler CORE for native applications on Linux",
		Version: version,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable info-level logging (errors are always logged)")

	root.AddCommand(newStatCmd(&verbose), newRecordCmd(&verbose), newShowCmd(), newMCPCmd())
	return root
}

// newStatCmd implements `stat -- <cmd ...>` (spec.md §6.3): run the
// snapshot scenario and print a human-readable summary, discarding no
// container — stat never writes one.
func newStatCmd(verbose *bool) *cobra.Command {
	var (
		profileName string
		gracePeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stat -- <cmd> [args...]",
		Short: "Run a command and print one-shot counter totals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logx.New("stat", *verbose)
			prof, err := resolveProfile(profileName)
			if err != nil {
				return err
			}

			cfg := orchestrator.Config{
				Argv:        args,
				Profile:     prof,
				Log:         log,
				EpochNanos:  time.Now().UnixNano(),
				GracePeriod: gracePeriod,
			}
			scenario, err := orchestrator.New("snapshot", cfg)
			if err != nil {
				return err
			}

			res, err := scenario.Run(cmd.Context())
			if err != nil {
				return err
			}
			for _, ev := range res.Events {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s pid=%-8d value=%d time_running=%dns\n",
					ev.Type, ev.ProcessId, ev.Value, ev.TimeRunning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileName, "profile", "auto", "platform profile family_id, or \"auto\" to detect")
	cmd.Flags().DurationVar(&gracePeriod, "grace-period", 0, "child shutdown grace period before SIGKILL (default 5s)")
	return cmd
}

// newRecordCmd implements `record -s <scenario> -o <dir> -- <cmd ...>`
// (spec.md §6.3): run a scenario and persist its events into dir.
func newRecordCmd(verbose *bool) *cobra.Command {
	var (
		scenarioName string
		outDir       string
		profileName  string
		socketPath   string
		gracePeriod  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record -s <scenario> -o <dir> -- <cmd> [args...]",
		Short: "Run a command under a scenario and persist its events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				return fmt.Errorf("record: -o/--output is required")
			}
			log := logx.New("record", *verbose)
			prof, err := resolveProfile(profileName)
			if err != nil {
				return err
			}

			if socketPath == "" {
				socketPath = defaultIPCSocketPath(outDir)
			}
			cfg := orchestrator.Config{
				Argv:          args,
				Dir:           outDir,
				Profile:       prof,
				Log:           log,
				IPCSocketPath: socketPath,
				EpochNanos:    time.Now().UnixNano(),
				GracePeriod:   gracePeriod,
			}
			scenario, err := orchestrator.New(scenarioName, cfg)
			if err != nil {
				return err
			}

			res, runErr := scenario.Run(cmd.Context())

			w, openErr := writer.Open(outDir)
			if openErr != nil {
				return openErr
			}
			if res != nil {
				for _, ev := range res.Events {
					if err := w.WriteEvent(ev); err != nil {
						_ = w.Close()
						return err
					}
				}
			}
			if err := w.Close(); err != nil {
				return err
			}

			// A scenario error still produced a valid, flushed container
			// above (spec.md §8 scenario 6); surface the error for the
			// exit code after the container is durable on disk.
			return runErr
		},
	}
	cmd.Flags().StringVarP(&scenarioName, "scenario", "s", "snapshot", "scenario: snapshot or roofline")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "output directory for the recorded session")
	cmd.Flags().StringVar(&profileName, "profile", "auto", "platform profile family_id, or \"auto\" to detect")
	cmd.Flags().StringVar(&socketPath, "ipc-socket", "", "roofline IPC socket path (defaults to <dir>/roofline.sock)")
	cmd.Flags().DurationVar(&gracePeriod, "grace-period", 0, "child shutdown grace period before SIGKILL (default 5s)")
	return cmd
}

// newShowCmd implements `show <dir>` (spec.md §6.3): a read-only replay
// of a recorded session's container.
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dir>",
		Short: "Print the events recorded in a session directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := writer.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			for {
				ev, err := r.Next()
				if err != nil {
					break
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s pid=%-8d tid=%-8d value=%d ip=%#x\n",
					ev.Type, ev.ProcessId, ev.ThreadId, ev.Value, ev.IP)
			}
			return nil
		},
	}
}

// newMCPCmd starts the read-only MCP stdio tool server over a root of
// recorded sessions (SPEC_FULL.md §6 "added").
func newMCPCmd() *cobra.Command {
	var sessionsDir string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve recorded sessions over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mcpquery.NewServer(version, sessionsDir)
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", ".", "root directory to scan for recorded sessions")
	return cmd
}

// resolveProfile loads the built-in platform catalog and picks a
// profile either by explicit family_id or, for "auto", by matching the
// running process's GOARCH against the catalog's generic profiles
// (spec.md §4.1: profiles are consumed from a declarative catalog).
func resolveProfile(name string) (*platform.Profile, error) {
	cat, err := platform.LoadCatalog(nil)
	if err != nil {
		return nil, fmt.Errorf("miniperf: load platform catalog: %w", err)
	}
	if name != "" && name != "auto" {
		p, ok := cat.ByFamily(name)
		if !ok {
			return nil, fmt.Errorf("miniperf: unknown platform profile %q (available: %v)", name, cat.FamilyIDs())
		}
		return p, nil
	}

	arch := goarchToProfileArch(runtime.GOARCH)
	p, ok := cat.ByVendorArch("generic", arch)
	if !ok {
		return nil, fmt.Errorf("miniperf: no generic platform profile for arch %q; pass --profile explicitly (available: %v)", arch, cat.FamilyIDs())
	}
	return p, nil
}

func goarchToProfileArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "riscv64":
		return "riscv64"
	default:
		return goarch
	}
}

func defaultIPCSocketPath(dir string) string {
	return dir + "/roofline.sock"
}
