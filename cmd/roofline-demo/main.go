// roofline-demo stands in for a compiler pass's generated dispatch
// code: it drives the roofline collector runtime's ABI directly against
// a toy loop, posting events over a real IPC connection, so the runtime
// can be exercised end to end without an actual instrumenting compiler.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nanoprof/miniperf/internal/ipc"
	"github.com/nanoprof/miniperf/internal/roofline"
	"github.com/nanoprof/miniperf/internal/roofline/harness"
	"github.com/nanoprof/miniperf/internal/wire"
)

func main() {
	var (
		socketPath   = flag.String("socket", os.Getenv("MINIPERF_IPC_SOCKET"), "IPC socket path (defaults to MINIPERF_IPC_SOCKET)")
		iterations   = flag.Int("iterations", 4, "simulated loop iterations")
		instrumented = flag.Bool("instrumented", os.Getenv("MINIPERF_ROOFLINE_INSTRUMENTED") == "1", "emit per-iteration stats, as pass 2 would")
	)
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintln(os.Stderr, "roofline-demo: no IPC socket given (set -socket or MINIPERF_IPC_SOCKET)")
		os.Exit(1)
	}

	client, err := ipc.Dial(*socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roofline-demo: dial: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	sink := &clientSink{client: client}
	rt := roofline.NewRuntime(sink, wire.NewAllocator(time.Now().UnixNano()), *instrumented)
	// Close drains the runtime's batching buffer and sender goroutine so
	// every event reaches the IPC socket before the process exits.
	defer rt.Close()

	loop := harness.Loop{
		Info: roofline.LoopInfo{Line: 42, FileName: "demo.cpp", FunctionName: "saxpy"},
	}
	for i := 0; i < *iterations; i++ {
		loop.Iterations = append(loop.Iterations, roofline.LoopStats{
			TripCount:      1,
			BytesLoad:      32,
			BytesStore:     16,
			ScalarFloatOps: 4,
		})
	}

	events, err := harness.Run(rt, 1, loop, func() uint64 { return wire.Now() })
	if err != nil {
		fmt.Fprintf(os.Stderr, "roofline-demo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("roofline-demo: posted %d events over %s\n", len(events)+1, *socketPath)
}

// clientSink adapts an ipc.Client to the roofline.Sink interface the
// runtime emits through.
type clientSink struct {
	client *ipc.Client
}

func (s *clientSink) Emit(ev wire.Event) {
	if err := s.client.Post(wire.IpcMessage{Kind: wire.IpcKindEvent, Event: ev}); err != nil {
		fmt.Fprintf(os.Stderr, "roofline-demo: post event: %v\n", err)
	}
}

func (s *clientSink) InternString(key uint64, value string) {
	msg := wire.IpcMessage{Kind: wire.IpcKindString, String: wire.IpcString{Key: key, Value: value}}
	if err := s.client.Post(msg); err != nil {
		fmt.Fprintf(os.Stderr, "roofline-demo: post string: %v\n", err)
	}
}
