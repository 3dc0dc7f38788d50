package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nanoprof/miniperf/internal/wire"
)

func TestServerClientRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "miniperf-test.sock")

	srv, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- srv.Accept() }()

	cli, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept: %v", err)
	}

	alloc := wire.NewAllocator(1)
	want := wire.IpcMessage{Kind: wire.IpcKindString, String: wire.IpcString{Key: 7, Value: "loop.cpp"}}
	if err := cli.Post(want); err != nil {
		t.Fatalf("Post: %v", err)
	}

	wantEvent := wire.IpcMessage{Kind: wire.IpcKindEvent, Event: wire.Event{UniqueId: alloc.Next(), Type: wire.EventTypeRooflineLoopStart}}
	if err := cli.Post(wantEvent); err != nil {
		t.Fatalf("Post event: %v", err)
	}

	received := make(chan wire.IpcMessage, 2)
	postErr := make(chan error, 1)
	go func() {
		postErr <- srv.Post(func(msg wire.IpcMessage) {
			received <- msg
			if len(received) == 2 {
				cli.Close()
			}
		})
	}()

	timeout := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if i == 0 && msg.Kind != wire.IpcKindString {
				t.Errorf("first message kind = %v, want IpcKindString", msg.Kind)
			}
			if i == 1 && msg.Kind != wire.IpcKindEvent {
				t.Errorf("second message kind = %v, want IpcKindEvent", msg.Kind)
			}
		case <-timeout:
			t.Fatal("timed out waiting for posted messages")
		}
	}

	if v, ok := srv.Interner().Get(7); !ok || v != "loop.cpp" {
		t.Errorf("Interner().Get(7) = %q, %v, want loop.cpp, true", v, ok)
	}
}

func TestInternerPutGet(t *testing.T) {
	in := NewInterner()
	if _, ok := in.Get(1); ok {
		t.Error("Get on empty interner should miss")
	}
	in.Put(1, "main.cpp")
	v, ok := in.Get(1)
	if !ok || v != "main.cpp" {
		t.Errorf("Get(1) = %q, %v, want main.cpp, true", v, ok)
	}
	if in.Len() != 1 {
		t.Errorf("Len() = %d, want 1", in.Len())
	}
}

func TestInternerOverwrite(t *testing.T) {
	in := NewInterner()
	in.Put(5, "a.cpp")
	in.Put(5, "b.cpp")
	v, _ := in.Get(5)
	if v != "b.cpp" {
		t.Errorf("Get(5) = %q after overwrite, want b.cpp", v)
	}
}
