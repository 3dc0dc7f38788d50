package mcpquery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nanoprof/miniperf/internal/wire"
	"github.com/nanoprof/miniperf/internal/writer"
)

func writeSession(t *testing.T, root, name string, events []wire.Event) {
	t.Helper()
	w, err := writer.Open(filepath.Join(root, name))
	if err != nil {
		t.Fatalf("writer.Open: %v", err)
	}
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func toolRequest(argsJSON string) mcp.CallToolRequest {
	var args map[string]interface{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			panic(err)
		}
	}
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestSessionIndexListNewestFirst(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "older", []wire.Event{{Type: wire.EventTypePMUCycles}})
	writeSession(t, root, "newer", []wire.Event{{Type: wire.EventTypePMUCycles}})
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(root, "older"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	idx := NewSessionIndex(root)
	names, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d sessions, want 2", len(names))
	}
	if names[0] != "newer" || names[1] != "older" {
		t.Errorf("got %v, want [newer older]", names)
	}
}

func TestSessionIndexIgnoresDirsWithoutContainer(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "real", []wire.Event{{Type: wire.EventTypePMUCycles}})
	if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	idx := NewSessionIndex(root)
	names, err := idx.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "real" {
		t.Errorf("got %v, want [real]", names)
	}
}

func TestHandleListSessionsReturnsNames(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "sess-a", []wire.Event{{Type: wire.EventTypePMUCycles}})

	idx := NewSessionIndex(root)
	handler := handleListSessions(idx)
	res, err := handler(context.Background(), toolRequest(""))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	var parsed struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Sessions) != 1 || parsed.Sessions[0] != "sess-a" {
		t.Errorf("got sessions %v, want [sess-a]", parsed.Sessions)
	}
}

func TestHandleSessionSummaryCountsByType(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "sess-b", []wire.Event{
		{Type: wire.EventTypePMUCycles, ProcessId: 10, ThreadId: 10},
		{Type: wire.EventTypePMUCycles, ProcessId: 10, ThreadId: 11},
		{Type: wire.EventTypeOSUserTime, ProcessId: 10, ThreadId: 10},
	})

	idx := NewSessionIndex(root)
	handler := handleSessionSummary(idx)
	res, err := handler(context.Background(), toolRequest(`{"dir":"sess-b"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	var parsed struct {
		EventCount   int            `json:"event_count"`
		CountsByType map[string]int `json:"counts_by_type"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.EventCount != 3 {
		t.Errorf("event_count = %d, want 3", parsed.EventCount)
	}
	if parsed.CountsByType[wire.EventTypePMUCycles.String()] != 2 {
		t.Errorf("pmuCycles count = %d, want 2", parsed.CountsByType[wire.EventTypePMUCycles.String()])
	}
}

func TestHandleSessionSummaryMissingDirIsError(t *testing.T) {
	idx := NewSessionIndex(t.TempDir())
	handler := handleSessionSummary(idx)
	res, err := handler(context.Background(), toolRequest(""))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result when dir is missing")
	}
}

func TestHandleSessionEventsFiltersByType(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "sess-c", []wire.Event{
		{Type: wire.EventTypePMUCycles},
		{Type: wire.EventTypeOSUserTime},
		{Type: wire.EventTypePMUCycles},
	})

	idx := NewSessionIndex(root)
	handler := handleSessionEvents(idx)
	res, err := handler(context.Background(), toolRequest(`{"dir":"sess-c","type":"pmuCycles"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	var parsed struct {
		Events []wire.Event `json:"events"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Events) != 2 {
		t.Errorf("got %d events, want 2", len(parsed.Events))
	}
}

func TestHandleSessionEventsRespectsLimit(t *testing.T) {
	root := t.TempDir()
	events := make([]wire.Event, 5)
	for i := range events {
		events[i] = wire.Event{Type: wire.EventTypePMUCycles}
	}
	writeSession(t, root, "sess-d", events)

	idx := NewSessionIndex(root)
	handler := handleSessionEvents(idx)
	res, err := handler(context.Background(), toolRequest(`{"dir":"sess-d","limit":2}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var parsed struct {
		Events []wire.Event `json:"events"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Events) != 2 {
		t.Errorf("got %d events, want 2 (limit)", len(parsed.Events))
	}
}
