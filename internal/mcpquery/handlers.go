package mcpquery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nanoprof/miniperf/internal/wire"
)

// defaultEventLimit caps session_events when the caller omits limit.
const defaultEventLimit = 500

// handleListSessions lists every recorded session, newest first.
func handleListSessions(idx *SessionIndex) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := idx.List()
		if err != nil {
			return errResult(fmt.Sprintf("list sessions: %v", err)), nil
		}
		jsonData, err := json.MarshalIndent(map[string]interface{}{"sessions": names}, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

// handleSessionSummary reports event counts by type and the distinct
// process/thread ids a session touched.
func handleSessionSummary(idx *SessionIndex) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := getArgs(request)
		dir := stringArg(args, "dir", "")
		if dir == "" {
			return errResult("dir is required"), nil
		}

		events, err := idx.ReadEvents(dir)
		if err != nil {
			return errResult(fmt.Sprintf("read session %q: %v", dir, err)), nil
		}

		counts := map[string]int{}
		pids := map[uint32]bool{}
		tids := map[uint32]bool{}
		for _, ev := range events {
			counts[ev.Type.String()]++
			pids[ev.ProcessId] = true
			tids[ev.ThreadId] = true
		}

		summary := map[string]interface{}{
			"dir":            dir,
			"event_count":    len(events),
			"counts_by_type": counts,
			"process_ids":    sortedKeysU32(pids),
			"thread_ids":     sortedKeysU32(tids),
		}
		jsonData, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

// handleSessionEvents returns the raw events of a session, optionally
// filtered by canonical EventType name and bounded by limit.
func handleSessionEvents(idx *SessionIndex) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := getArgs(request)
		dir := stringArg(args, "dir", "")
		if dir == "" {
			return errResult("dir is required"), nil
		}
		typeFilter := stringArg(args, "type", "")
		limit := intArg(args, "limit", defaultEventLimit)

		events, err := idx.ReadEvents(dir)
		if err != nil {
			return errResult(fmt.Sprintf("read session %q: %v", dir, err)), nil
		}

		var filtered []wire.Event
		for _, ev := range events {
			if typeFilter != "" && ev.Type.String() != typeFilter {
				continue
			}
			filtered = append(filtered, ev)
			if len(filtered) >= limit {
				break
			}
		}

		jsonData, err := json.MarshalIndent(map[string]interface{}{"events": filtered}, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

func sortedKeysU32(m map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// getArgs extracts the tool call's argument map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// intArg extracts a numeric argument (JSON numbers decode as float64)
// with a default value.
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok || f <= 0 {
		return defaultVal
	}
	return int(f)
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true). This is
// returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
