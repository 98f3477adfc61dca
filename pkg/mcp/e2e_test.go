package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/pkg/schema"
)

// rpc sends one JSON-RPC message through HandleMessage and returns the raw
// response.
func (ts *testServer) rpc(t *testing.T, id int, method string, params map[string]any) []byte {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp := ts.MCPServer().HandleMessage(context.Background(), msg)
	require.NotNil(t, resp)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return out
}

func (ts *testServer) initialize(t *testing.T) {
	t.Helper()
	ts.rpc(t, 0, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "e2e-test", "version": "1.0.0"},
	})
}

// callTool runs a tools/call round trip and decodes the tool result.
func (ts *testServer) callTool(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw := ts.rpc(t, 1, "tools/call", map[string]any{"name": name, "arguments": args})

	var resp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", resp.Error.Code, resp.Error.Message)
	}
	require.NotNil(t, resp.Result)
	return resp.Result
}

func assertStructuredIsObject(t *testing.T, result *mcp.CallToolResult) {
	t.Helper()
	require.NotNil(t, result.StructuredContent, "structuredContent should be present")
	b, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	assert.True(t, len(b) > 0 && b[0] == '{', "structuredContent must be an object, got: %s", string(b[:min(len(b), 20)]))
}

func TestToolsListViaJSONRPC(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)

	raw := ts.rpc(t, 1, "tools/list", map[string]any{})
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"flowmap.analyze", "flowmap.define", "flowmap.diagram", "flowmap.item",
		"flowmap.link", "flowmap.query", "flowmap.schedule", "flowmap.transition",
	}, names)
}

// TestMCPFullLifecycle drives a map from definition to completion over
// JSON-RPC and checks the event log replays to the same end state.
func TestMCPFullLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)

	result := ts.callTool(t, "flowmap.define", map[string]any{"map": launchDoc(), "agent_id": "planner"})
	require.False(t, result.IsError, extractText(t, result))
	assertStructuredIsObject(t, result)

	var sum summary
	unmarshalResult(t, result, &sum)
	assert.Equal(t, []string{"kickoff"}, sum.Ready)

	result = ts.callTool(t, "flowmap.link", map[string]any{
		"map_id": "launch", "source": "design", "target": "build", "kind": "REQUIRES", "agent_id": "planner",
	})
	unmarshalResult(t, result, &sum)
	assert.Equal(t, "BLOCKED", sum.Statuses["build"])

	for _, id := range []string{"kickoff", "design", "build", "release"} {
		result = ts.callTool(t, "flowmap.transition", map[string]any{
			"map_id": "launch", "item_id": id, "action": "start", "agent_id": "planner",
		})
		require.False(t, result.IsError, "start %s: %s", id, extractText(t, result))
		result = ts.callTool(t, "flowmap.transition", map[string]any{
			"map_id": "launch", "item_id": id, "action": "complete", "agent_id": "planner",
		})
		require.False(t, result.IsError, "complete %s: %s", id, extractText(t, result))
	}
	unmarshalResult(t, result, &sum)
	for id, status := range sum.Statuses {
		assert.Equal(t, "COMPLETED", status, id)
	}

	result = ts.callTool(t, "flowmap.analyze", map[string]any{"map_id": "launch", "jq": ".critical_path.path"})
	var analysis struct {
		Query []string `json:"query"`
	}
	unmarshalResult(t, result, &analysis)
	assert.Equal(t, []string{"kickoff", "design", "build", "release"}, analysis.Query)

	result = ts.callTool(t, "flowmap.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"event_type": schema.EventItemCompleted, "map_id": "launch"},
	})
	var events struct {
		Events []struct {
			ItemID  string `json:"item_id"`
			AgentID string `json:"agent_id"`
		} `json:"events"`
	}
	unmarshalResult(t, result, &events)
	require.Len(t, events.Events, 4)
	for _, e := range events.Events {
		assert.Equal(t, "planner", e.AgentID)
	}

	history, err := ts.ws.History(context.Background(), "launch")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for id, h := range history {
		assert.Equal(t, schema.ItemStatusCompleted, h.Status, id)
	}
}

func TestMCPRefusedCompletionIsToolError(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t)
	ts.callTool(t, "flowmap.define", map[string]any{"map": launchDoc(), "agent_id": "planner"})

	result := ts.callTool(t, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "release", "action": "complete", "agent_id": "planner",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "Design, Build")

	result = ts.callTool(t, "flowmap.query", map[string]any{"resource": "tasks"})
	assert.True(t, result.IsError)
}
