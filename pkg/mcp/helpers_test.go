package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/internal/scheduler"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/streaming"
	"github.com/rendis/flowmap/internal/workspace"
)

// recordingNotifier captures notifications instead of pushing them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

type notification struct {
	AgentID string
	Payload map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{AgentID: agentID, Payload: payload})
	return nil
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type testServer struct {
	*FlowmapServer
	store    *store.LibSQLStore
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "flowmap.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws, err := workspace.New(workspace.Deps{
		Store:    st,
		EventLog: store.NewEventLog(st),
		Logger:   logger,
		Hub:      streaming.NewMemoryHub(),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	s := NewFlowmapServer(FlowmapServerDeps{
		Workspace: ws,
		Store:     st,
		Scheduler: scheduler.NewScheduler(st, ws, logger),
		Notifier:  notifier,
		Logger:    logger,
	})
	return &testServer{FlowmapServer: s, store: st, notifier: notifier}
}

// launchDoc is a map where kickoff fans out to design and build, which join
// on release.
func launchDoc() map[string]any {
	return map[string]any{
		"id":   "launch",
		"name": "Launch",
		"items": []any{
			map[string]any{"id": "kickoff", "label": "Kickoff", "type": "TRIGGER", "duration": "1h", "department": "pm"},
			map[string]any{"id": "design", "label": "Design", "type": "ACTION", "duration": "2h", "department": "ux"},
			map[string]any{"id": "build", "label": "Build", "type": "ACTION", "duration": "1d", "department": "eng"},
			map[string]any{"id": "release", "label": "Release", "type": "ARTIFACT", "duration": "30m", "department": "eng"},
		},
		"relationships": []any{
			map[string]any{"id": "r1", "source": "kickoff", "target": "design"},
			map[string]any{"id": "r2", "source": "kickoff", "target": "build"},
			map[string]any{"id": "r3", "source": "design", "target": "release"},
			map[string]any{"id": "r4", "source": "build", "target": "release"},
		},
	}
}

func (ts *testServer) defineLaunch(t *testing.T, agentID string) {
	t.Helper()
	result, err := ts.handleDefine(context.Background(), buildRequest("flowmap.define", map[string]any{
		"map":      launchDoc(),
		"agent_id": agentID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, extractText(t, result))
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
