package mcp

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

type summary struct {
	MapID     string            `json:"map_id"`
	Version   int64             `json:"version"`
	Statuses  map[string]string `json:"statuses"`
	Ready     []string          `json:"ready"`
	Unblocked []string          `json:"unblocked"`
}

func call(t *testing.T, handler server.ToolHandlerFunc, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), buildRequest(tool, args))
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// --- define ---

func TestDefineTool(t *testing.T) {
	ts := newTestServer(t)

	result := call(t, ts.handleDefine, "flowmap.define", map[string]any{
		"map":      launchDoc(),
		"agent_id": "planner",
	})

	var got summary
	unmarshalResult(t, result, &got)
	assert.Equal(t, "launch", got.MapID)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []string{"kickoff"}, got.Ready)
	assert.Equal(t, "BLOCKED", got.Statuses["release"])

	agent, err := ts.store.GetAgent(context.Background(), "planner")
	require.NoError(t, err)
	assert.Equal(t, "llm", agent.Type)

	m, err := ts.ws.Get(context.Background(), "launch")
	require.NoError(t, err)
	assert.Equal(t, "planner", m.AgentID)
}

func TestDefineToolMissingParams(t *testing.T) {
	ts := newTestServer(t)

	result := call(t, ts.handleDefine, "flowmap.define", map[string]any{"map": launchDoc()})
	assert.True(t, result.IsError)

	result = call(t, ts.handleDefine, "flowmap.define", map[string]any{"agent_id": "planner"})
	assert.True(t, result.IsError)
}

func TestDefineToolRejectsCycle(t *testing.T) {
	ts := newTestServer(t)

	doc := launchDoc()
	doc["relationships"] = append(doc["relationships"].([]any),
		map[string]any{"id": "r5", "source": "release", "target": "kickoff"})

	result := call(t, ts.handleDefine, "flowmap.define", map[string]any{"map": doc, "agent_id": "planner"})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeCycleDetected)
}

// --- item ---

func TestItemTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleItem, "flowmap.item", map[string]any{
		"map_id": "launch",
		"action": "add",
		"item":   map[string]any{"id": "retro", "label": "Retro", "duration": "1h"},
	})
	var got summary
	unmarshalResult(t, result, &got)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "READY", got.Statuses["retro"])

	result = call(t, ts.handleItem, "flowmap.item", map[string]any{
		"map_id":  "launch",
		"action":  "remove",
		"item_id": "kickoff",
	})
	got = summary{}
	unmarshalResult(t, result, &got)
	assert.NotContains(t, got.Statuses, "kickoff")
	assert.ElementsMatch(t, []string{"design", "build", "retro"}, got.Ready)
}

func TestItemToolErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing action", map[string]any{"map_id": "launch"}},
		{"add without item", map[string]any{"map_id": "launch", "action": "add"}},
		{"remove without id", map[string]any{"map_id": "launch", "action": "remove"}},
		{"remove unknown", map[string]any{"map_id": "launch", "action": "remove", "item_id": "ghost"}},
		{"duplicate id", map[string]any{"map_id": "launch", "action": "add", "item": map[string]any{"id": "build", "type": "ACTION"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := call(t, ts.handleItem, "flowmap.item", tc.args)
			assert.True(t, result.IsError)
		})
	}
}

// --- link ---

func TestLinkTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleLink, "flowmap.link", map[string]any{
		"map_id": "launch",
		"source": "design",
		"target": "build",
		"kind":   "REQUIRES",
	})
	var got summary
	unmarshalResult(t, result, &got)
	assert.Equal(t, int64(2), got.Version)

	m, err := ts.ws.Get(context.Background(), "launch")
	require.NoError(t, err)
	require.Len(t, m.Relationships, 5)
	assert.Equal(t, schema.RelRequires, m.Relationships[4].Kind)

	result = call(t, ts.handleLink, "flowmap.link", map[string]any{
		"map_id":          "launch",
		"action":          "unlink",
		"relationship_id": m.Relationships[4].ID,
	})
	got = summary{}
	unmarshalResult(t, result, &got)
	assert.Equal(t, int64(3), got.Version)
}

func TestLinkToolRejectsCycle(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleLink, "flowmap.link", map[string]any{
		"map_id": "launch",
		"source": "release",
		"target": "kickoff",
	})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeCycleDetected)
}

func TestLinkToolMissingParams(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleLink, "flowmap.link", map[string]any{"map_id": "launch", "source": "design"})
	assert.True(t, result.IsError)

	result = call(t, ts.handleLink, "flowmap.link", map[string]any{"map_id": "launch", "action": "unlink"})
	assert.True(t, result.IsError)
}

// --- transition ---

func TestTransitionTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "kickoff", "action": "start", "agent_id": "planner",
	})
	var got summary
	unmarshalResult(t, result, &got)
	assert.Equal(t, "IN_PROGRESS", got.Statuses["kickoff"])

	result = call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "kickoff", "action": "complete", "agent_id": "planner",
	})
	got = summary{}
	unmarshalResult(t, result, &got)
	assert.Equal(t, "COMPLETED", got.Statuses["kickoff"])
	assert.ElementsMatch(t, []string{"design", "build"}, got.Unblocked)
	assert.Empty(t, ts.notifier.all(), "the owner completed it")
}

func TestTransitionToolListsBlockingLabels(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "release", "action": "complete",
	})
	require.True(t, result.IsError)
	text := extractText(t, result)
	assert.Contains(t, text, "Release")
	assert.Contains(t, text, "Design, Build")
}

func TestTransitionToolInvalidStart(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "build", "action": "start",
	})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeInvalidTransition)
}

func TestTransitionToolNotifiesOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "kickoff", "action": "complete", "agent_id": "worker",
	})
	require.False(t, result.IsError, extractText(t, result))

	sent := ts.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "planner", sent[0].AgentID)
	assert.Equal(t, "launch", sent[0].Payload["map_id"])
	assert.Equal(t, "worker", sent[0].Payload["completed_by"])
	assert.ElementsMatch(t, []string{"design", "build"}, sent[0].Payload["item_ids"])

	events, err := ts.ws.EventsByType(context.Background(), schema.EventItemCompleted, store.EventFilter{MapID: "launch"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "worker", events[0].AgentID)
}

func TestTransitionToolNotifiesCollaborators(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleLink, "flowmap.link", map[string]any{
		"map_id": "launch", "source": "design", "target": "build", "agent_id": "reviewer",
	})
	require.False(t, result.IsError, extractText(t, result))

	result = call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "kickoff", "action": "complete", "agent_id": "worker",
	})
	require.False(t, result.IsError, extractText(t, result))

	sent := ts.notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "planner", sent[0].AgentID)
	assert.Equal(t, "reviewer", sent[1].AgentID)
	assert.Equal(t, []string{"design"}, sent[1].Payload["item_ids"])
}

func TestTransitionToolUnknownAction(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleTransition, "flowmap.transition", map[string]any{
		"map_id": "launch", "item_id": "kickoff", "action": "pause",
	})
	assert.True(t, result.IsError)
}

// --- analyze ---

func TestAnalyzeTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleAnalyze, "flowmap.analyze", map[string]any{
		"map_id":   "launch",
		"group_by": "department",
	})
	var got struct {
		Report struct {
			CriticalPath struct {
				Path         []string `json:"path"`
				TotalMinutes float64  `json:"total_minutes"`
			} `json:"critical_path"`
			Breakdown map[string]float64 `json:"breakdown"`
		} `json:"report"`
	}
	unmarshalResult(t, result, &got)
	assert.Equal(t, []string{"kickoff", "build", "release"}, got.Report.CriticalPath.Path)
	assert.Equal(t, 1530.0, got.Report.CriticalPath.TotalMinutes)
	assert.Equal(t, map[string]float64{"pm": 60, "ux": 120, "eng": 1470}, got.Report.Breakdown)
}

func TestAnalyzeToolJQAndSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleAnalyze, "flowmap.analyze", map[string]any{
		"map_id":   "launch",
		"filter":   `item.department == "eng"`,
		"jq":       ".critical_path.path",
		"snapshot": true,
	})
	var got struct {
		Query []string `json:"query"`
	}
	unmarshalResult(t, result, &got)
	assert.Equal(t, []string{"build", "release"}, got.Query)

	events, err := ts.ws.EventsByType(context.Background(), schema.EventAnalysisSnapshot, store.EventFilter{MapID: "launch"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAnalyzeToolBadExpression(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleAnalyze, "flowmap.analyze", map[string]any{
		"map_id": "launch",
		"filter": "item.type ==",
	})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)
}

// --- query ---

func TestQueryMaps(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleQuery, "flowmap.query", map[string]any{
		"resource": "maps",
		"filter":   map[string]any{"agent_id": "planner"},
	})
	var got struct {
		Maps []struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
		} `json:"maps"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Maps, 1)
	assert.Equal(t, "launch", got.Maps[0].ID)

	result = call(t, ts.handleQuery, "flowmap.query", map[string]any{
		"resource": "maps",
		"filter":   map[string]any{"agent_id": "nobody"},
	})
	got.Maps = nil
	unmarshalResult(t, result, &got)
	assert.Empty(t, got.Maps)
}

func TestQueryEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleQuery, "flowmap.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"map_id": "launch"},
	})
	var got struct {
		Events []struct {
			Type    string `json:"event_type"`
			AgentID string `json:"agent_id"`
		} `json:"events"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Events, 1)
	assert.Equal(t, schema.EventMapDefined, got.Events[0].Type)
	assert.Equal(t, "planner", got.Events[0].AgentID)

	result = call(t, ts.handleQuery, "flowmap.query", map[string]any{"resource": "events"})
	assert.True(t, result.IsError)
}

func TestQueryEventsWaitsForNewEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = ts.handleTransition(context.Background(), buildRequest("flowmap.transition", map[string]any{
			"map_id": "launch", "item_id": "kickoff", "action": "complete", "agent_id": "planner",
		}))
	}()

	result := call(t, ts.handleQuery, "flowmap.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"map_id": "launch", "after_sequence": 1, "wait_seconds": 5},
	})
	var got struct {
		Events []struct {
			Type     string `json:"event_type"`
			Sequence int64  `json:"sequence"`
		} `json:"events"`
	}
	unmarshalResult(t, result, &got)
	require.NotEmpty(t, got.Events)
	assert.Equal(t, schema.EventItemCompleted, got.Events[0].Type)
	assert.Equal(t, int64(2), got.Events[0].Sequence)
}

func TestQueryJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleSchedule, "flowmap.schedule", map[string]any{
		"action": "create", "map_id": "launch", "cron": "@hourly", "agent_id": "planner",
	})
	require.False(t, result.IsError, extractText(t, result))

	result = call(t, ts.handleQuery, "flowmap.query", map[string]any{
		"resource": "jobs",
		"filter":   map[string]any{"map_id": "launch", "enabled": true},
	})
	var got struct {
		Jobs []struct {
			MapID          string `json:"map_id"`
			CronExpression string `json:"cron_expression"`
		} `json:"jobs"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, "@hourly", got.Jobs[0].CronExpression)
}

func TestQueryUnknownResource(t *testing.T) {
	ts := newTestServer(t)
	result := call(t, ts.handleQuery, "flowmap.query", map[string]any{"resource": "templates"})
	assert.True(t, result.IsError)
}

// --- diagram ---

func TestDiagramTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleDiagram, "flowmap.diagram", map[string]any{"map_id": "launch", "format": "mermaid"})
	require.False(t, result.IsError)
	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "kickoff ==> build")

	result = call(t, ts.handleDiagram, "flowmap.diagram", map[string]any{"map_id": "launch", "format": "ascii"})
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "Critical path")
}

func TestDiagramToolImage(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleDiagram, "flowmap.diagram", map[string]any{"map_id": "launch", "format": "image"})
	require.False(t, result.IsError, extractText(t, result))

	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}

func TestDiagramToolErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	result := call(t, ts.handleDiagram, "flowmap.diagram", map[string]any{"map_id": "launch", "format": "pdf"})
	assert.True(t, result.IsError)

	result = call(t, ts.handleDiagram, "flowmap.diagram", map[string]any{"map_id": "ghost", "format": "mermaid"})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

// --- schedule ---

func TestScheduleTool(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")
	ctx := context.Background()

	result := call(t, ts.handleSchedule, "flowmap.schedule", map[string]any{
		"action": "create", "map_id": "launch", "cron": "0 9 * * 1-5", "agent_id": "planner",
	})
	var job struct {
		ID        string `json:"id"`
		Enabled   bool   `json:"enabled"`
		NextRunAt string `json:"next_run_at"`
	}
	unmarshalResult(t, result, &job)
	require.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)
	assert.NotEmpty(t, job.NextRunAt)

	result = call(t, ts.handleSchedule, "flowmap.schedule", map[string]any{"action": "disable", "job_id": job.ID})
	require.False(t, result.IsError, extractText(t, result))
	stored, err := ts.store.GetReportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	result = call(t, ts.handleSchedule, "flowmap.schedule", map[string]any{"action": "delete", "job_id": job.ID})
	require.False(t, result.IsError, extractText(t, result))
	_, err = ts.store.GetReportJob(ctx, job.ID)
	require.Error(t, err)
}

func TestScheduleToolErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.defineLaunch(t, "planner")

	tests := []struct {
		name string
		args map[string]any
	}{
		{"bad cron", map[string]any{"action": "create", "map_id": "launch", "cron": "sometimes"}},
		{"unknown map", map[string]any{"action": "create", "map_id": "ghost", "cron": "@daily"}},
		{"missing cron", map[string]any{"action": "create", "map_id": "launch"}},
		{"missing job", map[string]any{"action": "enable"}},
		{"unknown job", map[string]any{"action": "delete", "job_id": "nope"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := call(t, ts.handleSchedule, "flowmap.schedule", tc.args)
			assert.True(t, result.IsError)
		})
	}
}

func TestScheduleToolDisabled(t *testing.T) {
	ts := newTestServer(t)
	ts.scheduler = nil

	result := call(t, ts.handleSchedule, "flowmap.schedule", map[string]any{"action": "create"})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "disabled")
}

// --- helpers ---

func TestExtractInt(t *testing.T) {
	filter := map[string]any{"a": float64(3), "b": 4, "c": "5", "d": "x"}
	assert.Equal(t, 3, extractInt(filter, "a", 0))
	assert.Equal(t, 4, extractInt(filter, "b", 0))
	assert.Equal(t, 5, extractInt(filter, "c", 0))
	assert.Equal(t, 7, extractInt(filter, "d", 7))
	assert.Equal(t, 7, extractInt(nil, "a", 7))
}
