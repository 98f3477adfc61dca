package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestWorkspace(t *testing.T) (*Workspace, *store.LibSQLStore) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "flowmap.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	ws, err := New(Deps{
		Store:    s,
		EventLog: store.NewEventLog(s),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:    func() time.Time { return t0 },
	})
	require.NoError(t, err)
	return ws, s
}

// launchMap: kickoff fans out to design (2h) and build (1d), which join on
// release (30m). The critical path is kickoff -> build -> release.
func launchMap() *schema.WorkflowMap {
	return &schema.WorkflowMap{
		ID:   "launch",
		Name: "Launch",
		Items: []schema.WorkItem{
			{ID: "kickoff", Label: "Kickoff", Type: schema.ItemTypeTrigger, Duration: "1h", Stage: "plan", Department: "pm"},
			{ID: "design", Label: "Design", Type: schema.ItemTypeAction, Duration: "2h", Stage: "make", Department: "ux"},
			{ID: "build", Label: "Build", Type: schema.ItemTypeAction, Duration: "1d", Stage: "make", Department: "eng"},
			{ID: "release", Label: "Release", Type: schema.ItemTypeArtifact, Duration: "30m", Stage: "ship", Department: "eng"},
		},
		Relationships: []schema.Relationship{
			{ID: "r1", Source: "kickoff", Target: "design"},
			{ID: "r2", Source: "kickoff", Target: "build"},
			{ID: "r3", Source: "design", Target: "release"},
			{ID: "r4", Source: "build", Target: "release"},
		},
	}
}

func defineLaunch(t *testing.T, ws *Workspace) *schema.WorkflowMap {
	t.Helper()
	m, err := ws.Define(context.Background(), launchMap())
	require.NoError(t, err)
	return m
}

func statusOf(t *testing.T, m *schema.WorkflowMap, id string) schema.ItemStatus {
	t.Helper()
	for _, item := range m.Items {
		if item.ID == id {
			return item.Status
		}
	}
	t.Fatalf("item %q not in map", id)
	return ""
}

func eventTypes(events []*store.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func lastEvent(t *testing.T, ws *Workspace, mapID string) *store.Event {
	t.Helper()
	events, err := ws.Events(context.Background(), mapID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func payloadOf(t *testing.T, e *store.Event) map[string]any {
	t.Helper()
	var p map[string]any
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowmapError
	require.True(t, errors.As(err, &fe), "expected FlowmapError, got %T: %v", err, err)
	assert.Equal(t, code, fe.Code)
}
