package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

func TestNew_RequiresStoreAndEventLog(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestDefine_DerivesStatuses(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	m := defineLaunch(t, ws)

	assert.Equal(t, int64(1), m.Version)
	assert.Equal(t, schema.ItemStatusReady, statusOf(t, m, "kickoff"))
	assert.Equal(t, schema.ItemStatusBlocked, statusOf(t, m, "design"))
	assert.Equal(t, schema.ItemStatusBlocked, statusOf(t, m, "release"))

	stored, err := ws.Get(context.Background(), "launch")
	require.NoError(t, err)
	assert.Equal(t, m.Items, stored.Items)
}

func TestDefine_Normalizes(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	in := &schema.WorkflowMap{
		Name: "Anonymous",
		Items: []schema.WorkItem{
			{ID: "a", Label: "A"},
			{Label: "No id", Type: schema.ItemTypeDecision},
		},
		Relationships: []schema.Relationship{{Source: "a", Target: "ghost"}},
	}

	m, err := ws.Define(context.Background(), in)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, schema.ItemTypeAction, m.Items[0].Type)
	assert.NotEmpty(t, m.Items[1].ID)
	assert.NotEmpty(t, m.Relationships[0].ID)
	assert.Equal(t, schema.RelBlocks, m.Relationships[0].Kind)

	// The caller's map is left untouched.
	assert.Empty(t, in.ID)
	assert.Empty(t, in.Items[0].Type)
	assert.Empty(t, in.Items[0].Status)
}

func TestDefine_KeepsStickyStatuses(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	in := launchMap()
	in.Items[0].Status = schema.ItemStatusCompleted
	done := t0
	in.Items[0].CompletedAt = &done
	in.Items[1].Status = schema.ItemStatusReady // stale, re-derived

	m, err := ws.Define(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, schema.ItemStatusCompleted, statusOf(t, m, "kickoff"))
	assert.Equal(t, schema.ItemStatusReady, statusOf(t, m, "design"))
	assert.Equal(t, schema.ItemStatusReady, statusOf(t, m, "build"))
	assert.Equal(t, schema.ItemStatusBlocked, statusOf(t, m, "release"))
}

func TestDefine_RecordsEvent(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	defineLaunch(t, ws)

	e := lastEvent(t, ws, "launch")
	assert.Equal(t, schema.EventMapDefined, e.Type)
	assert.Equal(t, int64(1), e.Sequence)
	p := payloadOf(t, e)
	assert.Equal(t, "Launch", p["name"])
	assert.Equal(t, float64(4), p["item_count"])
}

func TestDefine_AgentFromContext(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := logging.WithAgentID(context.Background(), "agent-7")

	m, err := ws.Define(ctx, launchMap())
	require.NoError(t, err)
	assert.Equal(t, "agent-7", m.AgentID)
	assert.Equal(t, "agent-7", lastEvent(t, ws, m.ID).AgentID)
}

func TestDefine_Invalid(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	in := launchMap()
	in.Items[1].Type = "MILESTONE"

	_, err := ws.Define(context.Background(), in)
	requireCode(t, err, schema.ErrCodeValidation)

	maps, err := ws.List(context.Background(), store.MapFilter{})
	require.NoError(t, err)
	assert.Empty(t, maps)
}

func TestDefine_Cycle(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	in := launchMap()
	in.Relationships = append(in.Relationships, schema.Relationship{Source: "release", Target: "kickoff"})

	_, err := ws.Define(context.Background(), in)
	requireCode(t, err, schema.ErrCodeCycleDetected)
}

func TestDefine_DuplicateID(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	defineLaunch(t, ws)

	_, err := ws.Define(context.Background(), launchMap())
	requireCode(t, err, schema.ErrCodeConflict)
}

func TestDefine_Nil(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	_, err := ws.Define(context.Background(), nil)
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestGet_NotFound(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	_, err := ws.Get(context.Background(), "nope")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestList(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	defineLaunch(t, ws)
	other := launchMap()
	other.ID, other.Name = "other", "Other plan"
	_, err := ws.Define(context.Background(), other)
	require.NoError(t, err)

	all, err := ws.List(context.Background(), store.MapFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	named, err := ws.List(context.Background(), store.MapFilter{Name: "Other"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "other", named[0].ID)
}

func TestDelete_KeepsEvents(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	defineLaunch(t, ws)

	require.NoError(t, ws.Delete(ctx, "launch"))

	_, err := ws.Get(ctx, "launch")
	requireCode(t, err, schema.ErrCodeNotFound)

	events, err := ws.Events(ctx, "launch", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.EventMapDefined, schema.EventMapDeleted}, eventTypes(events))
}

func TestDelete_NotFound(t *testing.T) {
	ws, _ := newTestWorkspace(t)
	requireCode(t, ws.Delete(context.Background(), "nope"), schema.ErrCodeNotFound)
}
