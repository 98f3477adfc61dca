package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowmap/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	m := seedMap(t, s)

	for i := 0; i < 5; i++ {
		e := &Event{MapID: m.ID, ItemID: "a", Type: schema.EventItemStarted}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestEventLog_GetEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	m := seedMap(t, s)

	for _, et := range []string{schema.EventItemStarted, schema.EventItemCompleted, schema.EventItemsUnblocked} {
		require.NoError(t, el.AppendEvent(ctx, &Event{MapID: m.ID, ItemID: "a", Type: et}))
	}

	events, err := el.GetEvents(ctx, m.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventItemCompleted, events[0].Type)

	byType, err := el.GetEventsByType(ctx, schema.EventItemsUnblocked, EventFilter{MapID: m.ID})
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestEventLog_ReplayItems(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	m := seedMap(t, s)

	appendAll := []*Event{
		{MapID: m.ID, Type: schema.EventMapDefined},
		{MapID: m.ID, ItemID: "a", Type: schema.EventItemStarted},
		{MapID: m.ID, ItemID: "a", Type: schema.EventItemCompleted},
		{MapID: m.ID, ItemID: "a", Type: schema.EventItemsUnblocked, Payload: json.RawMessage(`{"item_ids":["b"]}`)},
		{MapID: m.ID, ItemID: "b", Type: schema.EventItemStarted},
		{MapID: m.ID, ItemID: "c", Type: schema.EventItemAdded},
		{MapID: m.ID, ItemID: "c", Type: schema.EventItemRemoved},
	}
	for _, e := range appendAll {
		require.NoError(t, el.AppendEvent(ctx, e))
	}

	items, err := el.ReplayItems(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	a := items["a"]
	assert.Equal(t, schema.ItemStatusCompleted, a.Status)
	assert.NotNil(t, a.StartedAt)
	assert.NotNil(t, a.CompletedAt)

	b := items["b"]
	assert.Equal(t, schema.ItemStatusInProgress, b.Status)
	assert.Nil(t, b.CompletedAt)

	assert.True(t, items["c"].Removed)
	assert.Equal(t, schema.ItemStatusPending, items["c"].Status)
}

func TestEventLog_ReplayItems_Empty(t *testing.T) {
	el, _ := newTestEventLog(t)
	items, err := el.ReplayItems(context.Background(), "no-events")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEventLog_ReplayItems_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	m := seedMap(t, s)

	// Manually insert events with a gap using the raw store.
	db := s.DB()
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (map_id, item_id, event_type, timestamp, sequence) VALUES (?, 'a', 'item_started', CURRENT_TIMESTAMP, 1)`,
		m.ID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (map_id, item_id, event_type, timestamp, sequence) VALUES (?, 'a', 'item_completed', CURRENT_TIMESTAMP, 3)`,
		m.ID)
	require.NoError(t, err)

	_, err = el.ReplayItems(ctx, m.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestEventLog_ConcurrentAppend_DifferentMaps(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	var mapIDs []string
	for i := 0; i < 5; i++ {
		mapIDs = append(mapIDs, seedMap(t, s).ID)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)

	for _, id := range mapIDs {
		wg.Add(1)
		go func(mapID string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := el.AppendEvent(ctx, &Event{MapID: mapID, ItemID: "a", Type: schema.EventItemStarted}); err != nil {
					errCh <- err
					return
				}
			}
		}(id)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for _, id := range mapIDs {
		events, err := el.GetEvents(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_MapScopedSequences(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	m1 := seedMap(t, s)
	m2 := seedMap(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{MapID: m1.ID, Type: schema.EventMapDefined}))
	require.NoError(t, el.AppendEvent(ctx, &Event{MapID: m1.ID, Type: schema.EventAnalysisSnapshot}))

	e := &Event{MapID: m2.ID, Type: schema.EventMapDefined}
	require.NoError(t, el.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "each map has its own sequence")
}
