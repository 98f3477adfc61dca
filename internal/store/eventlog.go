package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/flowmap/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-map sequence.
// The write lock is taken before the sequence is read so concurrent writers
// cannot interleave.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces the lock.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE map_id = ?`, event.MapID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (map_id, item_id, event_type, payload, agent_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.MapID, nullStr(event.ItemID), event.Type, nullRaw(event.Payload), nullStr(event.AgentID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a map with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, mapID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, mapID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ItemHistory is the lifecycle of one item as recorded in the event log.
type ItemHistory struct {
	ItemID      string            `json:"item_id"`
	Status      schema.ItemStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Removed     bool              `json:"removed,omitempty"`
}

// ReplayItems replays every event of a map and returns the sticky lifecycle
// of each item it mentions. Only explicit transitions are replayed; derived
// statuses are not. Returns an error if a sequence gap is detected.
func (el *EventLog) ReplayItems(ctx context.Context, mapID string) (map[string]*ItemHistory, error) {
	events, err := el.store.GetEvents(ctx, mapID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in map %s: expected %d, got %d", mapID, expected, e.Sequence)
		}
	}

	items := make(map[string]*ItemHistory)
	for _, e := range events {
		if e.ItemID == "" {
			continue
		}
		h, ok := items[e.ItemID]
		if !ok {
			h = &ItemHistory{ItemID: e.ItemID, Status: schema.ItemStatusPending}
			items[e.ItemID] = h
		}

		switch e.Type {
		case schema.EventItemAdded:
			h.Removed = false
		case schema.EventItemRemoved:
			h.Removed = true
		case schema.EventItemStarted:
			h.Status = schema.ItemStatusInProgress
			ts := e.Timestamp
			h.StartedAt = &ts
		case schema.EventItemCompleted:
			h.Status = schema.ItemStatusCompleted
			ts := e.Timestamp
			h.CompletedAt = &ts
		}
	}

	return items, nil
}
