package workspace

import (
	"context"
	"log/slog"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/pkg/schema"
)

// AddItem appends item to a map. The resulting map must still validate, so
// a duplicate ID or unknown enum value is rejected.
func (w *Workspace) AddItem(ctx context.Context, mapID string, item schema.WorkItem) (*schema.WorkflowMap, error) {
	normalizeItem(&item)
	ctx = logging.WithIDs(ctx, mapID, item.ID, "")

	m, err := w.mutate(ctx, mapID, func(m *schema.WorkflowMap) ([]pendingEvent, error) {
		m.Items = append(m.Items, item)
		if err := w.validate(ctx, m); err != nil {
			return nil, err
		}
		return []pendingEvent{{
			itemID:    item.ID,
			eventType: schema.EventItemAdded,
			payload: map[string]any{
				"type":     string(item.Type),
				"label":    item.Label,
				"duration": item.Duration,
			},
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "item added", slog.String("type", string(item.Type)))
	return m, nil
}

// RemoveItem deletes an item and every relationship attached to it.
// Successors left without incomplete predecessors become READY and are
// reported in an items_unblocked event.
func (w *Workspace) RemoveItem(ctx context.Context, mapID, itemID string) (*schema.WorkflowMap, error) {
	ctx = logging.WithIDs(ctx, mapID, itemID, "")

	var dropped []string
	m, err := w.mutate(ctx, mapID, func(m *schema.WorkflowMap) ([]pendingEvent, error) {
		before := engine.ReadyItems(m.Items, m.Relationships)

		idx := itemIndex(m.Items, itemID)
		if idx < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "work item %q not found", itemID).WithItem(itemID)
		}
		m.Items = append(m.Items[:idx:idx], m.Items[idx+1:]...)

		kept := m.Relationships[:0:0]
		for _, rel := range m.Relationships {
			if rel.Source == itemID || rel.Target == itemID {
				dropped = append(dropped, rel.ID)
				continue
			}
			kept = append(kept, rel)
		}
		m.Relationships = kept

		pending := []pendingEvent{{
			itemID:    itemID,
			eventType: schema.EventItemRemoved,
			payload:   map[string]any{"relationship_ids": nonNil(dropped)},
		}}
		return appendUnblocked(pending, itemID, before, m), nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "item removed", slog.Int("relationships_dropped", len(dropped)))
	return m, nil
}

// Link adds a relationship after checking both endpoints exist and that the
// edge would not close a cycle. A refused cycle is recorded as a
// relationship_rejected event and returned as CYCLE_DETECTED.
func (w *Workspace) Link(ctx context.Context, mapID string, rel schema.Relationship) (*schema.WorkflowMap, error) {
	normalizeRelationship(&rel)
	ctx = logging.WithMapID(ctx, mapID)

	cycle := false
	m, err := w.mutate(ctx, mapID, func(m *schema.WorkflowMap) ([]pendingEvent, error) {
		for _, end := range []string{rel.Source, rel.Target} {
			if itemIndex(m.Items, end) < 0 {
				return nil, schema.NewErrorf(schema.ErrCodeNotFound, "work item %q not found", end).WithItem(end)
			}
		}
		for _, existing := range m.Relationships {
			if existing.Source == rel.Source && existing.Target == rel.Target {
				return nil, schema.NewErrorf(schema.ErrCodeConflict,
					"relationship %s -> %s already exists as %s", rel.Source, rel.Target, existing.ID)
			}
		}

		if engine.WouldCreateCycle(rel, m.Relationships) {
			cycle = true
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"linking %s -> %s would create a cycle", rel.Source, rel.Target).
				WithDetails(map[string]any{"source": rel.Source, "target": rel.Target})
		}

		m.Relationships = append(m.Relationships, rel)
		if err := w.validate(ctx, m); err != nil {
			return nil, err
		}
		return []pendingEvent{{
			eventType: schema.EventRelationshipAdded,
			payload:   relPayload(rel),
		}}, nil
	})
	if err != nil {
		if cycle {
			w.logger.WarnContext(ctx, "relationship rejected",
				slog.String("source", rel.Source), slog.String("target", rel.Target))
			payload := relPayload(rel)
			payload["reason"] = "cycle"
			if emitErr := w.emit(ctx, mapID, "", schema.EventRelationshipRejected, payload); emitErr != nil {
				w.logger.ErrorContext(ctx, "record rejected relationship", slog.String("error", emitErr.Error()))
			}
		}
		return nil, err
	}

	w.logger.InfoContext(ctx, "relationship added",
		slog.String("source", rel.Source), slog.String("target", rel.Target))
	return m, nil
}

// Unlink removes a relationship by ID. Its target may become READY, which is
// reported in an items_unblocked event.
func (w *Workspace) Unlink(ctx context.Context, mapID, relID string) (*schema.WorkflowMap, error) {
	ctx = logging.WithMapID(ctx, mapID)

	m, err := w.mutate(ctx, mapID, func(m *schema.WorkflowMap) ([]pendingEvent, error) {
		before := engine.ReadyItems(m.Items, m.Relationships)

		idx := -1
		for i, rel := range m.Relationships {
			if rel.ID == relID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "relationship %q not found", relID)
		}
		rel := m.Relationships[idx]
		m.Relationships = append(m.Relationships[:idx:idx], m.Relationships[idx+1:]...)

		pending := []pendingEvent{{
			eventType: schema.EventRelationshipRemoved,
			payload:   relPayload(rel),
		}}
		return appendUnblocked(pending, rel.Target, before, m), nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "relationship removed", slog.String("relationship_id", relID))
	return m, nil
}

// appendUnblocked adds an items_unblocked event when items that were not
// READY before the edit are READY after it.
func appendUnblocked(pending []pendingEvent, itemID string, before []string, m *schema.WorkflowMap) []pendingEvent {
	wasReady := make(map[string]bool, len(before))
	for _, id := range before {
		wasReady[id] = true
	}
	var unblocked []string
	for _, id := range engine.ReadyItems(m.Items, m.Relationships) {
		if !wasReady[id] {
			unblocked = append(unblocked, id)
		}
	}
	if len(unblocked) == 0 {
		return pending
	}
	return append(pending, pendingEvent{
		itemID:    itemID,
		eventType: schema.EventItemsUnblocked,
		payload:   map[string]any{"item_ids": unblocked},
	})
}

func relPayload(rel schema.Relationship) map[string]any {
	return map[string]any{
		"relationship_id": rel.ID,
		"source":          rel.Source,
		"target":          rel.Target,
		"kind":            string(rel.Kind),
	}
}

func itemIndex(items []schema.WorkItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
