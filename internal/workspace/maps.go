package workspace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

// Define validates and stores a new map. Missing map, item and relationship
// IDs are generated, an empty item type becomes ACTION and an empty
// relationship kind becomes BLOCKS. Stored statuses are kept when sticky and
// re-derived otherwise.
func (w *Workspace) Define(ctx context.Context, m *schema.WorkflowMap) (*schema.WorkflowMap, error) {
	if m == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow map is nil")
	}

	def := cloneMap(m)
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.AgentID == "" {
		def.AgentID = logging.AgentID(ctx)
	}
	for i := range def.Items {
		normalizeItem(&def.Items[i])
	}
	for i := range def.Relationships {
		normalizeRelationship(&def.Relationships[i])
	}

	ctx = logging.WithMapID(ctx, def.ID)
	if err := w.validate(ctx, def); err != nil {
		return nil, err
	}
	def.Items = engine.Recompute(def.Items, def.Relationships)

	unlock := w.lockMap(def.ID)
	defer unlock()

	now := w.now()
	def.CreatedAt, def.UpdatedAt = now, now
	if err := w.store.CreateMap(ctx, def); err != nil {
		return nil, err
	}

	if err := w.emit(ctx, def.ID, "", schema.EventMapDefined, map[string]any{
		"name":               def.Name,
		"item_count":         len(def.Items),
		"relationship_count": len(def.Relationships),
	}); err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "map defined",
		slog.String("name", def.Name),
		slog.Int("items", len(def.Items)),
		slog.Int("relationships", len(def.Relationships)),
	)
	return def, nil
}

// Get returns the stored snapshot of a map.
func (w *Workspace) Get(ctx context.Context, mapID string) (*schema.WorkflowMap, error) {
	return w.store.GetMap(ctx, mapID)
}

// List returns summaries of the stored maps matching filter.
func (w *Workspace) List(ctx context.Context, filter store.MapFilter) ([]*store.MapSummary, error) {
	return w.store.ListMaps(ctx, filter)
}

// Delete removes a map and its report jobs. Its event log is kept and gains
// a map_deleted entry.
func (w *Workspace) Delete(ctx context.Context, mapID string) error {
	unlock := w.lockMap(mapID)
	defer unlock()

	if err := w.store.DeleteMap(ctx, mapID); err != nil {
		return err
	}

	ctx = logging.WithMapID(ctx, mapID)
	w.logger.InfoContext(ctx, "map deleted")
	return w.emit(ctx, mapID, "", schema.EventMapDeleted, nil)
}

func normalizeItem(item *schema.WorkItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Type == "" {
		item.Type = schema.ItemTypeAction
	}
}

func normalizeRelationship(rel *schema.Relationship) {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.Kind == "" {
		rel.Kind = schema.RelBlocks
	}
}

// cloneMap copies m deeply enough that normalizing and recomputing the copy
// never writes through to the caller.
func cloneMap(m *schema.WorkflowMap) *schema.WorkflowMap {
	out := *m
	out.Items = append([]schema.WorkItem(nil), m.Items...)
	out.Relationships = append([]schema.Relationship(nil), m.Relationships...)
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
