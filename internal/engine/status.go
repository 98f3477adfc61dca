package engine

import (
	"time"

	"github.com/rendis/flowmap/pkg/schema"
)

// DeriveStatus computes an item's status from its stored status and the
// stored statuses of its direct predecessors. IN_PROGRESS and COMPLETED are
// kept as they are. Anything else is BLOCKED while a predecessor is not
// COMPLETED, and READY otherwise; an item with no predecessors is READY.
func DeriveStatus(current schema.ItemStatus, predecessors []schema.ItemStatus) schema.ItemStatus {
	if current.IsSticky() {
		return current
	}
	for _, p := range predecessors {
		if p != schema.ItemStatusCompleted {
			return schema.ItemStatusBlocked
		}
	}
	return schema.ItemStatusReady
}

// Recompute returns a copy of items with every status re-derived.
// Progress and timestamps are left untouched.
func Recompute(items []schema.WorkItem, rels []schema.Relationship) []schema.WorkItem {
	out := cloneItems(items)
	recomputeInPlace(out, BuildGraph(items, rels))
	return out
}

// ReadyItems returns the IDs of items whose derived status is READY, in
// input order.
func ReadyItems(items []schema.WorkItem, rels []schema.Relationship) []string {
	g := BuildGraph(items, rels)
	var ready []string
	for _, id := range g.Order {
		if derive(g, id) == schema.ItemStatusReady {
			ready = append(ready, id)
		}
	}
	return ready
}

// Start moves a READY item to IN_PROGRESS, resets its progress and stamps
// StartedAt. An item whose derived status is anything but READY is refused
// with INVALID_TRANSITION. The returned slice is a recomputed copy.
func Start(items []schema.WorkItem, rels []schema.Relationship, itemID string, at time.Time) ([]schema.WorkItem, error) {
	idx := indexOf(items, itemID)
	if idx < 0 {
		return nil, itemNotFound(itemID)
	}

	g := BuildGraph(items, rels)
	if from := derive(g, itemID); from != schema.ItemStatusReady {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot start %q: status is %s", g.Label(itemID), from).
			WithItem(itemID).
			WithDetails(map[string]any{"from": string(from), "to": string(schema.ItemStatusInProgress)})
	}

	out := cloneItems(items)
	started := at
	out[idx].Status = schema.ItemStatusInProgress
	out[idx].Progress = 0
	out[idx].StartedAt = &started

	recomputeInPlace(out, BuildGraph(out, rels))
	return out, nil
}

// Complete marks an item COMPLETED, sets progress to 100, stamps
// CompletedAt and re-derives every status so successors unblock.
//
// Every direct predecessor must already be COMPLETED. If any is not, the
// edit is refused with a *schema.PrerequisiteError naming all of them. An
// item that is already COMPLETED is returned unchanged.
func Complete(items []schema.WorkItem, rels []schema.Relationship, itemID string, at time.Time) ([]schema.WorkItem, error) {
	idx := indexOf(items, itemID)
	if idx < 0 {
		return nil, itemNotFound(itemID)
	}

	g := BuildGraph(items, rels)
	if items[idx].Status == schema.ItemStatusCompleted {
		out := cloneItems(items)
		recomputeInPlace(out, g)
		return out, nil
	}

	if blocking := IncompletePredecessors(g, itemID); len(blocking) > 0 {
		return nil, &schema.PrerequisiteError{
			ItemID:    itemID,
			ItemLabel: g.Label(itemID),
			Blocking:  blocking,
		}
	}

	out := cloneItems(items)
	completed := at
	out[idx].Status = schema.ItemStatusCompleted
	out[idx].Progress = 100
	out[idx].CompletedAt = &completed

	recomputeInPlace(out, BuildGraph(out, rels))
	return out, nil
}

// IncompletePredecessors lists the direct predecessors of id that are not
// COMPLETED, in relationship order.
func IncompletePredecessors(g *Graph, id string) []schema.Prerequisite {
	var blocking []schema.Prerequisite
	for _, pred := range g.Predecessors[id] {
		if g.Items[pred].Status != schema.ItemStatusCompleted {
			blocking = append(blocking, schema.Prerequisite{ID: pred, Label: g.Label(pred)})
		}
	}
	return blocking
}

func derive(g *Graph, id string) schema.ItemStatus {
	preds := g.Predecessors[id]
	statuses := make([]schema.ItemStatus, len(preds))
	for i, p := range preds {
		statuses[i] = g.Items[p].Status
	}
	return DeriveStatus(g.Items[id].Status, statuses)
}

// recomputeInPlace derives from g, which must describe items before the
// call, so one pass suffices: only stored COMPLETED unblocks.
func recomputeInPlace(items []schema.WorkItem, g *Graph) {
	for i := range items {
		items[i].Status = derive(g, items[i].ID)
	}
}

func indexOf(items []schema.WorkItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func itemNotFound(id string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "work item %q not found", id).WithItem(id)
}

func cloneItems(items []schema.WorkItem) []schema.WorkItem {
	out := make([]schema.WorkItem, len(items))
	for i, item := range items {
		if item.StartedAt != nil {
			t := *item.StartedAt
			item.StartedAt = &t
		}
		if item.CompletedAt != nil {
			t := *item.CompletedAt
			item.CompletedAt = &t
		}
		if item.Metadata != nil {
			md := make(map[string]any, len(item.Metadata))
			for k, v := range item.Metadata {
				md[k] = v
			}
			item.Metadata = md
		}
		out[i] = item
	}
	return out
}
