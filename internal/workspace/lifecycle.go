package workspace

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/pkg/schema"
)

// Start moves a READY item to IN_PROGRESS.
func (w *Workspace) Start(ctx context.Context, mapID, itemID string) (*schema.WorkflowMap, error) {
	ctx = logging.WithIDs(ctx, mapID, itemID, "")

	m, err := w.transition(ctx, mapID, w.fsm.PlanStart, itemID)
	if err != nil {
		w.logTransitionError(ctx, "start", err)
		return nil, err
	}

	w.logger.InfoContext(ctx, "item started")
	return m, nil
}

// Complete marks an item COMPLETED once all of its direct predecessors are.
// Otherwise it returns a *schema.PrerequisiteError naming every blocker.
func (w *Workspace) Complete(ctx context.Context, mapID, itemID string) (*schema.WorkflowMap, error) {
	ctx = logging.WithIDs(ctx, mapID, itemID, "")

	m, err := w.transition(ctx, mapID, w.fsm.PlanComplete, itemID)
	if err != nil {
		w.logTransitionError(ctx, "complete", err)
		return nil, err
	}

	w.logger.InfoContext(ctx, "item completed")
	return m, nil
}

type planFunc func(items []schema.WorkItem, rels []schema.Relationship, itemID string) (*engine.Transition, error)

// transition plans an item transition inside mutate, so its events are
// appended only once the new snapshot is stored, then runs the after hooks.
func (w *Workspace) transition(ctx context.Context, mapID string, plan planFunc, itemID string) (*schema.WorkflowMap, error) {
	var t *engine.Transition
	m, err := w.mutate(ctx, mapID, func(m *schema.WorkflowMap) ([]pendingEvent, error) {
		var err error
		t, err = plan(m.Items, m.Relationships, itemID)
		if err != nil {
			return nil, err
		}
		m.Items = t.Items
		pending := make([]pendingEvent, 0, len(t.Events))
		for _, e := range t.Events {
			pending = append(pending, pendingEvent{itemID: itemID, eventType: e.Type, payload: e.Payload})
		}
		return pending, nil
	})
	if err != nil {
		return nil, err
	}
	// The transition is stored; a failing after hook is reported but not
	// undone.
	return m, w.fsm.Finish(t)
}

// logTransitionError logs refused transitions at info level; they are
// expected caller errors, not failures of the workspace.
func (w *Workspace) logTransitionError(ctx context.Context, op string, err error) {
	var prereq *schema.PrerequisiteError
	if errors.As(err, &prereq) {
		w.logger.InfoContext(ctx, "transition refused",
			slog.String("op", op),
			slog.Any("blocking", prereq.Labels()),
		)
		return
	}

	var fe *schema.FlowmapError
	if errors.As(err, &fe) && fe.Code != schema.ErrCodeStore {
		w.logger.InfoContext(ctx, "transition refused",
			slog.String("op", op),
			slog.String("code", fe.Code),
			slog.String("reason", fe.Message),
		)
		return
	}
	w.logger.ErrorContext(ctx, "transition failed", slog.String("op", op), slog.String("error", err.Error()))
}
