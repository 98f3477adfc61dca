package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

// TransitionHook is called before or after an item transition.
type TransitionHook func(itemID string, from, to schema.ItemStatus) error

// EventAppender is satisfied by the Store; used by the FSM to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.ItemStatus
}

// LifecycleFSM wraps Start and Complete with transition hooks and event
// emission. It holds no map state: callers pass the current snapshot in and
// persist the returned one.
type LifecycleFSM struct {
	mu       sync.Mutex
	appender EventAppender
	now      func() time.Time
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewLifecycleFSM creates a LifecycleFSM that emits events via the given
// appender. A nil appender disables events.
func NewLifecycleFSM(appender EventAppender) *LifecycleFSM {
	return &LifecycleFSM{
		appender: appender,
		now:      func() time.Time { return time.Now().UTC() },
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// SetClock replaces the time source used for StartedAt and CompletedAt.
func (f *LifecycleFSM) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// OnBefore registers a hook called before an item transition. A hook error
// aborts the transition.
func (f *LifecycleFSM) OnBefore(from, to schema.ItemStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an item transition.
func (f *LifecycleFSM) OnAfter(from, to schema.ItemStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// TransitionEvent is an event produced by a transition, not yet appended.
type TransitionEvent struct {
	Type    string
	Payload map[string]any
}

// Transition is a planned item transition: the resulting items and the
// events describing it. Nothing is emitted until Commit or Finish.
type Transition struct {
	ItemID string
	From   schema.ItemStatus
	To     schema.ItemStatus
	Items  []schema.WorkItem
	Events []TransitionEvent
}

// PlanStart runs the before hooks and computes the IN_PROGRESS transition of
// itemID without emitting anything.
func (f *LifecycleFSM) PlanStart(items []schema.WorkItem, rels []schema.Relationship, itemID string) (*Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := BuildGraph(items, rels)
	t := &Transition{ItemID: itemID, From: derive(g, itemID), To: schema.ItemStatusInProgress}

	if g.Has(itemID) {
		if err := f.runHooks(f.before, itemID, t.From, t.To); err != nil {
			return nil, err
		}
	}

	out, err := Start(items, rels, itemID, f.now())
	if err != nil {
		return nil, err
	}
	t.Items = out
	t.Events = []TransitionEvent{{
		Type:    schema.EventItemStarted,
		Payload: map[string]any{"from": string(t.From), "to": string(t.To)},
	}}
	return t, nil
}

// PlanComplete runs the before hooks and computes the COMPLETED transition
// of itemID. Successors that became READY are reported by an
// items_unblocked event. An item that is already COMPLETED yields a
// transition without events.
func (f *LifecycleFSM) PlanComplete(items []schema.WorkItem, rels []schema.Relationship, itemID string) (*Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := BuildGraph(items, rels)
	t := &Transition{ItemID: itemID, From: derive(g, itemID), To: schema.ItemStatusCompleted}
	if t.From == t.To {
		out, err := Complete(items, rels, itemID, f.now())
		if err != nil {
			return nil, err
		}
		t.Items = out
		return t, nil
	}

	if g.Has(itemID) {
		if err := f.runHooks(f.before, itemID, t.From, t.To); err != nil {
			return nil, err
		}
	}

	out, err := Complete(items, rels, itemID, f.now())
	if err != nil {
		return nil, err
	}
	t.Items = out
	t.Events = append(t.Events, TransitionEvent{
		Type:    schema.EventItemCompleted,
		Payload: map[string]any{"from": string(t.From), "to": string(t.To)},
	})
	if unblocked := newlyReady(g, out); len(unblocked) > 0 {
		t.Events = append(t.Events, TransitionEvent{
			Type:    schema.EventItemsUnblocked,
			Payload: map[string]any{"item_ids": unblocked},
		})
	}
	return t, nil
}

// Commit emits the events of t through the appender and runs the after
// hooks.
func (f *LifecycleFSM) Commit(ctx context.Context, mapID string, t *Transition) error {
	for _, e := range t.Events {
		if err := f.emit(ctx, mapID, t.ItemID, e.Type, e.Payload); err != nil {
			return err
		}
	}
	return f.Finish(t)
}

// Finish runs the after hooks of t. Callers that append the events
// themselves call it once the transition is durable. A transition without
// events changed nothing and runs no hooks.
func (f *LifecycleFSM) Finish(t *Transition) error {
	if len(t.Events) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runHooks(f.after, t.ItemID, t.From, t.To)
}

// Start moves itemID to IN_PROGRESS and emits item_started.
func (f *LifecycleFSM) Start(ctx context.Context, mapID string, items []schema.WorkItem, rels []schema.Relationship, itemID string) ([]schema.WorkItem, error) {
	t, err := f.PlanStart(items, rels, itemID)
	if err != nil {
		return nil, err
	}
	if err := f.Commit(ctx, mapID, t); err != nil {
		return nil, err
	}
	return t.Items, nil
}

// Complete moves itemID to COMPLETED, emits item_completed, and emits
// items_unblocked when successors became READY as a result. Completing an
// item that is already COMPLETED emits nothing.
func (f *LifecycleFSM) Complete(ctx context.Context, mapID string, items []schema.WorkItem, rels []schema.Relationship, itemID string) ([]schema.WorkItem, error) {
	t, err := f.PlanComplete(items, rels, itemID)
	if err != nil {
		return nil, err
	}
	if err := f.Commit(ctx, mapID, t); err != nil {
		return nil, err
	}
	return t.Items, nil
}

func (f *LifecycleFSM) runHooks(hooks map[hookKey][]TransitionHook, itemID string, from, to schema.ItemStatus) error {
	for _, hook := range hooks[hookKey{from, to}] {
		if err := hook(itemID, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (f *LifecycleFSM) emit(ctx context.Context, mapID, itemID, eventType string, payload map[string]any) error {
	if f.appender == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode %s payload: %s", eventType, err.Error()).WithCause(err)
	}
	event := &store.Event{
		MapID:   mapID,
		ItemID:  itemID,
		Type:    eventType,
		Payload: raw,
		AgentID: logging.AgentID(ctx),
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", eventType, err.Error()).
			WithItem(itemID).WithCause(err)
	}
	return nil
}

// newlyReady lists items that were not READY in before but are READY in after.
func newlyReady(before *Graph, after []schema.WorkItem) []string {
	var ids []string
	for _, item := range after {
		if item.Status != schema.ItemStatusReady {
			continue
		}
		if derive(before, item.ID) != schema.ItemStatusReady {
			ids = append(ids, item.ID)
		}
	}
	return ids
}
