// Package workspace is the edit boundary around the analysis engine. It owns
// persistence, serializes mutations per map, guards every new relationship
// against cycles and records each change in the event log.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/expressions"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/streaming"
	"github.com/rendis/flowmap/internal/validation"
	"github.com/rendis/flowmap/pkg/schema"
)

// EventLogger abstracts the event log operations needed by the workspace.
// Satisfied by *store.EventLog and test mocks.
type EventLogger interface {
	engine.EventAppender
	GetEvents(ctx context.Context, mapID string, since int64) ([]*store.Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter store.EventFilter) ([]*store.Event, error)
	ReplayItems(ctx context.Context, mapID string) (map[string]*store.ItemHistory, error)
}

// Deps holds the collaborators of a Workspace. Store and EventLog are
// required; the rest default when nil.
type Deps struct {
	Store     store.Store
	EventLog  EventLogger
	Validator validation.Validator
	Engines   *expressions.Engines
	Logger    *slog.Logger
	Clock     func() time.Time
	// Hub, when set, receives every appended event and lets WaitEvents block.
	Hub       streaming.EventHub
}

// Workspace applies edits and lifecycle transitions to stored maps.
// It is safe for concurrent use.
type Workspace struct {
	store     store.Store
	events    EventLogger
	fsm       *engine.LifecycleFSM
	validator validation.Validator
	analyzer  *Analyzer
	hub       streaming.EventHub
	logger    *slog.Logger
	now       func() time.Time

	// mu guards locks.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Workspace from deps.
func New(deps Deps) (*Workspace, error) {
	if deps.Store == nil || deps.EventLog == nil {
		return nil, errors.New("workspace: store and event log are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.New(os.Stderr, "info")
	}

	validator := deps.Validator
	if validator == nil {
		mv, err := validation.NewMapValidator()
		if err != nil {
			return nil, err
		}
		validator = mv
	}

	engines := deps.Engines
	if engines == nil {
		e, err := expressions.NewEngines()
		if err != nil {
			return nil, err
		}
		engines = e
	}

	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	events := deps.EventLog
	if deps.Hub != nil {
		events = &publishingLog{EventLogger: events, hub: deps.Hub, logger: logger}
	}

	// The workspace appends transition events itself, after the snapshot
	// is stored.
	fsm := engine.NewLifecycleFSM(nil)
	fsm.SetClock(now)

	return &Workspace{
		store:     deps.Store,
		events:    events,
		fsm:       fsm,
		validator: validator,
		analyzer:  &Analyzer{engines: engines, now: now},
		hub:       deps.Hub,
		logger:    logger,
		now:       now,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// FSM exposes the lifecycle state machine so callers can register
// transition hooks.
func (w *Workspace) FSM() *engine.LifecycleFSM {
	return w.fsm
}

// Analyzer returns the analyzer used by Analyze and Snapshot.
func (w *Workspace) Analyzer() *Analyzer {
	return w.analyzer
}

// lockMap serializes mutations of one map and returns the unlock function.
func (w *Workspace) lockMap(mapID string) func() {
	w.mu.Lock()
	l, ok := w.locks[mapID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[mapID] = l
	}
	w.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// pendingEvent is an event recorded by a mutation, appended once the new
// snapshot has been stored.
type pendingEvent struct {
	itemID    string
	eventType string
	payload   map[string]any
}

// mutate loads mapID under its lock, applies fn, recomputes derived
// statuses and stores the result. Events returned by fn are appended only
// after the store accepted the snapshot.
func (w *Workspace) mutate(ctx context.Context, mapID string, fn func(m *schema.WorkflowMap) ([]pendingEvent, error)) (*schema.WorkflowMap, error) {
	unlock := w.lockMap(mapID)
	defer unlock()

	m, err := w.store.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}

	pending, err := fn(m)
	if err != nil {
		return nil, err
	}
	m.Items = engine.Recompute(m.Items, m.Relationships)

	if err := w.store.UpdateMap(ctx, m); err != nil {
		return nil, err
	}

	for _, p := range pending {
		if err := w.emit(ctx, mapID, p.itemID, p.eventType, p.payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// validate runs the validation pipeline, logging warnings at debug level.
func (w *Workspace) validate(ctx context.Context, m *schema.WorkflowMap) error {
	result := w.validator.Validate(m)
	for _, warn := range result.Warnings {
		w.logger.DebugContext(ctx, "map validation warning",
			slog.String("path", warn.Path),
			slog.String("code", warn.Code),
			slog.String("message", warn.Message),
		)
	}
	return result.ToError()
}

// emit appends one event, tagging it with the agent from ctx.
func (w *Workspace) emit(ctx context.Context, mapID, itemID, eventType string, payload map[string]any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "encode %s payload: %s", eventType, err.Error()).WithCause(err)
		}
		raw = b
	}
	event := &store.Event{
		MapID:   mapID,
		ItemID:  itemID,
		Type:    eventType,
		Payload: raw,
		AgentID: logging.AgentID(ctx),
	}
	if err := w.events.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", eventType, err.Error()).WithCause(err)
	}
	return nil
}

// Events returns the events of a map with a sequence greater than since.
func (w *Workspace) Events(ctx context.Context, mapID string, since int64) ([]*store.Event, error) {
	return w.events.GetEvents(ctx, mapID, since)
}

// EventsByType returns events of one type across maps.
func (w *Workspace) EventsByType(ctx context.Context, eventType string, filter store.EventFilter) ([]*store.Event, error) {
	return w.events.GetEventsByType(ctx, eventType, filter)
}

// History replays the event log of a map into per-item lifecycles.
func (w *Workspace) History(ctx context.Context, mapID string) (map[string]*store.ItemHistory, error) {
	return w.events.ReplayItems(ctx, mapID)
}
