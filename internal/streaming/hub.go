// Package streaming fans appended map events out to in-process listeners,
// such as agents waiting for work to become ready.
package streaming

import (
	"context"

	"github.com/rendis/flowmap/internal/store"
)

// Filter selects the events a subscriber receives. Empty fields match all.
type Filter struct {
	MapID      string   `json:"map_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *store.Event) bool {
	if f.MapID != "" && f.MapID != e.MapID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.Type {
			return true
		}
	}
	return false
}

// EventHub provides pub/sub for events after they reach the event log.
type EventHub interface {
	Publish(ctx context.Context, event *store.Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan *store.Event, func(), error)
}
