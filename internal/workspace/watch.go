package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/streaming"
)

// MaxWait caps how long WaitEvents blocks.
const MaxWait = time.Minute

// publishingLog forwards every appended event to a hub once the log has
// assigned its sequence.
type publishingLog struct {
	EventLogger
	hub    streaming.EventHub
	logger *slog.Logger
}

func (p *publishingLog) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := p.EventLogger.AppendEvent(ctx, event); err != nil {
		return err
	}
	// Listeners re-read the log, so a failed publish only delays them.
	if err := p.hub.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// WaitEvents returns the events of mapID after sequence since. When there
// are none it blocks until one is appended, wait elapses, or ctx is done,
// and then returns whatever the log holds (possibly nothing). Without a hub
// it never blocks.
func (w *Workspace) WaitEvents(ctx context.Context, mapID string, since int64, wait time.Duration) ([]*store.Event, error) {
	if w.hub == nil || wait <= 0 {
		return w.events.GetEvents(ctx, mapID, since)
	}
	if wait > MaxWait {
		wait = MaxWait
	}

	// Subscribe before reading so an append between the two is not missed.
	ch, cancel, err := w.hub.Subscribe(ctx, streaming.Filter{MapID: mapID})
	if err != nil {
		return nil, err
	}
	defer cancel()

	events, err := w.events.GetEvents(ctx, mapID, since)
	if err != nil || len(events) > 0 {
		return events, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return w.events.GetEvents(ctx, mapID, since)
		case e, ok := <-ch:
			if !ok || e.Sequence > since {
				return w.events.GetEvents(ctx, mapID, since)
			}
		}
	}
}
