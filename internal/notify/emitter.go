package notify

import (
	"context"
	"log/slog"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// EventRecorder persists events. *store.Store implements it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev lrs.Event) (bool, error)
}

// StoreEmitter writes events straight to the event log.
type StoreEmitter struct {
	recorder EventRecorder
	logger   *slog.Logger
}

func NewStoreEmitter(recorder EventRecorder, logger *slog.Logger) *StoreEmitter {
	return &StoreEmitter{recorder: recorder, logger: logger.With("component", "events.store")}
}

// Emit never fails the caller; a lost event is logged.
func (e *StoreEmitter) Emit(ctx context.Context, ev lrs.Event) {
	inserted, err := e.recorder.RecordEvent(ctx, ev)
	if err != nil {
		e.logger.Warn("record event failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return
	}
	e.logger.Debug("event recorded", "event_id", ev.ID, "kind", ev.Kind, "inserted", inserted)
}
