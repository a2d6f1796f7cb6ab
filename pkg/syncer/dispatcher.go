package syncer

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler names, used by skip_content_handlers and execution config.
const (
	HandlerDestination = "destination"
	HandlerARF         = "arf"
	HandlerRecords     = "entity_records"
)

// ContentHandler applies one kind-group of actions. Handlers are invoked in
// registration order for each action kind.
type ContentHandler interface {
	Name() string
	// Apply processes the given actions, all of the same kind. Tolerant
	// handlers log and return nil; a returned error aborts the batch.
	Apply(ctx context.Context, batch *EntityActionBatch, kind ActionKind, actions []EntityAction) error
}

// Dispatcher routes resolved batches through the registered handlers in the
// fixed kind order Delete, Update, Insert, Keep.
type Dispatcher struct {
	handlers []ContentHandler
	tracker  *EntityTracker
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given handlers. Handler order
// matters: record state must only advance after the destination accepted the
// write, so the records handler registers last.
func NewDispatcher(tracker *EntityTracker, logger *slog.Logger, handlers ...ContentHandler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: handlers, tracker: tracker, logger: logger}
}

// Dispatch applies the batch. On handler error the batch is aborted; actions
// already applied stay applied (at-least-once at the source boundary).
func (d *Dispatcher) Dispatch(ctx context.Context, batch *EntityActionBatch) error {
	active := d.handlers[:0:0]
	for _, h := range d.handlers {
		if batch.Skips(h.Name()) {
			d.logger.Debug("handler skipped for batch", "handler", h.Name(), "job_id", batch.JobID)
			continue
		}
		active = append(active, h)
	}

	for _, kind := range dispatchOrder {
		actions := batch.ByKind(kind)
		if len(actions) == 0 {
			continue
		}
		for _, h := range active {
			if err := h.Apply(ctx, batch, kind, actions); err != nil {
				return fmt.Errorf("syncer: handler %s failed on %s: %w", h.Name(), kind, err)
			}
		}
		for _, a := range actions {
			d.tracker.Record(kind, a.Entity.DefinitionID)
		}
	}
	return nil
}
