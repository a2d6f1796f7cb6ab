// Package syncer is the sync execution engine: it resolves incoming entities
// against stored records into actions, dispatches those actions through the
// content handlers, and drives one job run end to end.
package syncer

import (
	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/entity"
)

// ActionKind classifies what the pipeline does with one entity.
type ActionKind string

const (
	ActionInsert ActionKind = "insert"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
	ActionKeep   ActionKind = "keep"
)

// dispatchOrder is the fixed order action kinds are applied within a batch.
var dispatchOrder = []ActionKind{ActionDelete, ActionUpdate, ActionInsert, ActionKeep}

// EntityAction pairs an entity with its resolved action.
type EntityAction struct {
	Kind   ActionKind
	Entity *entity.Entity
}

// EntityActionBatch is one resolved batch headed for the dispatcher.
// SkipContentHandlers names handlers dropped for this batch; it is how
// collection-dedup losers update metadata without re-writing the destination.
type EntityActionBatch struct {
	JobID               uuid.UUID
	SyncID              uuid.UUID
	OrganizationID      uuid.UUID
	Actions             []EntityAction
	SkipContentHandlers map[string]struct{}
}

// Skips reports whether the named handler is dropped for this batch.
func (b *EntityActionBatch) Skips(handler string) bool {
	_, ok := b.SkipContentHandlers[handler]
	return ok
}

// ByKind returns the batch's actions of one kind, preserving resolver order.
func (b *EntityActionBatch) ByKind(kind ActionKind) []EntityAction {
	var out []EntityAction
	for _, a := range b.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Empty reports whether the batch carries no actions.
func (b *EntityActionBatch) Empty() bool { return len(b.Actions) == 0 }
