package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/entity"
	"github.com/skeinhq/skein/pkg/store"
)

// ResolverConfig scopes a resolver to one job run.
type ResolverConfig struct {
	OrganizationID uuid.UUID
	SyncID         uuid.UUID
	CollectionID   uuid.UUID
	JobID          uuid.UUID

	// CollectionDedup resolves against collection-level records shared
	// across source connections instead of per-sync records.
	CollectionDedup bool

	// SkipHashComparison resolves every non-deletion entity to insert or
	// update on presence alone. Used for ARF replays.
	SkipHashComparison bool

	// SkipUpdates downgrades Update actions to Keep.
	SkipUpdates bool
}

// Resolver turns incoming entities into an EntityActionBatch by comparing
// them with stored records.
type Resolver struct {
	cfg               ResolverConfig
	records           store.EntityRecordStore
	collectionRecords store.CollectionRecordStore
}

// NewResolver creates a resolver. collectionRecords may be nil when
// collection dedup is off.
func NewResolver(cfg ResolverConfig, records store.EntityRecordStore, collectionRecords store.CollectionRecordStore) *Resolver {
	return &Resolver{cfg: cfg, records: records, collectionRecords: collectionRecords}
}

// Resolve emits the action batches for one incoming batch: the primary batch
// and, under collection dedup, a second batch of losing entities whose
// destination writes are suppressed.
func (r *Resolver) Resolve(ctx context.Context, incoming []*entity.Entity) ([]EntityActionBatch, error) {
	keys := make([]store.RecordKey, 0, len(incoming))
	for _, ent := range incoming {
		if err := ent.Validate(); err != nil {
			return nil, apierror.Wrap(apierror.KindSyncFailure, "malformed entity in batch", err)
		}
		if !ent.IsDeletion() {
			if err := ent.EnsureHash(); err != nil {
				return nil, apierror.Wrap(apierror.KindSyncFailure, "failed to hash entity", err)
			}
		}
		keys = append(keys, store.RecordKey{EntityID: ent.EntityID, DefinitionID: ent.DefinitionID})
	}

	if r.cfg.CollectionDedup {
		return r.resolveCollection(ctx, incoming, keys)
	}
	return r.resolvePerSync(ctx, incoming, keys)
}

func (r *Resolver) resolvePerSync(ctx context.Context, incoming []*entity.Entity, keys []store.RecordKey) ([]EntityActionBatch, error) {
	stored, err := r.records.GetBatch(ctx, r.cfg.OrganizationID, r.cfg.SyncID, keys)
	if err != nil {
		return nil, fmt.Errorf("syncer: failed to load entity records: %w", err)
	}

	batch := r.newBatch(nil)
	for i, ent := range incoming {
		rec, present := stored[keys[i]]
		kind, ok := r.resolveOne(ent, present, rec.Hash)
		if !ok {
			continue
		}
		batch.Actions = append(batch.Actions, EntityAction{Kind: kind, Entity: ent})
	}
	return []EntityActionBatch{batch}, nil
}

func (r *Resolver) resolveCollection(ctx context.Context, incoming []*entity.Entity, keys []store.RecordKey) ([]EntityActionBatch, error) {
	stored, err := r.collectionRecords.GetBatch(ctx, r.cfg.OrganizationID, r.cfg.CollectionID, keys)
	if err != nil {
		return nil, fmt.Errorf("syncer: failed to load collection records: %w", err)
	}

	winners := r.newBatch(nil)
	losers := r.newBatch(map[string]struct{}{HandlerDestination: {}})
	for i, ent := range incoming {
		rec, present := stored[keys[i]]
		if present && rec.SyncID != r.cfg.SyncID {
			// Another source connection already owns the entity. The loser
			// keeps its metadata current but never re-writes the destination.
			if ent.IsDeletion() {
				continue
			}
			losers.Actions = append(losers.Actions, EntityAction{Kind: ActionKeep, Entity: ent})
			continue
		}
		kind, ok := r.resolveOne(ent, present, rec.Hash)
		if !ok {
			continue
		}
		winners.Actions = append(winners.Actions, EntityAction{Kind: kind, Entity: ent})
	}

	out := []EntityActionBatch{winners}
	if !losers.Empty() {
		out = append(out, losers)
	}
	return out, nil
}

// resolveOne applies the resolution table to one entity. ok=false means the
// entity is dropped (deletion of an absent record).
func (r *Resolver) resolveOne(ent *entity.Entity, present bool, storedHash string) (ActionKind, bool) {
	if ent.IsDeletion() {
		if !present {
			return "", false
		}
		return ActionDelete, true
	}

	var kind ActionKind
	switch {
	case !present:
		kind = ActionInsert
	case r.cfg.SkipHashComparison:
		kind = ActionUpdate
	case ent.Hash == storedHash:
		kind = ActionKeep
	default:
		kind = ActionUpdate
	}

	if kind == ActionUpdate && r.cfg.SkipUpdates {
		kind = ActionKeep
	}
	return kind, true
}

// ResolveOrphans returns a Delete batch for every record the finished full
// sync did not see. Callers must only invoke it after the last batch of a
// full sync has bumped every live record.
func (r *Resolver) ResolveOrphans(ctx context.Context) (EntityActionBatch, error) {
	batch := r.newBatch(nil)
	orphans, err := r.records.ListNotSeenInJob(ctx, r.cfg.OrganizationID, r.cfg.SyncID, r.cfg.JobID)
	if err != nil {
		return batch, fmt.Errorf("syncer: failed to list orphans: %w", err)
	}
	for _, rec := range orphans {
		marker := entity.NewDeletion(rec.EntityID, rec.DefinitionID, r.cfg.SyncID, r.cfg.CollectionID)
		batch.Actions = append(batch.Actions, EntityAction{Kind: ActionDelete, Entity: marker})
	}
	return batch, nil
}

func (r *Resolver) newBatch(skip map[string]struct{}) EntityActionBatch {
	return EntityActionBatch{
		JobID:               r.cfg.JobID,
		SyncID:              r.cfg.SyncID,
		OrganizationID:      r.cfg.OrganizationID,
		SkipContentHandlers: skip,
	}
}
