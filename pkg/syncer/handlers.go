package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/destination"
	"github.com/skeinhq/skein/pkg/entity"
	"github.com/skeinhq/skein/pkg/store"
)

// DestinationSlot pairs a destination client with its write role.
type DestinationSlot struct {
	Dest   destination.Destination
	Shadow bool
}

// DestinationHandler prepares entities per each slot's processing
// requirement and fans writes out to the active and shadow slots. Shadow
// failures are logged and never fail the batch.
type DestinationHandler struct {
	slots    []DestinationSlot
	pipeline *destination.Pipeline
	logger   *slog.Logger
}

// NewDestinationHandler creates the handler. Slots must already be filtered
// to write roles (and by the job's destination filter, when set).
func NewDestinationHandler(slots []DestinationSlot, pipeline *destination.Pipeline, logger *slog.Logger) *DestinationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DestinationHandler{slots: slots, pipeline: pipeline, logger: logger}
}

func (h *DestinationHandler) Name() string { return HandlerDestination }

func (h *DestinationHandler) Apply(ctx context.Context, batch *EntityActionBatch, kind ActionKind, actions []EntityAction) error {
	switch kind {
	case ActionKeep:
		return nil
	case ActionDelete:
		return h.applyDeletes(ctx, actions)
	default:
		return h.applyWrites(ctx, actions)
	}
}

func (h *DestinationHandler) applyWrites(ctx context.Context, actions []EntityAction) error {
	entities := make([]*entity.Entity, len(actions))
	for i, a := range actions {
		entities[i] = a.Entity
	}

	// Prepare once per distinct requirement, not per slot.
	prepared := make(map[destination.ProcessingRequirement][]destination.Prepared)
	for _, slot := range h.slots {
		req := slot.Dest.Requirement()
		if _, done := prepared[req]; done {
			continue
		}
		p, err := h.pipeline.Prepare(ctx, req, entities)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", req, err)
		}
		prepared[req] = p
	}

	for _, slot := range h.slots {
		err := slot.Dest.Upsert(ctx, prepared[slot.Dest.Requirement()])
		if err == nil {
			continue
		}
		if slot.Shadow {
			h.logger.Warn("shadow destination write failed",
				"connection_id", slot.Dest.ConnectionID(), "error", err)
			continue
		}
		return fmt.Errorf("destination %s upsert: %w", slot.Dest.ConnectionID(), err)
	}
	return nil
}

func (h *DestinationHandler) applyDeletes(ctx context.Context, actions []EntityAction) error {
	fps := make([]entity.Fingerprint, len(actions))
	for i, a := range actions {
		fps[i] = a.Entity.Fingerprint()
	}

	for _, slot := range h.slots {
		err := slot.Dest.Delete(ctx, fps)
		if err == nil {
			continue
		}
		if slot.Shadow {
			h.logger.Warn("shadow destination delete failed",
				"connection_id", slot.Dest.ConnectionID(), "error", err)
			continue
		}
		return fmt.Errorf("destination %s delete: %w", slot.Dest.ConnectionID(), err)
	}
	return nil
}

// ArfHandler archives the raw entity payload for later replay. Archive
// errors degrade replayability, not the sync, so they are logged and
// swallowed.
type ArfHandler struct {
	store  arf.Store
	orgID  uuid.UUID
	logger *slog.Logger
}

// NewArfHandler creates the handler.
func NewArfHandler(s arf.Store, orgID uuid.UUID, logger *slog.Logger) *ArfHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArfHandler{store: s, orgID: orgID, logger: logger}
}

func (h *ArfHandler) Name() string { return HandlerARF }

func (h *ArfHandler) Apply(ctx context.Context, batch *EntityActionBatch, kind ActionKind, actions []EntityAction) error {
	if kind == ActionKeep {
		return nil
	}
	for _, a := range actions {
		key := arf.Key{
			OrganizationID: h.orgID,
			SyncID:         batch.SyncID,
			EntityID:       a.Entity.EntityID,
			DefinitionID:   a.Entity.DefinitionID,
		}
		var err error
		if kind == ActionDelete {
			err = h.store.Delete(ctx, key)
		} else {
			var data []byte
			data, err = json.Marshal(a.Entity)
			if err == nil {
				err = h.store.Put(ctx, key, data)
			}
		}
		if err != nil {
			h.logger.Warn("archive write failed", "entity_id", a.Entity.EntityID, "error", err)
		}
	}
	return nil
}

// RecordsHandler advances entity record state. It registers after the
// destination handler so records only move when the destination accepted
// the write.
type RecordsHandler struct {
	cfg               ResolverConfig
	records           store.EntityRecordStore
	collectionRecords store.CollectionRecordStore
}

// NewRecordsHandler creates the handler. collectionRecords may be nil when
// collection dedup is off.
func NewRecordsHandler(cfg ResolverConfig, records store.EntityRecordStore, collectionRecords store.CollectionRecordStore) *RecordsHandler {
	return &RecordsHandler{cfg: cfg, records: records, collectionRecords: collectionRecords}
}

func (h *RecordsHandler) Name() string { return HandlerRecords }

func (h *RecordsHandler) Apply(ctx context.Context, batch *EntityActionBatch, kind ActionKind, actions []EntityAction) error {
	keys := make([]store.RecordKey, len(actions))
	for i, a := range actions {
		keys[i] = store.RecordKey{EntityID: a.Entity.EntityID, DefinitionID: a.Entity.DefinitionID}
	}

	switch kind {
	case ActionKeep:
		return h.records.BumpLastSeen(ctx, h.cfg.OrganizationID, h.cfg.SyncID, keys, h.cfg.JobID)

	case ActionDelete:
		if err := h.records.DeleteBatch(ctx, h.cfg.OrganizationID, h.cfg.SyncID, keys); err != nil {
			return err
		}
		if h.cfg.CollectionDedup && h.collectionRecords != nil {
			return h.collectionRecords.DeleteBatch(ctx, h.cfg.OrganizationID, h.cfg.CollectionID, keys)
		}
		return nil

	default:
		records := make([]store.EntityRecord, len(actions))
		for i, a := range actions {
			records[i] = store.EntityRecord{
				OrganizationID: h.cfg.OrganizationID,
				SyncID:         h.cfg.SyncID,
				EntityID:       a.Entity.EntityID,
				DefinitionID:   a.Entity.DefinitionID,
				Hash:           a.Entity.Hash,
				LastSeenJobID:  h.cfg.JobID,
			}
		}
		if err := h.records.Upsert(ctx, records); err != nil {
			return err
		}
		if h.cfg.CollectionDedup && h.collectionRecords != nil {
			collRecords := make([]store.CollectionEntityRecord, len(actions))
			for i, a := range actions {
				collRecords[i] = store.CollectionEntityRecord{
					OrganizationID: h.cfg.OrganizationID,
					CollectionID:   h.cfg.CollectionID,
					SyncID:         h.cfg.SyncID,
					EntityID:       a.Entity.EntityID,
					DefinitionID:   a.Entity.DefinitionID,
					Hash:           a.Entity.Hash,
				}
			}
			return h.collectionRecords.Upsert(ctx, collRecords)
		}
		return nil
	}
}
