package arf

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/entity"
)

// replayBatchSize caps how many archived payloads one batch decodes.
const replayBatchSize = 100

// ReplaySource streams a sync's archived entities as if they came from the
// original connector. Used to hydrate a freshly forked destination without
// touching the upstream source.
type ReplaySource struct {
	store  Store
	orgID  uuid.UUID
	syncID uuid.UUID

	keys   []Key
	offset int
	loaded bool
}

// NewReplaySource creates a replay stream over the sync's archive.
func NewReplaySource(store Store, orgID, syncID uuid.UUID) *ReplaySource {
	return &ReplaySource{store: store, orgID: orgID, syncID: syncID}
}

func (r *ReplaySource) NextBatch(ctx context.Context) ([]*entity.Entity, bool, error) {
	if !r.loaded {
		keys, err := r.store.List(ctx, r.orgID, r.syncID)
		if err != nil {
			return nil, false, fmt.Errorf("arf: replay listing failed: %w", err)
		}
		r.keys = keys
		r.loaded = true
	}

	if r.offset >= len(r.keys) {
		return nil, true, nil
	}

	end := r.offset + replayBatchSize
	if end > len(r.keys) {
		end = len(r.keys)
	}

	batch := make([]*entity.Entity, 0, end-r.offset)
	for _, key := range r.keys[r.offset:end] {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("arf: replay read failed: %w", err)
		}
		var ent entity.Entity
		if err := json.Unmarshal(data, &ent); err != nil {
			return nil, false, fmt.Errorf("arf: replay decode failed for %s: %w", key.Path(), err)
		}
		batch = append(batch, &ent)
	}
	r.offset = end

	return batch, r.offset >= len(r.keys), nil
}

// Cursor always returns nil: replays are not resumable and never commit
// cursors.
func (r *ReplaySource) Cursor() []byte { return nil }
