// Package store owns the core's persistent state: entity records,
// collection records, sync jobs, and cursors. Every row carries an
// organization id and every query is org-scoped; the tenant guard turns any
// cross-tenant row observed at the boundary into a data-integrity failure.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

// RecordKey identifies an entity within a sync or collection scope.
type RecordKey struct {
	EntityID     string
	DefinitionID string
}

// EntityRecord is the per-sync dedup state for one entity.
type EntityRecord struct {
	OrganizationID uuid.UUID
	SyncID         uuid.UUID
	EntityID       string
	DefinitionID   string
	Hash           string
	LastSeenJobID  uuid.UUID
	UpdatedAt      time.Time
}

// Key returns the record's key within its sync.
func (r EntityRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, DefinitionID: r.DefinitionID}
}

// CollectionEntityRecord is the optional collection-level dedup state.
// SyncID records which source connection's sync won the entity.
type CollectionEntityRecord struct {
	OrganizationID uuid.UUID
	CollectionID   uuid.UUID
	SyncID         uuid.UUID
	EntityID       string
	DefinitionID   string
	Hash           string
	UpdatedAt      time.Time
}

// Key returns the record's key within its collection.
func (r CollectionEntityRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, DefinitionID: r.DefinitionID}
}

// EntityRecordStore persists per-sync entity records.
type EntityRecordStore interface {
	// GetBatch loads the stored records for the given keys.
	GetBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) (map[RecordKey]EntityRecord, error)
	// Upsert writes records, replacing hash and last-seen job.
	Upsert(ctx context.Context, records []EntityRecord) error
	// BumpLastSeen advances last_seen_job_id without touching the hash.
	BumpLastSeen(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey, jobID uuid.UUID) error
	// DeleteBatch removes records.
	DeleteBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) error
	// ListNotSeenInJob returns records whose last_seen_job_id differs from
	// jobID. After a full sync has bumped every live entity, these are the
	// orphans.
	ListNotSeenInJob(ctx context.Context, orgID, syncID, jobID uuid.UUID) ([]EntityRecord, error)
}

// CollectionRecordStore persists collection-level dedup records.
type CollectionRecordStore interface {
	GetBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) (map[RecordKey]CollectionEntityRecord, error)
	Upsert(ctx context.Context, records []CollectionEntityRecord) error
	DeleteBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) error
}

// SyncJobStore persists sync job rows.
type SyncJobStore interface {
	Create(ctx context.Context, job *domain.SyncJob) error
	Get(ctx context.Context, orgID, jobID uuid.UUID) (*domain.SyncJob, error)
	// Update persists status, stats, error, and timestamps.
	Update(ctx context.Context, job *domain.SyncJob) error
	// ListBySync returns the sync's jobs ordered newest first.
	ListBySync(ctx context.Context, orgID, syncID uuid.UUID) ([]domain.SyncJob, error)
	// HasActive reports whether the sync has a job in pending or running.
	HasActive(ctx context.Context, orgID, syncID uuid.UUID) (bool, error)
}

// CursorStore persists the per-sync resumption cursor.
type CursorStore interface {
	// Get returns the interior cursor bytes, nil when none committed yet.
	Get(ctx context.Context, orgID, syncID uuid.UUID) ([]byte, error)
	// Commit overwrites the cursor. Callers commit in batch order only;
	// the store never resurrects an older value.
	Commit(ctx context.Context, orgID, syncID uuid.UUID, data []byte) error
}
