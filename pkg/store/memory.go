package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

type syncScope struct {
	orgID  uuid.UUID
	syncID uuid.UUID
}

type collScope struct {
	orgID        uuid.UUID
	collectionID uuid.UUID
}

// Memory implements every core store in process. Used for single-node dev
// mode and throughout the pipeline tests.
type Memory struct {
	mu sync.RWMutex

	entityRecords     map[syncScope]map[RecordKey]EntityRecord
	collectionRecords map[collScope]map[RecordKey]CollectionEntityRecord
	jobs              map[uuid.UUID]domain.SyncJob
	cursors           map[syncScope][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entityRecords:     make(map[syncScope]map[RecordKey]EntityRecord),
		collectionRecords: make(map[collScope]map[RecordKey]CollectionEntityRecord),
		jobs:              make(map[uuid.UUID]domain.SyncJob),
		cursors:           make(map[syncScope][]byte),
	}
}

func (m *Memory) GetBatch(_ context.Context, orgID, syncID uuid.UUID, keys []RecordKey) (map[RecordKey]EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scope := syncScope{orgID, syncID}
	out := make(map[RecordKey]EntityRecord)
	for _, key := range keys {
		if rec, ok := m.entityRecords[scope][key]; ok {
			out[key] = rec
		}
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, records []EntityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		scope := syncScope{rec.OrganizationID, rec.SyncID}
		if m.entityRecords[scope] == nil {
			m.entityRecords[scope] = make(map[RecordKey]EntityRecord)
		}
		rec.UpdatedAt = time.Now().UTC()
		m.entityRecords[scope][rec.Key()] = rec
	}
	return nil
}

func (m *Memory) BumpLastSeen(_ context.Context, orgID, syncID uuid.UUID, keys []RecordKey, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := syncScope{orgID, syncID}
	for _, key := range keys {
		if rec, ok := m.entityRecords[scope][key]; ok {
			rec.LastSeenJobID = jobID
			rec.UpdatedAt = time.Now().UTC()
			m.entityRecords[scope][key] = rec
		}
	}
	return nil
}

func (m *Memory) DeleteBatch(_ context.Context, orgID, syncID uuid.UUID, keys []RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := syncScope{orgID, syncID}
	for _, key := range keys {
		delete(m.entityRecords[scope], key)
	}
	return nil
}

func (m *Memory) ListNotSeenInJob(_ context.Context, orgID, syncID, jobID uuid.UUID) ([]EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EntityRecord
	for _, rec := range m.entityRecords[syncScope{orgID, syncID}] {
		if rec.LastSeenJobID != jobID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Collection record store.

func (m *Memory) GetCollectionBatch(_ context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) (map[RecordKey]CollectionEntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scope := collScope{orgID, collectionID}
	out := make(map[RecordKey]CollectionEntityRecord)
	for _, key := range keys {
		if rec, ok := m.collectionRecords[scope][key]; ok {
			out[key] = rec
		}
	}
	return out, nil
}

func (m *Memory) UpsertCollection(_ context.Context, records []CollectionEntityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		scope := collScope{rec.OrganizationID, rec.CollectionID}
		if m.collectionRecords[scope] == nil {
			m.collectionRecords[scope] = make(map[RecordKey]CollectionEntityRecord)
		}
		rec.UpdatedAt = time.Now().UTC()
		m.collectionRecords[scope][rec.Key()] = rec
	}
	return nil
}

func (m *Memory) DeleteCollectionBatch(_ context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := collScope{orgID, collectionID}
	for _, key := range keys {
		delete(m.collectionRecords[scope], key)
	}
	return nil
}

// Job store.

func (m *Memory) Create(_ context.Context, job *domain.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) Get(_ context.Context, orgID, jobID uuid.UUID) (*domain.SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok || job.OrganizationID != orgID {
		return nil, errJobNotFound
	}
	out := job
	return &out, nil
}

func (m *Memory) Update(_ context.Context, job *domain.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return errJobNotFound
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *Memory) ListBySync(_ context.Context, orgID, syncID uuid.UUID) ([]domain.SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SyncJob
	for _, job := range m.jobs {
		if job.OrganizationID == orgID && job.SyncID == syncID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) HasActive(_ context.Context, orgID, syncID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if job.OrganizationID != orgID || job.SyncID != syncID {
			continue
		}
		if job.Status == domain.JobPending || job.Status == domain.JobRunning || job.Status == domain.JobCancelling {
			return true, nil
		}
	}
	return false, nil
}

// Cursor store.

func (m *Memory) GetCursor(_ context.Context, orgID, syncID uuid.UUID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data := m.cursors[syncScope{orgID, syncID}]
	if data == nil {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) CommitCursor(_ context.Context, orgID, syncID uuid.UUID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.cursors[syncScope{orgID, syncID}] = stored
	return nil
}

// Adapters exposing the Memory store under each narrow interface.

// MemoryCursorStore adapts Memory to CursorStore.
type MemoryCursorStore struct{ *Memory }

func (s MemoryCursorStore) Get(ctx context.Context, orgID, syncID uuid.UUID) ([]byte, error) {
	return s.GetCursor(ctx, orgID, syncID)
}

func (s MemoryCursorStore) Commit(ctx context.Context, orgID, syncID uuid.UUID, data []byte) error {
	return s.CommitCursor(ctx, orgID, syncID, data)
}

// MemoryCollectionRecordStore adapts Memory to CollectionRecordStore.
type MemoryCollectionRecordStore struct{ *Memory }

func (s MemoryCollectionRecordStore) GetBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) (map[RecordKey]CollectionEntityRecord, error) {
	return s.GetCollectionBatch(ctx, orgID, collectionID, keys)
}

func (s MemoryCollectionRecordStore) Upsert(ctx context.Context, records []CollectionEntityRecord) error {
	return s.UpsertCollection(ctx, records)
}

func (s MemoryCollectionRecordStore) DeleteBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) error {
	return s.DeleteCollectionBatch(ctx, orgID, collectionID, keys)
}
