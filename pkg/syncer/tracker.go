package syncer

import (
	"sync"

	"github.com/skeinhq/skein/pkg/domain"
)

// EntityTracker accumulates per-job counters by entity type. It drives the
// entity.batch_processed events and the final job stats record.
type EntityTracker struct {
	mu     sync.Mutex
	byType map[string]*domain.JobStats
	totals domain.JobStats
}

// NewEntityTracker creates an empty tracker.
func NewEntityTracker() *EntityTracker {
	return &EntityTracker{byType: make(map[string]*domain.JobStats)}
}

func (t *EntityTracker) bucket(definitionID string) *domain.JobStats {
	s, ok := t.byType[definitionID]
	if !ok {
		s = &domain.JobStats{}
		t.byType[definitionID] = s
	}
	return s
}

// Record counts one applied action.
func (t *EntityTracker) Record(kind ActionKind, definitionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.bucket(definitionID)
	switch kind {
	case ActionInsert:
		s.Inserted++
		t.totals.Inserted++
	case ActionUpdate:
		s.Updated++
		t.totals.Updated++
	case ActionDelete:
		s.Deleted++
		t.totals.Deleted++
	case ActionKeep:
		s.Kept++
		t.totals.Kept++
	}
}

// RecordSkip counts an entity dropped before resolution (filter or dedup).
func (t *EntityTracker) RecordSkip(definitionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bucket(definitionID).Skipped++
	t.totals.Skipped++
}

// Totals returns the aggregate counters.
func (t *EntityTracker) Totals() domain.JobStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// ByType returns a copy of the per-type counters.
func (t *EntityTracker) ByType() map[string]domain.JobStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.JobStats, len(t.byType))
	for k, v := range t.byType {
		out[k] = *v
	}
	return out
}

// Diff returns the change in totals since prev. Used to emit per-batch
// counts from cumulative state.
func (t *EntityTracker) Diff(prev domain.JobStats) domain.JobStats {
	cur := t.Totals()
	return domain.JobStats{
		Inserted: cur.Inserted - prev.Inserted,
		Updated:  cur.Updated - prev.Updated,
		Deleted:  cur.Deleted - prev.Deleted,
		Kept:     cur.Kept - prev.Kept,
		Skipped:  cur.Skipped - prev.Skipped,
	}
}
