package syncer

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/destination"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/entity"
	"github.com/skeinhq/skein/pkg/events"
	"github.com/skeinhq/skein/pkg/store"
)

// stubSource yields canned batches and a cursor per batch.
type stubSource struct {
	batches [][]*entity.Entity
	cursors []string
	idx     int
}

func (s *stubSource) NextBatch(context.Context) ([]*entity.Entity, bool, error) {
	if s.idx >= len(s.batches) {
		return nil, true, nil
	}
	batch := s.batches[s.idx]
	s.idx++
	return batch, s.idx >= len(s.batches), nil
}

func (s *stubSource) Cursor() []byte {
	if s.idx == 0 || s.idx > len(s.cursors) {
		return nil
	}
	return []byte(s.cursors[s.idx-1])
}

// eventLog collects published event types in delivery order.
type eventLog struct {
	mu    sync.Mutex
	types []string
	last  map[string]events.Event
}

func newEventLog(bus *events.Bus) *eventLog {
	l := &eventLog{last: make(map[string]events.Event)}
	bus.Subscribe("test-log", func(ev events.Event) error {
		l.mu.Lock()
		l.types = append(l.types, ev.Type())
		l.last[ev.Type()] = ev
		l.mu.Unlock()
		return nil
	}, "*")
	return l
}

func (l *eventLog) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

func (l *eventLog) Last(eventType string) events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last[eventType]
}

type testRun struct {
	mem     *store.Memory
	bus     *events.Bus
	log     *eventLog
	dest    *destination.Memory
	archive *arf.MemoryStore
	job     *domain.SyncJob
	orgID   uuid.UUID
	syncID  uuid.UUID
}

func newTestRuntime(t *testing.T, src *stubSource, billable, fullSync bool) (*Orchestrator, *testRun) {
	t.Helper()

	run := &testRun{
		mem:     store.NewMemory(),
		bus:     events.NewBus(nil),
		dest:    destination.NewMemory(uuid.New(), destination.TextOnly),
		archive: arf.NewMemoryStore(),
		orgID:   uuid.New(),
		syncID:  uuid.New(),
	}
	run.log = newEventLog(run.bus)
	run.job = &domain.SyncJob{
		ID:             uuid.New(),
		SyncID:         run.syncID,
		OrganizationID: run.orgID,
		Status:         domain.JobCreated,
	}

	rcfg := ResolverConfig{
		OrganizationID: run.orgID,
		SyncID:         run.syncID,
		JobID:          run.job.ID,
	}
	pipeline, err := destination.NewPipeline(domain.EmbeddingConfig{}, nil, nil)
	require.NoError(t, err)

	tracker := NewEntityTracker()
	rt := Runtime{
		Job:      run.job,
		Sync:     &domain.Sync{ID: run.syncID, OrganizationID: run.orgID},
		Source:   src,
		Resolver: NewResolver(rcfg, run.mem, nil),
		Dispatcher: NewDispatcher(tracker, nil,
			NewDestinationHandler([]DestinationSlot{{Dest: run.dest}}, pipeline, nil),
			NewArfHandler(run.archive, run.orgID, nil),
			NewRecordsHandler(rcfg, run.mem, nil),
		),
		Tracker:   tracker,
		Jobs:      run.mem,
		Cursors:   store.MemoryCursorStore{Memory: run.mem},
		Bus:       run.bus,
		Billable:  billable,
		FullSync:  fullSync,
		BatchSize: 2,
	}
	return NewOrchestrator(rt), run
}

func TestRunHappyPath(t *testing.T) {
	syncID := uuid.New()
	src := &stubSource{
		batches: [][]*entity.Entity{
			{testEntity(syncID, "a", "body"), testEntity(syncID, "b", "body")},
			{testEntity(syncID, "c", "body")},
		},
		cursors: []string{`{"page":1}`, `{"page":2}`},
	}
	o, run := newTestRuntime(t, src, true, false)

	require.NoError(t, o.Run(context.Background()))
	run.bus.Drain()

	assert.Equal(t, domain.JobCompleted, run.job.Status)
	require.NotNil(t, run.job.Stats)
	assert.Equal(t, int64(3), run.job.Stats.Inserted)
	assert.NotNil(t, run.job.StartedAt)
	assert.NotNil(t, run.job.FinishedAt)

	types := run.log.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeSyncStarted, types[0], "sync.started precedes all batch events")
	assert.Equal(t, events.TypeSyncCompleted, types[len(types)-1], "sync.completed is last")
	assert.Contains(t, types, events.TypeEntityBatchProcessed)

	batchEv := run.log.Last(events.TypeEntityBatchProcessed).(events.EntityBatchProcessed)
	assert.True(t, batchEv.Billable)

	assert.Equal(t, 3, run.dest.Len())
	assert.Equal(t, 3, run.archive.Len())

	cursor, err := run.mem.GetCursor(context.Background(), run.orgID, run.syncID)
	require.NoError(t, err)
	assert.Equal(t, `{"page":2}`, string(cursor), "cursor ends at the last successful batch")
}

func TestRunSourceErrorFailsJob(t *testing.T) {
	o, run := newTestRuntime(t, &stubSource{}, true, false)
	// Swap in a source that fails immediately.
	o.rt.Source = failingSource{}

	err := o.Run(context.Background())
	require.Error(t, err)
	run.bus.Drain()

	assert.Equal(t, domain.JobFailed, run.job.Status)
	assert.NotEmpty(t, run.job.Error)

	types := run.log.Types()
	assert.Equal(t, events.TypeSyncFailed, types[len(types)-1])
	failEv := run.log.Last(events.TypeSyncFailed).(events.SyncLifecycle)
	assert.Equal(t, string(apierror.KindSyncFailure), failEv.ErrorKind)
}

type failingSource struct{}

func (failingSource) NextBatch(context.Context) ([]*entity.Entity, bool, error) {
	return nil, false, assert.AnError
}
func (failingSource) Cursor() []byte { return nil }

func TestRunRefusesConcurrentJob(t *testing.T) {
	src := &stubSource{}
	o, run := newTestRuntime(t, src, true, false)

	// Another job of the same sync is already running.
	running := &domain.SyncJob{
		ID: uuid.New(), SyncID: run.syncID, OrganizationID: run.orgID,
		Status: domain.JobRunning,
	}
	require.NoError(t, run.mem.Create(context.Background(), running))

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierror.KindInvalidState, apierror.KindOf(err))
	assert.Empty(t, run.log.Types(), "no events published for a refused run")
}

func TestRunOrphanDetectionFullSyncOnly(t *testing.T) {
	ctx := context.Background()
	syncID := uuid.New()

	src := &stubSource{batches: [][]*entity.Entity{{testEntity(syncID, "kept", "body")}}}
	o, run := newTestRuntime(t, src, true, true)

	// A record from an earlier run the source no longer emits.
	require.NoError(t, run.mem.Upsert(ctx, []store.EntityRecord{{
		OrganizationID: run.orgID, SyncID: run.syncID,
		EntityID: "stale", DefinitionID: "web_page", Hash: "old", LastSeenJobID: uuid.New(),
	}}))

	require.NoError(t, o.Run(ctx))
	run.bus.Drain()

	require.NotNil(t, run.job.Stats)
	assert.Equal(t, int64(1), run.job.Stats.Deleted, "orphan deleted on full sync")
	assert.Equal(t, int64(1), run.job.Stats.Inserted)

	got, err := run.mem.GetBatch(ctx, run.orgID, run.syncID, []store.RecordKey{{EntityID: "stale", DefinitionID: "web_page"}})
	require.NoError(t, err)
	assert.Empty(t, got, "orphan record removed")
}

func TestRunIncrementalSkipsOrphanDetection(t *testing.T) {
	ctx := context.Background()
	syncID := uuid.New()

	src := &stubSource{batches: [][]*entity.Entity{{testEntity(syncID, "new", "body")}}}
	o, run := newTestRuntime(t, src, true, false)

	require.NoError(t, run.mem.Upsert(ctx, []store.EntityRecord{{
		OrganizationID: run.orgID, SyncID: run.syncID,
		EntityID: "stale", DefinitionID: "web_page", Hash: "old", LastSeenJobID: uuid.New(),
	}}))

	require.NoError(t, o.Run(ctx))

	got, err := run.mem.GetBatch(ctx, run.orgID, run.syncID, []store.RecordKey{{EntityID: "stale", DefinitionID: "web_page"}})
	require.NoError(t, err)
	assert.Len(t, got, 1, "incremental runs never delete orphans")
}

func TestRunCancellation(t *testing.T) {
	syncID := uuid.New()
	src := &stubSource{
		batches: [][]*entity.Entity{
			{testEntity(syncID, "a", "body"), testEntity(syncID, "b", "body")},
			{testEntity(syncID, "c", "body")},
		},
	}
	o, run := newTestRuntime(t, src, true, false)
	o.Cancel()

	require.NoError(t, o.Run(context.Background()))
	run.bus.Drain()

	assert.Equal(t, domain.JobCancelled, run.job.Status)
	types := run.log.Types()
	assert.Contains(t, types, events.TypeSyncCancelled)
	assert.NotContains(t, types, events.TypeSyncCompleted)
	assert.Equal(t, 0, run.dest.Len(), "cancellation before the first boundary writes nothing")
}

func TestRunBillableFollowsConfig(t *testing.T) {
	syncID := uuid.New()
	src := &stubSource{batches: [][]*entity.Entity{{testEntity(syncID, "a", "body")}}}
	o, run := newTestRuntime(t, src, false, false)

	require.NoError(t, o.Run(context.Background()))
	run.bus.Drain()

	batchEv := run.log.Last(events.TypeEntityBatchProcessed).(events.EntityBatchProcessed)
	assert.False(t, batchEv.Billable, "replay runs are never billable")
}
