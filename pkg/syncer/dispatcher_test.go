package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/destination"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/entity"
	"github.com/skeinhq/skein/pkg/store"
)

type recordingHandler struct {
	name  string
	calls []ActionKind
	fail  bool
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Apply(_ context.Context, _ *EntityActionBatch, kind ActionKind, _ []EntityAction) error {
	if h.fail {
		return errors.New("boom")
	}
	h.calls = append(h.calls, kind)
	return nil
}

func actionsOfEachKind(syncID uuid.UUID) []EntityAction {
	return []EntityAction{
		{Kind: ActionInsert, Entity: testEntity(syncID, "i", "body")},
		{Kind: ActionKeep, Entity: testEntity(syncID, "k", "body")},
		{Kind: ActionDelete, Entity: entity.NewDeletion("d", "web_page", syncID, uuid.Nil)},
		{Kind: ActionUpdate, Entity: testEntity(syncID, "u", "body")},
	}
}

func TestDispatchKindOrder(t *testing.T) {
	syncID := uuid.New()
	h := &recordingHandler{name: "probe"}
	d := NewDispatcher(NewEntityTracker(), nil, h)

	batch := EntityActionBatch{SyncID: syncID, Actions: actionsOfEachKind(syncID)}
	require.NoError(t, d.Dispatch(context.Background(), &batch))
	assert.Equal(t, []ActionKind{ActionDelete, ActionUpdate, ActionInsert, ActionKeep}, h.calls)
}

func TestDispatchSkipsNamedHandlers(t *testing.T) {
	syncID := uuid.New()
	kept := &recordingHandler{name: HandlerRecords}
	skipped := &recordingHandler{name: HandlerDestination}
	d := NewDispatcher(NewEntityTracker(), nil, skipped, kept)

	batch := EntityActionBatch{
		SyncID:              syncID,
		Actions:             []EntityAction{{Kind: ActionKeep, Entity: testEntity(syncID, "k", "body")}},
		SkipContentHandlers: map[string]struct{}{HandlerDestination: {}},
	}
	require.NoError(t, d.Dispatch(context.Background(), &batch))
	assert.Empty(t, skipped.calls)
	assert.Len(t, kept.calls, 1)
}

func TestDispatchHandlerErrorAbortsBatch(t *testing.T) {
	syncID := uuid.New()
	tracker := NewEntityTracker()
	failing := &recordingHandler{name: HandlerDestination, fail: true}
	after := &recordingHandler{name: HandlerRecords}
	d := NewDispatcher(tracker, nil, failing, after)

	batch := EntityActionBatch{
		SyncID:  syncID,
		Actions: []EntityAction{{Kind: ActionInsert, Entity: testEntity(syncID, "i", "body")}},
	}
	err := d.Dispatch(context.Background(), &batch)
	require.Error(t, err)
	assert.Empty(t, after.calls, "records must not advance after a destination failure")
	assert.Zero(t, tracker.Totals().Inserted, "failed actions are not counted")
}

func TestDestinationHandlerShadowBestEffort(t *testing.T) {
	ctx := context.Background()
	syncID := uuid.New()

	active := destination.NewMemory(uuid.New(), destination.TextOnly)
	shadow := destination.NewMemory(uuid.New(), destination.TextOnly)
	shadow.SetFailing(true)

	pipeline, err := destination.NewPipeline(domain.EmbeddingConfig{}, nil, nil)
	require.NoError(t, err)

	h := NewDestinationHandler([]DestinationSlot{
		{Dest: active},
		{Dest: shadow, Shadow: true},
	}, pipeline, nil)

	ent := testEntity(syncID, "doc", "body")
	batch := EntityActionBatch{SyncID: syncID}
	err = h.Apply(ctx, &batch, ActionInsert, []EntityAction{{Kind: ActionInsert, Entity: ent}})
	require.NoError(t, err, "shadow failure must not fail the batch")
	assert.Equal(t, 1, active.Len())
	assert.Equal(t, 0, shadow.Len())

	// An active failure does fail the batch.
	active.SetFailing(true)
	err = h.Apply(ctx, &batch, ActionInsert, []EntityAction{{Kind: ActionInsert, Entity: ent}})
	assert.Error(t, err)
}

func TestArfHandlerToleratesErrors(t *testing.T) {
	ctx := context.Background()
	syncID, orgID := uuid.New(), uuid.New()

	archive := arf.NewMemoryStore()
	h := NewArfHandler(archive, orgID, nil)

	ent := testEntity(syncID, "doc", "body")
	batch := EntityActionBatch{SyncID: syncID, OrganizationID: orgID}
	require.NoError(t, h.Apply(ctx, &batch, ActionInsert, []EntityAction{{Kind: ActionInsert, Entity: ent}}))
	assert.Equal(t, 1, archive.Len())

	require.NoError(t, h.Apply(ctx, &batch, ActionDelete, []EntityAction{{Kind: ActionDelete, Entity: ent}}))
	assert.Equal(t, 0, archive.Len())
}

func TestRecordsHandlerAdvancesState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	orgID, syncID, jobID := uuid.New(), uuid.New(), uuid.New()
	cfg := ResolverConfig{OrganizationID: orgID, SyncID: syncID, JobID: jobID}
	h := NewRecordsHandler(cfg, mem, nil)

	ent := testEntity(syncID, "doc", "body")
	require.NoError(t, ent.EnsureHash())
	batch := EntityActionBatch{SyncID: syncID, OrganizationID: orgID, JobID: jobID}

	require.NoError(t, h.Apply(ctx, &batch, ActionInsert, []EntityAction{{Kind: ActionInsert, Entity: ent}}))

	key := store.RecordKey{EntityID: "doc", DefinitionID: "web_page"}
	got, err := mem.GetBatch(ctx, orgID, syncID, []store.RecordKey{key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ent.Hash, got[key].Hash)
	assert.Equal(t, jobID, got[key].LastSeenJobID)

	require.NoError(t, h.Apply(ctx, &batch, ActionDelete, []EntityAction{{Kind: ActionDelete, Entity: ent}}))
	got, err = mem.GetBatch(ctx, orgID, syncID, []store.RecordKey{key})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntityTrackerCounts(t *testing.T) {
	tr := NewEntityTracker()
	tr.Record(ActionInsert, "file")
	tr.Record(ActionInsert, "web_page")
	tr.Record(ActionUpdate, "file")
	tr.Record(ActionDelete, "file")
	tr.Record(ActionKeep, "file")
	tr.RecordSkip("web_page")

	totals := tr.Totals()
	assert.Equal(t, domain.JobStats{Inserted: 2, Updated: 1, Deleted: 1, Kept: 1, Skipped: 1}, totals)

	byType := tr.ByType()
	assert.Equal(t, int64(1), byType["web_page"].Inserted)
	assert.Equal(t, int64(1), byType["web_page"].Skipped)
	assert.Equal(t, int64(1), byType["file"].Inserted)

	diff := tr.Diff(domain.JobStats{Inserted: 1})
	assert.Equal(t, int64(1), diff.Inserted)
}
