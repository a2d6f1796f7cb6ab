package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/credentials"
	"github.com/skeinhq/skein/pkg/destination"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/events"
	"github.com/skeinhq/skein/pkg/source"
	"github.com/skeinhq/skein/pkg/store"
	"github.com/skeinhq/skein/pkg/usage"
)

// DestinationOpener builds a destination client for one sync connection slot.
type DestinationOpener func(ctx context.Context, slot domain.SyncConnection, embedding domain.EmbeddingConfig) (destination.Destination, error)

// EmbedderProvider returns the embedders for a collection's config. The
// sparse embedder may be nil.
type EmbedderProvider func(embedding domain.EmbeddingConfig) (destination.DenseEmbedder, destination.SparseEmbedder, error)

// Deps wires the service into the rest of the core.
type Deps struct {
	Control           store.ControlStore
	Jobs              store.SyncJobStore
	Records           store.EntityRecordStore
	CollectionRecords store.CollectionRecordStore
	Cursors           store.CursorStore
	Credentials       credentials.Store
	Archive           arf.Store
	Sources           *source.Registry
	RuntimeVersion    *semver.Version
	OpenDestination   DestinationOpener
	Embedders         EmbedderProvider
	Bus               *events.Bus
	Usage             *usage.Factory
	Logger            *slog.Logger

	BatchSize    int
	BatchTimeout time.Duration
}

// Service starts, tracks, and cancels sync job runs.
type Service struct {
	deps Deps

	mu      sync.Mutex
	running map[uuid.UUID]*Orchestrator
	claimed map[uuid.UUID]struct{}
}

// NewService creates the sync service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:    deps,
		running: make(map[uuid.UUID]*Orchestrator),
		claimed: make(map[uuid.UUID]struct{}),
	}
}

// claimSync takes the sync's single run slot. The claim is atomic under the
// service mutex, so two concurrent starts can never both pass the active
// check; the job store's HasActive still guards against runs owned by other
// processes.
func (s *Service) claimSync(syncID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.claimed[syncID]; busy {
		return apierror.New(apierror.KindInvalidState, "sync already has a running job")
	}
	s.claimed[syncID] = struct{}{}
	return nil
}

func (s *Service) releaseSync(syncID uuid.UUID) {
	s.mu.Lock()
	delete(s.claimed, syncID)
	s.mu.Unlock()
}

// StartSync creates a job for the source connection and runs it in the
// background. The returned job is in pending/running state.
func (s *Service) StartSync(ctx context.Context, orgID, connectionID uuid.UUID, rawConfig json.RawMessage) (*domain.SyncJob, error) {
	rt, err := s.buildRuntime(ctx, orgID, connectionID, rawConfig)
	if err != nil {
		return nil, err
	}
	return s.launch(rt)
}

// launch registers the orchestrator and runs it on its own goroutine.
func (s *Service) launch(rt Runtime) (*domain.SyncJob, error) {
	if err := s.claimSync(rt.Job.SyncID); err != nil {
		return nil, err
	}
	o := NewOrchestrator(rt)
	s.mu.Lock()
	s.running[rt.Job.ID] = o
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, rt.Job.ID)
			s.mu.Unlock()
			s.releaseSync(rt.Job.SyncID)
		}()
		// A panicking handler or source must fail its own job, never the
		// process.
		defer func() {
			if r := recover(); r != nil {
				rt.Logger.Error("sync job panicked",
					"job_id", rt.Job.ID, "sync_id", rt.Job.SyncID, "panic", r)
				_ = o.fail(context.Background(), fmt.Errorf("syncer: run panicked: %v", r))
			}
		}()
		if err := o.Run(context.Background()); err != nil {
			rt.Logger.Error("sync job finished with error",
				"job_id", rt.Job.ID, "sync_id", rt.Job.SyncID, "error", err)
		}
	}()
	return rt.Job, nil
}

// CancelJob requests cancellation of a running job. Jobs not running in this
// process yield InvalidState.
func (s *Service) CancelJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	o, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return apierror.New(apierror.KindInvalidState, "job is not running")
	}
	o.Cancel()
	return nil
}

// buildRuntime resolves the sync graph and assembles everything one run
// needs.
func (s *Service) buildRuntime(ctx context.Context, orgID, connectionID uuid.UUID, rawConfig json.RawMessage) (Runtime, error) {
	d := s.deps

	conn, err := d.Control.GetSourceConnection(ctx, orgID, connectionID)
	if err != nil {
		return Runtime{}, err
	}
	sy, err := d.Control.GetSync(ctx, orgID, conn.SyncID)
	if err != nil {
		return Runtime{}, err
	}
	coll, err := d.Control.GetCollection(ctx, orgID, conn.CollectionID)
	if err != nil {
		return Runtime{}, err
	}

	cfg, err := ParseExecutionConfig(rawConfig)
	if err != nil {
		return Runtime{}, err
	}

	cred, err := d.Credentials.Resolve(ctx, orgID, conn.CredentialID)
	if err != nil {
		return Runtime{}, apierror.Wrap(apierror.KindUpstream, "failed to resolve credentials", err)
	}

	cursor, err := d.Cursors.Get(ctx, orgID, sy.ID)
	if err != nil {
		return Runtime{}, fmt.Errorf("syncer: failed to load cursor: %w", err)
	}

	reg, err := d.Sources.Lookup(conn.SourceKind, d.RuntimeVersion)
	if err != nil {
		return Runtime{}, apierror.Wrap(apierror.KindBadRequest, "unknown source kind", err)
	}
	src, err := reg.Factory(ctx, source.Config{Credentials: cred.Payload, Cursor: cursor})
	if err != nil {
		return Runtime{}, apierror.Wrap(apierror.KindUpstream, "failed to open source", err)
	}

	job := &domain.SyncJob{
		ID:             uuid.New(),
		SyncID:         sy.ID,
		OrganizationID: orgID,
		Status:         domain.JobCreated,
		Config:         rawConfig,
		CreatedAt:      time.Now().UTC(),
	}

	return s.assemble(ctx, job, sy, coll.Embedding, cfg, src, sy.MeterEntities, source.IsFullSync(cursor))
}

// assemble builds the Runtime shared by regular runs and replays.
func (s *Service) assemble(ctx context.Context, job *domain.SyncJob, sy *domain.Sync, embedding domain.EmbeddingConfig, cfg domain.ExecutionConfig, src source.Source, billable, fullSync bool) (Runtime, error) {
	d := s.deps

	var filter *EntityFilter
	if cfg.EntityFilter != "" {
		var err error
		filter, err = CompileEntityFilter(cfg.EntityFilter)
		if err != nil {
			return Runtime{}, err
		}
	}

	slots, err := s.openSlots(ctx, sy, embedding, cfg.DestinationFilter)
	if err != nil {
		return Runtime{}, err
	}

	dense, sparse, err := d.Embedders(embedding)
	if err != nil {
		return Runtime{}, apierror.Wrap(apierror.KindUpstream, "failed to build embedders", err)
	}
	pipeline, err := destination.NewPipeline(embedding, dense, sparse)
	if err != nil {
		return Runtime{}, err
	}

	rcfg := ResolverConfig{
		OrganizationID:     job.OrganizationID,
		SyncID:             sy.ID,
		CollectionID:       sy.CollectionID,
		JobID:              job.ID,
		CollectionDedup:    sy.CollectionDedup,
		SkipHashComparison: cfg.SkipHashComparison,
		SkipUpdates:        cfg.SkipUpdates,
	}

	tracker := NewEntityTracker()
	handlers := []ContentHandler{
		NewDestinationHandler(slots, pipeline, d.Logger),
		NewArfHandler(d.Archive, job.OrganizationID, d.Logger),
		NewRecordsHandler(rcfg, d.Records, d.CollectionRecords),
	}
	kept := handlers[:0]
	for _, h := range handlers {
		if containsName(cfg.SkipHandlers, h.Name()) {
			continue
		}
		kept = append(kept, h)
	}

	return Runtime{
		Job:          job,
		Sync:         sy,
		Source:       src,
		Resolver:     NewResolver(rcfg, d.Records, d.CollectionRecords),
		Dispatcher:   NewDispatcher(tracker, d.Logger, kept...),
		Tracker:      tracker,
		Filter:       filter,
		Jobs:         d.Jobs,
		Cursors:      d.Cursors,
		Bus:          d.Bus,
		Usage:        d.Usage,
		Billable:     billable,
		FullSync:     fullSync,
		BatchSize:    d.BatchSize,
		BatchTimeout: d.BatchTimeout,
		Logger:       d.Logger,
	}, nil
}

// openSlots builds destination clients for the sync's write slots,
// honoring the job's destination filter.
func (s *Service) openSlots(ctx context.Context, sy *domain.Sync, embedding domain.EmbeddingConfig, filter []uuid.UUID) ([]DestinationSlot, error) {
	var slots []DestinationSlot
	for _, slot := range sy.WriteDestinations() {
		if len(filter) > 0 && !containsID(filter, slot.ConnectionID) {
			continue
		}
		dest, err := s.deps.OpenDestination(ctx, slot, embedding)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindUpstream, "failed to open destination", err)
		}
		// A slot named by an explicit filter is the run's whole point
		// (replay hydration), so its failures fail the job even while the
		// slot is still in the shadow role.
		shadow := slot.Role == domain.RoleShadow && len(filter) == 0
		slots = append(slots, DestinationSlot{Dest: dest, Shadow: shadow})
	}
	return slots, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
