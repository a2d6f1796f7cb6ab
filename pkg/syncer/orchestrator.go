package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/entity"
	"github.com/skeinhq/skein/pkg/events"
	"github.com/skeinhq/skein/pkg/source"
	"github.com/skeinhq/skein/pkg/store"
	"github.com/skeinhq/skein/pkg/usage"
)

const (
	// DefaultBatchSize caps how many entities accumulate before dispatch.
	DefaultBatchSize = 100
	// DefaultBatchTimeout flushes a partial batch after source inactivity.
	DefaultBatchTimeout = 30 * time.Second
)

// Runtime is everything one job run needs, assembled by the builder.
type Runtime struct {
	Job      *domain.SyncJob
	Sync     *domain.Sync
	Source   source.Source
	Resolver *Resolver

	Dispatcher *Dispatcher
	Tracker    *EntityTracker
	Filter     *EntityFilter

	Jobs    store.SyncJobStore
	Cursors store.CursorStore
	Bus     *events.Bus
	Usage   *usage.Factory

	// Billable follows sync.MeterEntities; replay runs force it false.
	Billable bool
	// FullSync enables orphan detection after exhaustion.
	FullSync bool

	BatchSize    int
	BatchTimeout time.Duration
	Logger       *slog.Logger
}

// Orchestrator executes one sync job run.
type Orchestrator struct {
	rt        Runtime
	cancelled atomic.Bool

	// published tracks totals already reported so each batch event carries
	// only its own counts.
	published domain.JobStats
}

// NewOrchestrator creates an orchestrator for one run.
func NewOrchestrator(rt Runtime) *Orchestrator {
	if rt.BatchSize <= 0 {
		rt.BatchSize = DefaultBatchSize
	}
	if rt.BatchTimeout <= 0 {
		rt.BatchTimeout = DefaultBatchTimeout
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	return &Orchestrator{rt: rt}
}

// Cancel requests cancellation. The run stops at the next batch boundary.
func (o *Orchestrator) Cancel() { o.cancelled.Store(true) }

// Run executes the job. The returned error is also recorded on the job row;
// callers that fire-and-forget may ignore it.
func (o *Orchestrator) Run(ctx context.Context) error {
	rt := o.rt
	job := rt.Job

	active, err := rt.Jobs.HasActive(ctx, job.OrganizationID, job.SyncID)
	if err != nil {
		return fmt.Errorf("syncer: failed to check active jobs: %w", err)
	}
	if active {
		return apierror.New(apierror.KindInvalidState, "sync already has a running job")
	}

	if err := job.Transition(domain.JobPending); err != nil {
		return err
	}
	if err := rt.Jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("syncer: failed to create job: %w", err)
	}
	// Once the pending row exists, every exit must finalize it; an abandoned
	// pending job would hold the sync's active slot forever.
	if err := o.transition(ctx, domain.JobRunning); err != nil {
		return o.fail(ctx, err)
	}
	now := time.Now().UTC()
	job.StartedAt = &now
	if err := rt.Jobs.Update(ctx, job); err != nil {
		return o.fail(ctx, fmt.Errorf("syncer: failed to mark job started: %w", err))
	}

	rt.Bus.Publish(events.SyncLifecycle{
		Base:   events.NewBase(events.TypeSyncStarted, job.OrganizationID),
		SyncID: job.SyncID,
		JobID:  job.ID,
	})

	if err := o.runLoop(ctx); err != nil {
		if o.cancelled.Load() {
			return o.finishCancelled(ctx)
		}
		return o.fail(ctx, err)
	}
	if o.cancelled.Load() {
		return o.finishCancelled(ctx)
	}
	return o.finishCompleted(ctx)
}

// runLoop drains the source batch by batch until exhaustion, cancellation,
// or error.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	rt := o.rt

	var pending []*entity.Entity
	deadline := time.Now().Add(rt.BatchTimeout)
	done := false

	for !done {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("syncer: run aborted: %w", err)
		}
		if o.cancelled.Load() {
			return nil
		}

		batch, exhausted, err := rt.Source.NextBatch(ctx)
		if err != nil {
			return apierror.Wrap(apierror.KindSyncFailure, "source read failed", err)
		}
		done = exhausted

		for _, ent := range batch {
			ent.Metadata.SyncID = rt.Job.SyncID
			admit := true
			if rt.Filter != nil {
				admit, err = rt.Filter.Admit(ent)
				if err != nil {
					return err
				}
			}
			if !admit {
				rt.Tracker.RecordSkip(ent.DefinitionID)
				continue
			}
			pending = append(pending, ent)
		}

		// Flush on size, inactivity, or exhaustion.
		if len(pending) >= rt.BatchSize || (len(pending) > 0 && (done || time.Now().After(deadline))) {
			if err := o.processBatch(ctx, pending); err != nil {
				return err
			}
			pending = nil
			deadline = time.Now().Add(rt.BatchTimeout)
		}
	}

	if rt.FullSync {
		orphans, err := rt.Resolver.ResolveOrphans(ctx)
		if err != nil {
			return err
		}
		if !orphans.Empty() {
			if err := rt.Dispatcher.Dispatch(ctx, &orphans); err != nil {
				return err
			}
			o.publishBatchEvent()
		}
	}
	return nil
}

func (o *Orchestrator) processBatch(ctx context.Context, incoming []*entity.Entity) error {
	rt := o.rt

	batches, err := rt.Resolver.Resolve(ctx, incoming)
	if err != nil {
		return err
	}
	for i := range batches {
		if err := rt.Dispatcher.Dispatch(ctx, &batches[i]); err != nil {
			return err
		}
	}

	// Cursor commits only after the whole batch dispatched; a failed batch
	// resumes from the previous commit (at-least-once at the source).
	if cursor := rt.Source.Cursor(); len(cursor) > 0 {
		if err := rt.Cursors.Commit(ctx, rt.Job.OrganizationID, rt.Job.SyncID, cursor); err != nil {
			return fmt.Errorf("syncer: failed to commit cursor: %w", err)
		}
	}

	o.publishBatchEvent()
	return nil
}

// lastPublished tracks totals already reported so each event carries only
// this batch's counts.
func (o *Orchestrator) publishBatchEvent() {
	rt := o.rt
	diff := rt.Tracker.Diff(o.published)
	o.published = rt.Tracker.Totals()
	if diff == (domain.JobStats{}) {
		return
	}
	rt.Bus.Publish(events.EntityBatchProcessed{
		Base:     events.NewBase(events.TypeEntityBatchProcessed, rt.Job.OrganizationID),
		SyncID:   rt.Job.SyncID,
		JobID:    rt.Job.ID,
		Inserted: diff.Inserted,
		Updated:  diff.Updated,
		Deleted:  diff.Deleted,
		Kept:     diff.Kept,
		Skipped:  diff.Skipped,
		Billable: rt.Billable,
	})
}

func (o *Orchestrator) finishCompleted(ctx context.Context) error {
	rt := o.rt
	o.flushUsage(ctx)
	if err := o.transition(ctx, domain.JobCompleted); err != nil {
		return err
	}
	o.recordStats(ctx)
	rt.Bus.Publish(events.SyncLifecycle{
		Base:   events.NewBase(events.TypeSyncCompleted, rt.Job.OrganizationID),
		SyncID: rt.Job.SyncID,
		JobID:  rt.Job.ID,
	})
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context) error {
	rt := o.rt
	if err := o.transition(ctx, domain.JobCancelling); err != nil {
		return err
	}
	o.flushUsage(ctx)
	rt.Bus.Publish(events.SyncLifecycle{
		Base:   events.NewBase(events.TypeSyncCancelled, rt.Job.OrganizationID),
		SyncID: rt.Job.SyncID,
		JobID:  rt.Job.ID,
	})
	if err := o.transition(ctx, domain.JobCancelled); err != nil {
		return err
	}
	o.recordStats(ctx)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, cause error) error {
	rt := o.rt
	o.flushUsage(ctx)

	rt.Job.Error = cause.Error()
	if rt.Job.Status == domain.JobRunning || rt.Job.Status == domain.JobPending {
		if err := o.transition(ctx, domain.JobFailed); err != nil {
			rt.Logger.Error("failed to mark job failed", "job_id", rt.Job.ID, "error", err)
		}
	}
	o.recordStats(ctx)

	rt.Bus.Publish(events.SyncLifecycle{
		Base:      events.NewBase(events.TypeSyncFailed, rt.Job.OrganizationID),
		SyncID:    rt.Job.SyncID,
		JobID:     rt.Job.ID,
		ErrorKind: string(apierror.KindOf(cause)),
		Error:     cause.Error(),
	})
	return cause
}

func (o *Orchestrator) flushUsage(ctx context.Context) {
	if o.rt.Usage == nil {
		return
	}
	if err := o.rt.Usage.FlushAll(ctx); err != nil {
		o.rt.Logger.Error("usage flush failed", "job_id", o.rt.Job.ID, "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, to domain.JobStatus) error {
	if err := o.rt.Job.Transition(to); err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			return apierror.Wrap(apierror.KindInvalidState, "illegal job transition", err)
		}
		return err
	}
	if to == domain.JobCompleted || to == domain.JobFailed || to == domain.JobCancelled {
		now := time.Now().UTC()
		o.rt.Job.FinishedAt = &now
	}
	if err := o.rt.Jobs.Update(ctx, o.rt.Job); err != nil {
		return fmt.Errorf("syncer: failed to persist job status: %w", err)
	}
	return nil
}

func (o *Orchestrator) recordStats(ctx context.Context) {
	stats := o.rt.Tracker.Totals()
	o.rt.Job.Stats = &stats
	if err := o.rt.Jobs.Update(ctx, o.rt.Job); err != nil {
		o.rt.Logger.Error("failed to persist job stats", "job_id", o.rt.Job.ID, "error", err)
	}
}
