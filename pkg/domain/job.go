package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a SyncJob. The seven values are
// wire-stable.
type JobStatus string

const (
	JobCreated    JobStatus = "created"
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelling JobStatus = "cancelling"
	JobCancelled  JobStatus = "cancelled"
)

// allowedTransitions is the full transition relation of the job state
// machine. Anything not listed is a fatal state error. Pending jobs may fail
// directly: a row stuck in pending would block its sync forever.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobCreated:    {JobPending},
	JobPending:    {JobRunning, JobFailed},
	JobRunning:    {JobCompleted, JobFailed, JobCancelling},
	JobCancelling: {JobCancelled},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted illegal job state change.
type InvalidTransitionError struct {
	JobID uuid.UUID
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("domain: invalid job transition %s → %s for job %s", e.From, e.To, e.JobID)
}

// ExecutionConfig controls one job's pipeline behavior. It is stored on the
// job as JSON and validated against a schema before the run starts.
type ExecutionConfig struct {
	// DestinationFilter restricts writes to the named destination
	// connection ids. Empty means all write slots.
	DestinationFilter []uuid.UUID `json:"destination_filter,omitempty"`

	// SkipHandlers removes the named content handlers for the whole run.
	SkipHandlers []string `json:"skip_handlers,omitempty"`

	// SkipHashComparison resolves every non-deletion entity to
	// insert-or-update on presence alone. Used for ARF replays.
	SkipHashComparison bool `json:"skip_hash_comparison,omitempty"`

	// SkipUpdates downgrades Update actions to Keep.
	SkipUpdates bool `json:"skip_updates,omitempty"`

	// EntityFilter is an optional CEL expression over the incoming entity;
	// entities evaluating to false are skipped before resolution.
	EntityFilter string `json:"entity_filter,omitempty"`
}

// SyncJob is one execution of a Sync.
type SyncJob struct {
	ID             uuid.UUID       `json:"id"`
	SyncID         uuid.UUID       `json:"sync_id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Status         JobStatus       `json:"status"`
	Config         json.RawMessage `json:"config,omitempty"`
	Stats          *JobStats       `json:"stats,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// Transition moves the job to the next status, enforcing the state machine.
func (j *SyncJob) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return &InvalidTransitionError{JobID: j.ID, From: j.Status, To: to}
	}
	j.Status = to
	return nil
}

// JobStats is the final per-job counter record.
type JobStats struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Deleted  int64 `json:"deleted"`
	Kept     int64 `json:"kept"`
	Skipped  int64 `json:"skipped"`
}
