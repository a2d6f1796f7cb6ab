// Package events is the process-wide fan-out between the sync pipeline and
// its observers: webhook forwarding, billing, and progress streaming.
// Events are immutable; subscribers consume by reference and must be
// idempotent (delivery is at-least-once).
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable domain event. Every event serializes to a JSON
// object with at least event_type, timestamp (RFC3339 UTC), and
// organization_id.
type Event interface {
	Type() string
	OccurredAt() time.Time
	Organization() uuid.UUID
	// Payload is the full JSON-safe wire form, including the three
	// required fields.
	Payload() map[string]any
}

// Base carries the three required fields; concrete events embed it.
type Base struct {
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

// NewBase stamps a base event at the current UTC time.
func NewBase(eventType string, orgID uuid.UUID) Base {
	return Base{EventType: eventType, Timestamp: time.Now().UTC(), OrganizationID: orgID}
}

func (b Base) Type() string            { return b.EventType }
func (b Base) OccurredAt() time.Time   { return b.Timestamp }
func (b Base) Organization() uuid.UUID { return b.OrganizationID }

func (b Base) basePayload() map[string]any {
	return map[string]any{
		"event_type":      b.EventType,
		"timestamp":       b.Timestamp.UTC().Format(time.RFC3339),
		"organization_id": b.OrganizationID.String(),
	}
}

// Payload satisfies Event for events with no domain fields.
func (b Base) Payload() map[string]any { return b.basePayload() }

// Sync lifecycle event types.
const (
	TypeSyncStarted   = "sync.started"
	TypeSyncCompleted = "sync.completed"
	TypeSyncFailed    = "sync.failed"
	TypeSyncCancelled = "sync.cancelled"

	TypeEntityBatchProcessed = "entity.batch_processed"

	TypeOrganizationCreated     = "organization.created"
	TypeCollectionCreated       = "collection.created"
	TypeSourceConnectionCreated = "source_connection.created"
	TypeSourceConnectionDeleted = "source_connection.deleted"
)

// SyncLifecycle covers sync.started / completed / failed / cancelled.
type SyncLifecycle struct {
	Base
	SyncID    uuid.UUID `json:"sync_id"`
	JobID     uuid.UUID `json:"job_id"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (e SyncLifecycle) Payload() map[string]any {
	p := e.basePayload()
	p["sync_id"] = e.SyncID.String()
	p["job_id"] = e.JobID.String()
	if e.ErrorKind != "" {
		p["error_kind"] = e.ErrorKind
	}
	if e.Error != "" {
		p["error"] = e.Error
	}
	return p
}

// EntityBatchProcessed is published once per committed batch. Billable
// follows the sync's metering config; replay runs force it false.
type EntityBatchProcessed struct {
	Base
	SyncID   uuid.UUID `json:"sync_id"`
	JobID    uuid.UUID `json:"job_id"`
	Inserted int64     `json:"inserted"`
	Updated  int64     `json:"updated"`
	Deleted  int64     `json:"deleted"`
	Kept     int64     `json:"kept"`
	Skipped  int64     `json:"skipped"`
	Billable bool      `json:"billable"`
}

func (e EntityBatchProcessed) Payload() map[string]any {
	p := e.basePayload()
	p["sync_id"] = e.SyncID.String()
	p["job_id"] = e.JobID.String()
	p["inserted"] = e.Inserted
	p["updated"] = e.Updated
	p["deleted"] = e.Deleted
	p["kept"] = e.Kept
	p["skipped"] = e.Skipped
	p["billable"] = e.Billable
	return p
}

// ResourceLifecycle covers organization/collection/source_connection events.
type ResourceLifecycle struct {
	Base
	ResourceID uuid.UUID `json:"resource_id"`
	Name       string    `json:"name,omitempty"`
}

func (e ResourceLifecycle) Payload() map[string]any {
	p := e.basePayload()
	p["resource_id"] = e.ResourceID.String()
	if e.Name != "" {
		p["name"] = e.Name
	}
	return p
}
