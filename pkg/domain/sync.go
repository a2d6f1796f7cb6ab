package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMultipleActiveDestinations is returned when a sync would end up with
// more than one destination slot in the active role.
var ErrMultipleActiveDestinations = errors.New("domain: sync must have at most one active destination")

// ConnectionRole is the role of a destination slot within a sync.
// The source slot carries the empty role.
type ConnectionRole string

const (
	RoleSource     ConnectionRole = ""
	RoleActive     ConnectionRole = "active"
	RoleShadow     ConnectionRole = "shadow"
	RoleDeprecated ConnectionRole = "deprecated"
)

// SyncConnection is one slot of a sync: the source (role empty) or a
// destination (active, shadow, or deprecated).
type SyncConnection struct {
	ID           uuid.UUID      `json:"id"`
	SyncID       uuid.UUID      `json:"sync_id"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	Role         ConnectionRole `json:"role"`
}

// Sync is the schedulable unit: one source slot, zero or more destination
// slots, a cursor, and a sequence of jobs.
type Sync struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	CollectionID   uuid.UUID        `json:"collection_id"`
	Source         SyncConnection   `json:"source"`
	Destinations   []SyncConnection `json:"destinations"`

	// CollectionDedup switches action resolution from per-sync records to
	// collection-level records shared across source connections.
	CollectionDedup bool `json:"collection_dedup"`

	// MeterEntities controls the billable flag on entity.batch_processed
	// events. Replay runs force it false regardless.
	MeterEntities bool `json:"meter_entities"`

	CreatedAt time.Time `json:"created_at"`
}

// ActiveDestination returns the single active destination slot, if any.
func (s *Sync) ActiveDestination() (SyncConnection, bool) {
	for _, d := range s.Destinations {
		if d.Role == RoleActive {
			return d, true
		}
	}
	return SyncConnection{}, false
}

// WriteDestinations returns the slots that receive writes (active + shadow),
// in slot order.
func (s *Sync) WriteDestinations() []SyncConnection {
	var out []SyncConnection
	for _, d := range s.Destinations {
		if d.Role == RoleActive || d.Role == RoleShadow {
			out = append(out, d)
		}
	}
	return out
}

// ValidateDestinations enforces the single-active invariant.
func (s *Sync) ValidateDestinations() error {
	active := 0
	for _, d := range s.Destinations {
		if d.Role == RoleActive {
			active++
		}
	}
	if active > 1 {
		return ErrMultipleActiveDestinations
	}
	return nil
}

// SyncCursor is the opaque per-sync resumption token. Data is the source's
// interior shape; the boundary encoding is base64 JSON (pkg/source).
type SyncCursor struct {
	SyncID    uuid.UUID `json:"sync_id"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}
