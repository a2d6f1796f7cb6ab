// Package domain defines the core model of the skein control plane:
// organizations, users, collections, source connections, syncs, and jobs.
// Everything a sync run touches is owned, directly or transitively, by an
// Organization; cross-tenant references are a data-integrity violation.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is an organization membership role. Roles are ordered:
// member < admin < owner.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleMember: 0,
	RoleAdmin:  1,
	RoleOwner:  2,
}

// AtLeast reports whether r grants the privileges of required.
func (r Role) AtLeast(required Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	return rr >= roleRank[required]
}

// AuthMethod tags how a request was authenticated. The four values are
// wire-stable.
type AuthMethod string

const (
	AuthMethodSystem   AuthMethod = "system"
	AuthMethodAPIKey   AuthMethod = "api_key"
	AuthMethodAuth0    AuthMethod = "auth0"
	AuthMethodInternal AuthMethod = "internal_system"
)

// Organization is the tenant boundary. Every persisted row and every
// published event carries its id.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	PlanID    PlanID    `json:"plan_id"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an optional actor. Users and organizations reference each other
// by id only; membership rows carry the role.
type User struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Membership links a user to an organization with a role.
type Membership struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           Role      `json:"role"`
}
