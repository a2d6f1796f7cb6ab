package domain

import "time"

// PlanID identifies a billing plan.
type PlanID string

const (
	PlanDeveloper  PlanID = "developer"
	PlanTeam       PlanID = "team"
	PlanEnterprise PlanID = "enterprise"
)

// RatePolicy defines the sliding-window admission policy for a plan.
type RatePolicy struct {
	Window time.Duration // window length W
	Quota  int           // max admitted calls per window
}

// UsageLimits defines per-plan ceilings for metered action types.
// -1 means unlimited.
type UsageLimits struct {
	Entities          int64
	Queries           int64
	SourceConnections int64
	TeamMembers       int64
}

// Plan bundles rate and usage policy for a billing tier.
type Plan struct {
	ID     PlanID
	Name   string
	Rate   RatePolicy
	Limits UsageLimits
}

// Plans is the closed set of billing plans.
var Plans = map[PlanID]Plan{
	PlanDeveloper: {
		ID:   PlanDeveloper,
		Name: "Developer",
		Rate: RatePolicy{Window: 60 * time.Second, Quota: 10},
		Limits: UsageLimits{
			Entities:          50_000,
			Queries:           500,
			SourceConnections: 10,
			TeamMembers:       1,
		},
	},
	PlanTeam: {
		ID:   PlanTeam,
		Name: "Team",
		Rate: RatePolicy{Window: 60 * time.Second, Quota: 100},
		Limits: UsageLimits{
			Entities:          1_000_000,
			Queries:           10_000,
			SourceConnections: 100,
			TeamMembers:       10,
		},
	},
	PlanEnterprise: {
		ID:   PlanEnterprise,
		Name: "Enterprise",
		Rate: RatePolicy{Window: 60 * time.Second, Quota: 1_000},
		Limits: UsageLimits{
			Entities:          -1,
			Queries:           -1,
			SourceConnections: -1,
			TeamMembers:       -1,
		},
	},
}

// PlanFor resolves a plan id. The second return is false for unknown ids;
// callers on the ingress path must treat that as a data-integrity failure,
// never as an implicit allow.
func PlanFor(id PlanID) (Plan, bool) {
	p, ok := Plans[id]
	return p, ok
}

// Limit returns the ceiling for the given usage action type.
func (l UsageLimits) Limit(action UsageAction) int64 {
	switch action {
	case UsageEntities:
		return l.Entities
	case UsageQueries:
		return l.Queries
	case UsageSourceConnections:
		return l.SourceConnections
	case UsageTeamMembers:
		return l.TeamMembers
	default:
		return 0
	}
}

// UsageAction is a metered action type in the usage ledger.
type UsageAction string

const (
	UsageEntities          UsageAction = "entities"
	UsageQueries           UsageAction = "queries"
	UsageSourceConnections UsageAction = "source_connections"
	UsageTeamMembers       UsageAction = "team_members"
)
