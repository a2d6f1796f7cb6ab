// Package cache memoizes the three ingress-auth lookups: organization by id,
// user by email, and api-key to organization id. The cache is best-effort:
// a backend failure is a miss, never an error. Raw api keys are hashed with
// SHA-256 before they appear in any key; the raw key must never reach a key
// or a log line.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

// DefaultTTL bounds staleness for attributes that are not explicitly
// invalidated (plan changes, feature flags).
const DefaultTTL = 30 * time.Second

// ContextCache is the ingress memoization contract. Gets return a miss on
// any backend trouble; sets and invalidations are fire-and-forget.
type ContextCache interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, bool)
	SetOrganization(ctx context.Context, org domain.Organization)
	InvalidateOrganization(ctx context.Context, id uuid.UUID)

	GetUserByEmail(ctx context.Context, email string) (*domain.User, bool)
	SetUserByEmail(ctx context.Context, user domain.User)
	InvalidateUserByEmail(ctx context.Context, email string)

	GetAPIKeyOrgID(ctx context.Context, rawKey string) (uuid.UUID, bool)
	SetAPIKeyOrgID(ctx context.Context, rawKey string, orgID uuid.UUID)
	InvalidateAPIKey(ctx context.Context, rawKey string)
}

// HashAPIKey returns the deterministic 64-char hex digest used as the cache
// key component for a raw api key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

const (
	orgKeyPrefix    = "ctx:org:"
	userKeyPrefix   = "ctx:user:"
	apiKeyKeyPrefix = "ctx:apikey:"
)

func orgKey(id uuid.UUID) string  { return orgKeyPrefix + id.String() }
func userKey(email string) string { return userKeyPrefix + email }
func apiKeyKey(raw string) string { return apiKeyKeyPrefix + HashAPIKey(raw) }
