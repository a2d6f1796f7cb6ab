package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/domain"
)

func TestHashAPIKey(t *testing.T) {
	const key = "super-secret-api-key-12345"

	h1 := HashAPIKey(key)
	h2 := HashAPIKey(key)
	assert.Equal(t, h1, h2, "digest must be deterministic")
	assert.Len(t, h1, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", h1)

	for _, fragment := range []string{"super", "secret", "12345"} {
		assert.NotContains(t, h1, fragment)
	}
	assert.NotContains(t, apiKeyKey(key), key)
}

func TestMemoryCacheOrganization(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	org := domain.Organization{ID: uuid.New(), Name: "acme", PlanID: domain.PlanTeam}

	_, ok := c.GetOrganization(ctx, org.ID)
	assert.False(t, ok)

	c.SetOrganization(ctx, org)
	got, ok := c.GetOrganization(ctx, org.ID)
	require.True(t, ok)
	assert.Equal(t, org, *got)

	c.InvalidateOrganization(ctx, org.ID)
	_, ok = c.GetOrganization(ctx, org.ID)
	assert.False(t, ok)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemoryCache().WithTTL(30 * time.Second).WithClock(func() time.Time { return now })

	user := domain.User{ID: uuid.New(), Email: "a@b.example"}
	c.SetUserByEmail(ctx, user)

	_, ok := c.GetUserByEmail(ctx, user.Email)
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = c.GetUserByEmail(ctx, user.Email)
	assert.False(t, ok, "entry must expire after TTL")
}

func TestMemoryCacheAPIKey(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	orgID := uuid.New()
	raw := "sk-" + strings.Repeat("x", 24)

	c.SetAPIKeyOrgID(ctx, raw, orgID)
	got, ok := c.GetAPIKeyOrgID(ctx, raw)
	require.True(t, ok)
	assert.Equal(t, orgID, got)

	c.InvalidateAPIKey(ctx, raw)
	_, ok = c.GetAPIKeyOrgID(ctx, raw)
	assert.False(t, ok)
}
