package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

func devOrg() domain.Organization {
	return domain.Organization{ID: uuid.New(), PlanID: domain.PlanDeveloper}
}

func TestCheckAdmitsWithinQuota(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore())
	org := devOrg() // developer plan: 10 per 60s

	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, org)
		require.NoError(t, err, "call %d", i+1)
		assert.True(t, res.Allowed)
		assert.Equal(t, 10, res.Limit)
		assert.GreaterOrEqual(t, res.Remaining, 0)
	}
}

func TestCheckRejectsEleventh(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore())
	org := devOrg()

	for i := 0; i < 10; i++ {
		_, err := l.Check(ctx, org)
		require.NoError(t, err)
	}

	res, err := l.Check(ctx, org)
	require.Error(t, err)
	assert.Equal(t, apierror.KindRateLimitExceeded, apierror.KindOf(err))
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 60*time.Second)
}

func TestWindowSlides(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	l := NewLimiter(store)
	org := devOrg()

	for i := 0; i < 10; i++ {
		_, err := l.Check(ctx, org)
		require.NoError(t, err)
	}
	_, err := l.Check(ctx, org)
	require.Error(t, err)

	now = now.Add(61 * time.Second)
	res, err := l.Check(ctx, org)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMissingPlanFailsLoud(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	org := domain.Organization{ID: uuid.New(), PlanID: domain.PlanID("ghost")}

	_, err := l.Check(context.Background(), org)
	require.Error(t, err)
	assert.Equal(t, apierror.KindDataIntegrity, apierror.KindOf(err))
}

type failingStore struct{}

func (failingStore) Admit(context.Context, string, time.Duration, int) (bool, int, time.Duration, error) {
	return false, 0, 0, errors.New("store down")
}

func TestStoreErrorIsUpstream(t *testing.T) {
	l := NewLimiter(failingStore{})
	_, err := l.Check(context.Background(), devOrg())
	require.Error(t, err)
	assert.Equal(t, apierror.KindUpstream, apierror.KindOf(err))
}

func TestTenantsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore())
	a, b := devOrg(), devOrg()

	for i := 0; i < 10; i++ {
		_, err := l.Check(ctx, a)
		require.NoError(t, err)
	}
	_, err := l.Check(ctx, a)
	require.Error(t, err)

	res, err := l.Check(ctx, b)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "organization B must not be throttled by A")
}
