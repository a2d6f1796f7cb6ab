package usage

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

func testFactory() (*Factory, *MemoryLedger) {
	ledger := NewMemoryLedger()
	resolve := func(_ context.Context, _ uuid.UUID) (domain.Plan, error) {
		return domain.Plans[domain.PlanDeveloper], nil
	}
	return NewFactory(ledger, resolve), ledger
}

func TestIncrementFlushAccounting(t *testing.T) {
	ctx := context.Background()
	f, ledger := testFactory()
	orgID := uuid.New()

	g, err := f.For(ctx, orgID)
	require.NoError(t, err)

	var want int64
	for _, n := range []int64{1, 7, 30, 12, 4} {
		require.NoError(t, g.Increment(ctx, domain.UsageEntities, n))
		want += n
	}
	require.NoError(t, g.FlushAll(ctx))

	total, err := ledger.Total(ctx, orgID, domain.UsageEntities)
	require.NoError(t, err)
	assert.Equal(t, want, total, "ledger delta must equal the sum of increments")
	assert.Zero(t, g.Buffered(domain.UsageEntities))
}

func TestBufferedPlusPersistedInvariant(t *testing.T) {
	ctx := context.Background()
	f, ledger := testFactory()
	orgID := uuid.New()
	g, err := f.For(ctx, orgID)
	require.NoError(t, err)

	require.NoError(t, g.Increment(ctx, domain.UsageEntities, 60))
	require.NoError(t, g.Increment(ctx, domain.UsageEntities, 60)) // crosses threshold, flushes

	persisted, err := ledger.Total(ctx, orgID, domain.UsageEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(120), persisted+g.Buffered(domain.UsageEntities))
}

func TestDecrementSymmetry(t *testing.T) {
	ctx := context.Background()
	f, ledger := testFactory()
	orgID := uuid.New()
	g, err := f.For(ctx, orgID)
	require.NoError(t, err)

	require.NoError(t, g.Increment(ctx, domain.UsageEntities, 10))
	require.NoError(t, g.Decrement(ctx, domain.UsageEntities, 4))
	require.NoError(t, g.FlushAll(ctx))

	total, err := ledger.Total(ctx, orgID, domain.UsageEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestIsAllowedLimitExceeded(t *testing.T) {
	ctx := context.Background()
	f, _ := testFactory()
	orgID := uuid.New()
	g, err := f.For(ctx, orgID)
	require.NoError(t, err)

	// developer plan: 1 team member
	ok, err := g.IsAllowed(ctx, domain.UsageTeamMembers, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, g.Increment(ctx, domain.UsageTeamMembers, 1))
	ok, err = g.IsAllowed(ctx, domain.UsageTeamMembers, 1)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, apierror.KindPaymentRequired, apierror.KindOf(err))
}

func TestIsAllowedUnlimited(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	f := NewFactory(ledger, func(_ context.Context, _ uuid.UUID) (domain.Plan, error) {
		return domain.Plans[domain.PlanEnterprise], nil
	})
	g, err := f.For(ctx, uuid.New())
	require.NoError(t, err)

	ok, err := g.IsAllowed(ctx, domain.UsageEntities, 1<<40)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactorySingletonPerOrg(t *testing.T) {
	ctx := context.Background()
	f, _ := testFactory()
	orgID := uuid.New()

	var wg sync.WaitGroup
	got := make([]*Guardrail, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := f.For(ctx, orgID)
			require.NoError(t, err)
			got[i] = g
		}(i)
	}
	wg.Wait()

	for _, g := range got[1:] {
		assert.Same(t, got[0], g, "factory must return one instance per organization")
	}
}

func TestFactoryFlushAll(t *testing.T) {
	ctx := context.Background()
	f, ledger := testFactory()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, f.Increment(ctx, a, domain.UsageEntities, 3))
	require.NoError(t, f.Increment(ctx, b, domain.UsageEntities, 9))
	require.NoError(t, f.FlushAll(ctx))

	ta, _ := ledger.Total(ctx, a, domain.UsageEntities)
	tb, _ := ledger.Total(ctx, b, domain.UsageEntities)
	assert.Equal(t, int64(3), ta)
	assert.Equal(t, int64(9), tb)
}
