package usage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

// flushThreshold is the buffered-delta magnitude that triggers a flush.
const flushThreshold = 100

// flushOrder fixes the action-type order of coalesced flushes. Flushes are
// coalesced per action type but never reordered across types.
var flushOrder = []domain.UsageAction{
	domain.UsageEntities,
	domain.UsageQueries,
	domain.UsageSourceConnections,
	domain.UsageTeamMembers,
}

// Guardrail enforces and accounts usage for one organization. Instances come
// from the Factory, which guarantees one per organization per process.
type Guardrail struct {
	orgID  uuid.UUID
	limits domain.UsageLimits
	ledger Ledger

	mu        sync.Mutex
	buffered  map[domain.UsageAction]int64
	persisted map[domain.UsageAction]int64
	loaded    map[domain.UsageAction]bool
}

func newGuardrail(orgID uuid.UUID, limits domain.UsageLimits, ledger Ledger) *Guardrail {
	return &Guardrail{
		orgID:     orgID,
		limits:    limits,
		ledger:    ledger,
		buffered:  make(map[domain.UsageAction]int64),
		persisted: make(map[domain.UsageAction]int64),
		loaded:    make(map[domain.UsageAction]bool),
	}
}

// observed returns persisted + buffered for the action, loading the
// persisted total on first touch. Caller holds g.mu.
func (g *Guardrail) observed(ctx context.Context, action domain.UsageAction) (int64, error) {
	if !g.loaded[action] {
		total, err := g.ledger.Total(ctx, g.orgID, action)
		if err != nil {
			return 0, apierror.Wrap(apierror.KindUpstream, "usage ledger read", err)
		}
		g.persisted[action] = total
		g.loaded[action] = true
	}
	return g.persisted[action] + g.buffered[action], nil
}

// IsAllowed reports whether amount more of the action fits under the plan
// limit. Exceeding the limit returns a payment-required error.
func (g *Guardrail) IsAllowed(ctx context.Context, action domain.UsageAction, amount int64) (bool, error) {
	limit := g.limits.Limit(action)
	if limit < 0 {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	current, err := g.observed(ctx, action)
	if err != nil {
		return false, err
	}
	if current+amount > limit {
		return false, apierror.Newf(apierror.KindPaymentRequired,
			"usage limit exceeded for %s: %d + %d > %d", action, current, amount, limit)
	}
	return true, nil
}

// Increment buffers a positive delta, flushing when the buffer crosses the
// threshold.
func (g *Guardrail) Increment(ctx context.Context, action domain.UsageAction, amount int64) error {
	return g.add(ctx, action, amount)
}

// Decrement buffers a negative delta symmetrically. Used only where
// entities are removed.
func (g *Guardrail) Decrement(ctx context.Context, action domain.UsageAction, amount int64) error {
	return g.add(ctx, action, -amount)
}

func (g *Guardrail) add(ctx context.Context, action domain.UsageAction, delta int64) error {
	if action == "" {
		return ErrEmptyAction
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.buffered[action] += delta
	if abs(g.buffered[action]) >= flushThreshold {
		return g.flushLocked(ctx)
	}
	return nil
}

// FlushAll persists every buffered delta to the ledger.
func (g *Guardrail) FlushAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flushLocked(ctx)
}

func (g *Guardrail) flushLocked(ctx context.Context) error {
	for _, action := range flushOrder {
		delta := g.buffered[action]
		if delta == 0 {
			continue
		}
		if err := g.ledger.Apply(ctx, g.orgID, action, delta); err != nil {
			// Buffer kept intact; the invariant buffered+persisted=observed
			// holds and the next flush retries.
			return err
		}
		g.persisted[action] += delta
		g.buffered[action] = 0
	}
	return nil
}

// Buffered returns the current buffered delta for the action. Test hook.
func (g *Guardrail) Buffered(action domain.UsageAction) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buffered[action]
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
