package usage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

// PlanResolver resolves an organization's usage limits. Implemented by the
// organization store at the composition root.
type PlanResolver func(ctx context.Context, orgID uuid.UUID) (domain.Plan, error)

// Factory hands out the single Guardrail instance per organization within a
// process. Lifecycle is tied to process startup and graceful shutdown;
// FlushAll must run on shutdown.
type Factory struct {
	ledger  Ledger
	resolve PlanResolver

	mu         sync.Mutex
	guardrails map[uuid.UUID]*Guardrail
}

// NewFactory creates the process-wide guardrail factory.
func NewFactory(ledger Ledger, resolve PlanResolver) *Factory {
	return &Factory{
		ledger:     ledger,
		resolve:    resolve,
		guardrails: make(map[uuid.UUID]*Guardrail),
	}
}

// For returns the organization's guardrail, creating it on first use.
func (f *Factory) For(ctx context.Context, orgID uuid.UUID) (*Guardrail, error) {
	f.mu.Lock()
	if g, ok := f.guardrails[orgID]; ok {
		f.mu.Unlock()
		return g, nil
	}
	f.mu.Unlock()

	// Resolve outside the lock; plan lookup may hit the database.
	plan, err := f.resolve(ctx, orgID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDataIntegrity, "resolving plan for guardrail", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.guardrails[orgID]; ok {
		return g, nil
	}
	g := newGuardrail(orgID, plan.Limits, f.ledger)
	f.guardrails[orgID] = g
	return g, nil
}

// Increment satisfies the event bus billing contract: resolve the
// organization's guardrail and buffer the delta.
func (f *Factory) Increment(ctx context.Context, orgID uuid.UUID, action domain.UsageAction, amount int64) error {
	g, err := f.For(ctx, orgID)
	if err != nil {
		return err
	}
	return g.Increment(ctx, action, amount)
}

// FlushAll flushes every guardrail. Called on graceful shutdown and after
// each sync run.
func (f *Factory) FlushAll(ctx context.Context) error {
	f.mu.Lock()
	guardrails := make([]*Guardrail, 0, len(f.guardrails))
	for _, g := range f.guardrails {
		guardrails = append(guardrails, g)
	}
	f.mu.Unlock()

	var errs []error
	for _, g := range guardrails {
		if err := g.FlushAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
