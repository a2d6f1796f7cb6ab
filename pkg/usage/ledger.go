// Package usage enforces and accounts per-organization quotas. A Guardrail
// buffers counter deltas in memory and periodically flushes them to an
// append-only ledger; at any moment, buffered delta + persisted total equals
// the observed action count for that organization.
package usage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

// ErrEmptyAction is returned when a delta names no action type.
var ErrEmptyAction = errors.New("usage: action type must not be empty")

// Ledger is the persistent, append-only usage store.
type Ledger interface {
	// Apply appends one delta for the organization and action type.
	Apply(ctx context.Context, orgID uuid.UUID, action domain.UsageAction, delta int64) error

	// Total returns the net persisted value for the action type.
	Total(ctx context.Context, orgID uuid.UUID, action domain.UsageAction) (int64, error)
}

// MemoryLedger is the in-process Ledger for dev mode and tests.
type MemoryLedger struct {
	mu     sync.Mutex
	totals map[uuid.UUID]map[domain.UsageAction]int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{totals: make(map[uuid.UUID]map[domain.UsageAction]int64)}
}

func (l *MemoryLedger) Apply(_ context.Context, orgID uuid.UUID, action domain.UsageAction, delta int64) error {
	if action == "" {
		return ErrEmptyAction
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totals[orgID] == nil {
		l.totals[orgID] = make(map[domain.UsageAction]int64)
	}
	l.totals[orgID][action] += delta
	return nil
}

func (l *MemoryLedger) Total(_ context.Context, orgID uuid.UUID, action domain.UsageAction) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[orgID][action], nil
}
