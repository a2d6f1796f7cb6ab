package destination

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/entity"
)

// Memory is an in-process Destination used by tests and local runs.
type Memory struct {
	id  uuid.UUID
	req ProcessingRequirement

	mu      sync.Mutex
	stored  map[entity.Fingerprint]Prepared
	failing bool
}

// NewMemory creates an in-memory destination with the given requirement.
func NewMemory(id uuid.UUID, req ProcessingRequirement) *Memory {
	return &Memory{id: id, req: req, stored: make(map[entity.Fingerprint]Prepared)}
}

// SetFailing makes subsequent writes fail. Test hook for shadow-write paths.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *Memory) ConnectionID() uuid.UUID            { return m.id }
func (m *Memory) Requirement() ProcessingRequirement { return m.req }

func (m *Memory) Upsert(_ context.Context, batch []Prepared) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errFailing
	}
	for _, p := range batch {
		m.stored[p.Entity.Fingerprint()] = p
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, fps []entity.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errFailing
	}
	for _, fp := range fps {
		delete(m.stored, fp)
	}
	return nil
}

// Len returns the number of stored entities.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// Has reports whether a fingerprint is stored.
func (m *Memory) Has(fp entity.Fingerprint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stored[fp]
	return ok
}

type failingError struct{}

func (failingError) Error() string { return "destination: write failed" }

var errFailing = failingError{}
