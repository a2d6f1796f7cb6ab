package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type credKey struct {
	orgID uuid.UUID
	id    uuid.UUID
}

// MemoryStore keeps sealed credentials in process. Payloads are encrypted
// even in memory so the plaintext path is identical to the Postgres store.
type MemoryStore struct {
	cipher *Cipher

	mu    sync.RWMutex
	blobs map[credKey]memCred
}

type memCred struct {
	sourceKind string
	blob       string
	createdAt  time.Time
	updatedAt  time.Time
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore(cipher *Cipher) *MemoryStore {
	return &MemoryStore{cipher: cipher, blobs: make(map[credKey]memCred)}
}

func (s *MemoryStore) Save(_ context.Context, cred *Credential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	blob, err := s.cipher.Seal(cred.Payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	s.mu.Lock()
	s.blobs[credKey{cred.OrganizationID, cred.ID}] = memCred{
		sourceKind: cred.SourceKind,
		blob:       blob,
		createdAt:  cred.CreatedAt,
		updatedAt:  cred.UpdatedAt,
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, orgID, id uuid.UUID) (*Credential, error) {
	s.mu.RLock()
	stored, ok := s.blobs[credKey{orgID, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	payload, err := s.cipher.Open(stored.blob)
	if err != nil {
		return nil, err
	}
	return &Credential{
		ID:             id,
		OrganizationID: orgID,
		SourceKind:     stored.sourceKind,
		Payload:        payload,
		CreatedAt:      stored.createdAt,
		UpdatedAt:      stored.updatedAt,
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, orgID, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.blobs, credKey{orgID, id})
	s.mu.Unlock()
	return nil
}
