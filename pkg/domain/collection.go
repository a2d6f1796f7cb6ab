package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingConfig describes how entities in a collection are embedded.
// VectorSize is immutable once the first entity has been written; the
// destination handler enforces this before any write.
type EmbeddingConfig struct {
	ModelName  string `json:"model_name"`
	VectorSize int    `json:"vector_size"`
}

// Collection groups source connections under one organization. ReadableID
// is the human-facing identifier used in URLs.
type Collection struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ReadableID     string          `json:"readable_id"`
	Name           string          `json:"name"`
	Embedding      EmbeddingConfig `json:"embedding"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SourceConnection binds a source kind and its credentials to a collection.
// It owns exactly one Sync.
type SourceConnection struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CollectionID   uuid.UUID `json:"collection_id"`
	SourceKind     string    `json:"source_kind"`
	Name           string    `json:"name"`
	CredentialID   uuid.UUID `json:"credential_id"`
	SyncID         uuid.UUID `json:"sync_id"`
	CreatedAt      time.Time `json:"created_at"`
}
