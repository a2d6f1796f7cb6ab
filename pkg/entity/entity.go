// Package entity defines the smallest unit the pipeline moves: a polymorphic
// entity with stable source-provided identity, a content hash over its
// embeddable fields, and the system metadata envelope the runtime dispatches
// on.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingIdentity is returned when an entity lacks its identity keys.
// A malformed entity fails the whole batch.
var ErrMissingIdentity = errors.New("entity: entity_id and entity_definition_id are required")

// Shape tags the closed set of content shapes.
type Shape string

const (
	ShapeChunk    Shape = "chunk"
	ShapeFile     Shape = "file"
	ShapeWeb      Shape = "web"
	ShapeCode     Shape = "code"
	ShapeEmail    Shape = "email"
	ShapeDeletion Shape = "deletion"
)

// SystemMetadata is the envelope stamped by the runtime.
type SystemMetadata struct {
	SyncID       uuid.UUID `json:"sync_id"`
	CollectionID uuid.UUID `json:"collection_id"`
	Shape        Shape     `json:"shape"`
	Deleted      bool      `json:"deleted"`
}

// Entity is one transported unit. Content is nil iff the entity is a
// deletion marker.
type Entity struct {
	EntityID     string         `json:"entity_id"`
	DefinitionID string         `json:"entity_definition_id"`
	Hash         string         `json:"hash,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     SystemMetadata `json:"system_metadata"`
	Content      Content        `json:"-"`
}

// Fingerprint is the (sync_id, entity_id, entity_definition_id) tuple keying
// entity records and ARF blobs.
type Fingerprint struct {
	SyncID       uuid.UUID
	EntityID     string
	DefinitionID string
}

// Fingerprint returns the record key for this entity within its sync.
func (e *Entity) Fingerprint() Fingerprint {
	return Fingerprint{
		SyncID:       e.Metadata.SyncID,
		EntityID:     e.EntityID,
		DefinitionID: e.DefinitionID,
	}
}

// IsDeletion reports whether the entity is a deletion marker.
func (e *Entity) IsDeletion() bool {
	return e.Metadata.Deleted || e.Metadata.Shape == ShapeDeletion
}

// Validate checks the identity keys.
func (e *Entity) Validate() error {
	if e.EntityID == "" || e.DefinitionID == "" {
		return ErrMissingIdentity
	}
	return nil
}

// EnsureHash computes and stores the content hash if absent.
func (e *Entity) EnsureHash() error {
	if e.Hash != "" || e.IsDeletion() {
		return nil
	}
	if e.Content == nil {
		return fmt.Errorf("entity %s: no content to hash", e.EntityID)
	}
	h, err := HashFields(e.Content.EmbeddableFields())
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// NewDeletion builds a deletion marker for a known removal.
func NewDeletion(entityID, definitionID string, syncID, collectionID uuid.UUID) *Entity {
	return &Entity{
		EntityID:     entityID,
		DefinitionID: definitionID,
		Metadata: SystemMetadata{
			SyncID:       syncID,
			CollectionID: collectionID,
			Shape:        ShapeDeletion,
			Deleted:      true,
		},
	}
}

// wireEntity is the JSON form: content is embedded with the shape tag from
// system metadata deciding its concrete type.
type wireEntity struct {
	EntityID     string          `json:"entity_id"`
	DefinitionID string          `json:"entity_definition_id"`
	Hash         string          `json:"hash,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Metadata     SystemMetadata  `json:"system_metadata"`
	Content      json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON serializes the entity including its shaped content.
func (e Entity) MarshalJSON() ([]byte, error) {
	w := wireEntity{
		EntityID:     e.EntityID,
		DefinitionID: e.DefinitionID,
		Hash:         e.Hash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Metadata:     e.Metadata,
	}
	if e.Content != nil {
		raw, err := json.Marshal(e.Content)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the entity, dispatching content on the shape tag.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EntityID = w.EntityID
	e.DefinitionID = w.DefinitionID
	e.Hash = w.Hash
	e.CreatedAt = w.CreatedAt
	e.UpdatedAt = w.UpdatedAt
	e.Metadata = w.Metadata
	e.Content = nil

	if len(w.Content) == 0 || w.Metadata.Shape == ShapeDeletion {
		return nil
	}
	content, err := newContent(w.Metadata.Shape)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(w.Content, content); err != nil {
		return err
	}
	e.Content = content
	return nil
}
