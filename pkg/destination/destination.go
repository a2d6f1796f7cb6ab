// Package destination defines the contract vector destinations implement and
// the preparation pipeline that turns entities into the payload each
// destination's processing requirement asks for. Specific vendor clients
// live out of tree.
package destination

import (
	"context"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/entity"
)

// ProcessingRequirement declares what a destination consumes. The four tag
// values are wire-stable.
type ProcessingRequirement string

const (
	ChunksAndEmbeddings          ProcessingRequirement = "chunks_and_embeddings"
	ChunksAndEmbeddingsDenseOnly ProcessingRequirement = "chunks_and_embeddings_dense_only"
	TextOnly                     ProcessingRequirement = "text_only"
	Raw                          ProcessingRequirement = "raw"
)

// Valid reports whether the tag is one of the four known values.
func (p ProcessingRequirement) Valid() bool {
	switch p {
	case ChunksAndEmbeddings, ChunksAndEmbeddingsDenseOnly, TextOnly, Raw:
		return true
	}
	return false
}

// Chunk is one embeddable piece of an entity.
type Chunk struct {
	Index  int                `json:"index"`
	Text   string             `json:"text"`
	Dense  []float32          `json:"dense,omitempty"`
	Sparse map[uint32]float32 `json:"sparse,omitempty"`
}

// Prepared is an entity in the form a destination consumes: chunks with
// vectors, plain text, or the raw payload, depending on the requirement.
type Prepared struct {
	Entity *entity.Entity
	Chunks []Chunk
	Text   string
	Raw    []byte
}

// Destination is one vector destination slot's client.
type Destination interface {
	// ConnectionID ties the client back to its SyncConnection slot.
	ConnectionID() uuid.UUID
	// Requirement selects the preparation pipeline.
	Requirement() ProcessingRequirement
	// Upsert writes prepared entities.
	Upsert(ctx context.Context, batch []Prepared) error
	// Delete removes entities by fingerprint, scoped to this destination's
	// vector schema only.
	Delete(ctx context.Context, fps []entity.Fingerprint) error
}

// DenseEmbedder produces dense vectors for texts.
type DenseEmbedder interface {
	EmbedDense(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector size; must match the collection config.
	Dimensions() int
}

// SparseEmbedder produces sparse vectors for texts.
type SparseEmbedder interface {
	EmbedSparse(ctx context.Context, texts []string) ([]map[uint32]float32, error)
}
