package destination

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/entity"
)

// Pipeline prepares entities for a destination according to its processing
// requirement, using the collection's embedding configuration.
type Pipeline struct {
	embedding domain.EmbeddingConfig
	dense     DenseEmbedder
	sparse    SparseEmbedder
}

// NewPipeline builds a preparation pipeline. sparse may be nil when no
// destination in the sync needs sparse vectors.
func NewPipeline(embedding domain.EmbeddingConfig, dense DenseEmbedder, sparse SparseEmbedder) (*Pipeline, error) {
	if dense != nil && embedding.VectorSize != 0 && dense.Dimensions() != embedding.VectorSize {
		// Vector size is immutable after the first entity is written; a
		// mismatched embedder would corrupt the collection.
		return nil, apierror.Newf(apierror.KindDataIntegrity,
			"embedder produces %d dimensions but collection is configured for %d",
			dense.Dimensions(), embedding.VectorSize)
	}
	return &Pipeline{embedding: embedding, dense: dense, sparse: sparse}, nil
}

// Prepare converts a batch for the given requirement. Dense-only
// destinations still receive chunks; only the sparse embedder is bypassed.
func (p *Pipeline) Prepare(ctx context.Context, req ProcessingRequirement, batch []*entity.Entity) ([]Prepared, error) {
	if !req.Valid() {
		return nil, fmt.Errorf("destination: unknown processing requirement %q", req)
	}

	out := make([]Prepared, 0, len(batch))
	for _, e := range batch {
		if e.Content == nil {
			continue
		}
		prep := Prepared{Entity: e}
		switch req {
		case Raw:
			raw, err := json.Marshal(e)
			if err != nil {
				return nil, fmt.Errorf("destination: raw serialize %s: %w", e.EntityID, err)
			}
			prep.Raw = raw
		case TextOnly:
			prep.Text = e.Content.Text()
		case ChunksAndEmbeddings, ChunksAndEmbeddingsDenseOnly:
			chunks, err := p.embedChunks(ctx, e, req == ChunksAndEmbeddings)
			if err != nil {
				return nil, err
			}
			prep.Chunks = chunks
		}
		out = append(out, prep)
	}
	return out, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, e *entity.Entity, withSparse bool) ([]Chunk, error) {
	texts := SplitText(e.Content.Text())
	if len(texts) == 0 {
		return nil, nil
	}
	if p.dense == nil {
		return nil, apierror.Newf(apierror.KindDataIntegrity,
			"entity %s needs embeddings but no dense embedder is configured", e.EntityID)
	}

	dense, err := p.dense.EmbedDense(ctx, texts)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUpstream, "dense embedder", err)
	}
	if len(dense) != len(texts) {
		return nil, apierror.Newf(apierror.KindUpstream,
			"dense embedder returned %d vectors for %d chunks", len(dense), len(texts))
	}

	var sparse []map[uint32]float32
	if withSparse && p.sparse != nil {
		sparse, err = p.sparse.EmbedSparse(ctx, texts)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindUpstream, "sparse embedder", err)
		}
		if len(sparse) != len(texts) {
			return nil, apierror.Newf(apierror.KindUpstream,
				"sparse embedder returned %d vectors for %d chunks", len(sparse), len(texts))
		}
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{Index: i, Text: text, Dense: dense[i]}
		if sparse != nil {
			chunks[i].Sparse = sparse[i]
		}
	}
	return chunks, nil
}
