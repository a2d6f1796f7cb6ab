package destination

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/entity"
)

type stubDense struct{ dims int }

func (s stubDense) EmbedDense(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}

func (s stubDense) Dimensions() int { return s.dims }

type stubSparse struct{ calls int }

func (s *stubSparse) EmbedSparse(_ context.Context, texts []string) ([]map[uint32]float32, error) {
	s.calls++
	out := make([]map[uint32]float32, len(texts))
	for i := range texts {
		out[i] = map[uint32]float32{1: 0.5}
	}
	return out, nil
}

func webEntity(body string) *entity.Entity {
	return &entity.Entity{
		EntityID:     "page-1",
		DefinitionID: "web_page",
		Metadata:     entity.SystemMetadata{Shape: entity.ShapeWeb},
		Content:      &entity.WebContent{URL: "https://x.example", Body: body},
	}
}

func TestProcessingRequirementTags(t *testing.T) {
	assert.Equal(t, "chunks_and_embeddings", string(ChunksAndEmbeddings))
	assert.Equal(t, "chunks_and_embeddings_dense_only", string(ChunksAndEmbeddingsDenseOnly))
	assert.Equal(t, "text_only", string(TextOnly))
	assert.Equal(t, "raw", string(Raw))
	assert.False(t, ProcessingRequirement("vectors").Valid())
}

func TestPipelineVectorSizeGuard(t *testing.T) {
	_, err := NewPipeline(domain.EmbeddingConfig{VectorSize: 768}, stubDense{dims: 1536}, nil)
	assert.Error(t, err, "mismatched embedder dimensions must be rejected")

	_, err = NewPipeline(domain.EmbeddingConfig{VectorSize: 768}, stubDense{dims: 768}, nil)
	assert.NoError(t, err)
}

func TestPrepareChunksAndEmbeddings(t *testing.T) {
	sparse := &stubSparse{}
	p, err := NewPipeline(domain.EmbeddingConfig{VectorSize: 8}, stubDense{dims: 8}, sparse)
	require.NoError(t, err)

	prepared, err := p.Prepare(context.Background(), ChunksAndEmbeddings, []*entity.Entity{webEntity("hello world")})
	require.NoError(t, err)
	require.Len(t, prepared, 1)
	require.Len(t, prepared[0].Chunks, 1)
	assert.Len(t, prepared[0].Chunks[0].Dense, 8)
	assert.NotNil(t, prepared[0].Chunks[0].Sparse)
	assert.Equal(t, 1, sparse.calls)
}

// shortSparse misbehaves: it returns fewer vectors than chunks.
type shortSparse struct{}

func (shortSparse) EmbedSparse(context.Context, []string) ([]map[uint32]float32, error) {
	return nil, nil
}

func TestPrepareRejectsShortSparseResponse(t *testing.T) {
	p, err := NewPipeline(domain.EmbeddingConfig{VectorSize: 8}, stubDense{dims: 8}, shortSparse{})
	require.NoError(t, err)

	_, err = p.Prepare(context.Background(), ChunksAndEmbeddings, []*entity.Entity{webEntity("hello world")})
	require.Error(t, err, "a short sparse response must be an error, not a crash")
	assert.Equal(t, apierror.KindUpstream, apierror.KindOf(err))
}

func TestPrepareDenseOnlyBypassesSparse(t *testing.T) {
	sparse := &stubSparse{}
	p, err := NewPipeline(domain.EmbeddingConfig{VectorSize: 8}, stubDense{dims: 8}, sparse)
	require.NoError(t, err)

	prepared, err := p.Prepare(context.Background(), ChunksAndEmbeddingsDenseOnly, []*entity.Entity{webEntity("hello")})
	require.NoError(t, err)
	require.Len(t, prepared[0].Chunks, 1)
	assert.NotEmpty(t, prepared[0].Chunks[0].Dense)
	assert.Nil(t, prepared[0].Chunks[0].Sparse, "dense-only must not call the sparse embedder")
	assert.Zero(t, sparse.calls)
}

func TestPrepareTextAndRaw(t *testing.T) {
	p, err := NewPipeline(domain.EmbeddingConfig{}, nil, nil)
	require.NoError(t, err)

	prepared, err := p.Prepare(context.Background(), TextOnly, []*entity.Entity{webEntity("plain body")})
	require.NoError(t, err)
	assert.Equal(t, "plain body", prepared[0].Text)
	assert.Empty(t, prepared[0].Chunks)

	prepared, err = p.Prepare(context.Background(), Raw, []*entity.Entity{webEntity("raw body")})
	require.NoError(t, err)
	assert.Contains(t, string(prepared[0].Raw), "raw body")
}

func TestSplitTextLongInput(t *testing.T) {
	paragraphs := make([]string, 40)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("lorem ipsum dolor ", 10)
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := SplitText(text)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), chunkSize)
		assert.NotEmpty(t, c)
	}
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Nil(t, SplitText("   \n  "))
}
