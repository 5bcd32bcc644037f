package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	_, err := idx.Query(ctx, "user_1__a.pdf", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)

	require.NoError(t, idx.EnsureCollection(ctx, "user_1__a.pdf"))
	hits, err := idx.Query(ctx, "user_1__a.pdf", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Insert(ctx, "user_1__a.pdf", []models.IndexedChunk{
		{ID: "a", Text: "east", Metadata: map[string]interface{}{"page": 1}, Embedding: []float32{1, 0}},
		{ID: "b", Text: "north", Metadata: map[string]interface{}{"page": 2}, Embedding: []float32{0, 1}},
		{ID: "c", Text: "north-east", Metadata: map[string]interface{}{"page": 3}, Embedding: []float32{1, 1}},
	}))
	assert.Equal(t, 3, idx.Count("user_1__a.pdf"))

	hits, err = idx.Query(ctx, "user_1__a.pdf", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].Text)
	assert.InDelta(t, 0, hits[0].Score, 1e-9)
	assert.Equal(t, "north-east", hits[1].Text)
	assert.Equal(t, 3, hits[1].Page())

	err = idx.Insert(ctx, "user_1__a.pdf", []models.IndexedChunk{{ID: "d", Embedding: []float32{1, 2, 3}}})
	assert.Error(t, err)
	assert.Equal(t, 3, idx.Count("user_1__a.pdf"), "failed insert must not be partially applied")

	require.NoError(t, idx.DeleteCollection(ctx, "user_1__a.pdf"))
	_, err = idx.Query(ctx, "user_1__a.pdf", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, cosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 1.0, cosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8("o\x00k"))
	assert.Equal(t, "ab", sanitizeUTF8("a\xffb"))
	assert.Equal(t, "héllo", sanitizeUTF8("héllo"))
}
