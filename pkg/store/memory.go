package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

// MemoryIndex is an in-process vector index using brute-force cosine
// distance. It is meant for development and tests.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string]models.IndexedChunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[string]models.IndexedChunk)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]models.IndexedChunk)
	}
	return nil
}

func (m *MemoryIndex) Insert(_ context.Context, collection string, chunks []models.IndexedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]models.IndexedChunk)
	}
	dim := -1
	for _, existing := range col {
		dim = len(existing.Embedding)
		break
	}
	for _, chunk := range chunks {
		if dim == -1 {
			dim = len(chunk.Embedding)
		}
		if len(chunk.Embedding) != dim {
			return fmt.Errorf("chunk %s has dimension %d, expected %d", chunk.ID, len(chunk.Embedding), dim)
		}
	}

	for _, chunk := range chunks {
		col[chunk.ID] = chunk
	}
	m.collections[collection] = col
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, collection string, embedding []float32, topK int) ([]models.RetrievalHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}

	hits := make([]models.RetrievalHit, 0, len(col))
	for _, chunk := range col {
		hits = append(hits, models.RetrievalHit{
			Text:  chunk.Text,
			Meta:  chunk.Metadata,
			Score: cosineDistance(chunk.Embedding, embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Text < hits[j].Text
		}
		return hits[i].Score < hits[j].Score
	})

	if topK > 0 && topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Count returns the number of chunks stored in collection.
func (m *MemoryIndex) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
