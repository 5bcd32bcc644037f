package models

import (
	"fmt"
	"strings"
)

// Page is the text of one PDF page. Index is 1-based.
type Page struct {
	Index int
	Text  string
}

type ChunkMeta struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is a window of page text. Start and End are character offsets
// into the owning page's text.
type Chunk struct {
	Text string
	Meta ChunkMeta
}

// IndexedChunk is a chunk ready to be written to a vector index.
type IndexedChunk struct {
	ID        string
	Text      string
	Metadata  map[string]interface{}
	Embedding []float32
}

// RetrievalHit is one vector index result. Score is a cosine distance,
// lower means more similar.
type RetrievalHit struct {
	Text  string                 `json:"text"`
	Meta  map[string]interface{} `json:"meta"`
	Score float64                `json:"score"`
}

// Page returns the page number stored in the hit metadata, or 0.
func (h RetrievalHit) Page() int {
	switch v := h.Meta["page"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}

// Metadata renders chunk metadata the way it is stored alongside the embedding.
func (m ChunkMeta) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"page":  m.Page,
		"start": m.Start,
		"end":   m.End,
	}
}

// CollectionName derives the vector index namespace for a user's document.
func CollectionName(userID int64, filename string) string {
	return fmt.Sprintf("user_%d__%s", userID, filename)
}

// ResolveCollectionName accepts either a raw filename or an already
// prefixed collection name owned by the user.
func ResolveCollectionName(userID int64, name string) string {
	prefix := fmt.Sprintf("user_%d__", userID)
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}
