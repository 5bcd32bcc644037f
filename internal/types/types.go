package types

import (
	"context"
	"errors"

	"github.com/reanm09/intellidocs/internal/models"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrNoCredentials      = errors.New("no credentials configured")
	ErrNoModel            = errors.New("no generation model configured")
	ErrInvalidChunking    = errors.New("chunk_overlap must be non-negative and less than chunk_size")
	ErrQueueFull          = errors.New("ingestion queue is full")
	ErrNotFound           = errors.New("not found")
)

// Core interfaces

type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, chunks []models.IndexedChunk) error
	Query(ctx context.Context, collection string, embedding []float32, topK int) ([]models.RetrievalHit, error)
	DeleteCollection(ctx context.Context, collection string) error
}

// Embedder matches langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type WebSearcher interface {
	Search(ctx context.Context, query string, n int) ([]models.WebResult, error)
}

type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

type MemoryStore interface {
	AppendTurn(ctx context.Context, userID, chatID int64, role models.Role, content string) error
	RecentTurns(ctx context.Context, userID, chatID int64, limit int) ([]models.ConversationTurn, error)
}

type CollectionStore interface {
	CreateCollection(ctx context.Context, userID int64, filename, storedPath string) (*models.Collection, error)
	SetCollectionStatus(ctx context.Context, id int64, status models.CollectionStatus) error
	GetCollection(ctx context.Context, userID, id int64) (*models.Collection, error)
	FindCollection(ctx context.Context, userID int64, filename string) (*models.Collection, error)
	ListCollections(ctx context.Context, userID int64) ([]models.Collection, error)
	DeleteCollection(ctx context.Context, userID, id int64) error
}

type ChatStore interface {
	CreateChat(ctx context.Context, userID int64, name string, collectionID *int64, mode models.Mode) (*models.Chat, error)
	GetChat(ctx context.Context, userID, id int64) (*models.Chat, error)
	ListChats(ctx context.Context, userID int64) ([]models.Chat, error)
	LatestChatForCollection(ctx context.Context, collectionID int64) (*models.Chat, error)
	DeleteChat(ctx context.Context, userID, id int64) error
}

// Registry is the relational side: collections, chats and conversation memory.
type Registry interface {
	CollectionStore
	ChatStore
	MemoryStore
	Close() error
}
