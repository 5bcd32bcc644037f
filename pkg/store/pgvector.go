package store

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	// Pool is used instead of dialing ConnString when set.
	Pool *pgxpool.Pool
}

// VectorStore keeps every collection in one pgvector table, partitioned by
// a collection column and searched by cosine distance.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	owned  bool
}

func NewVectorStore(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 384 // all-MiniLM-L6-v2
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool := config.Pool
	owned := false
	if pool == nil {
		var err error
		pool, err = pgxpool.New(ctx, config.ConnString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		owned = true
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		owned:  owned,
	}

	if err := vs.initialize(ctx); err != nil {
		vs.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) collectionsTable() string {
	return vs.config.TableName + "_collections"
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.collectionsTable()),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL REFERENCES %s(name) ON DELETE CASCADE,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, vs.config.TableName, vs.collectionsTable(), vs.config.VectorDim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_collection_idx ON %s (collection)`,
			vs.config.TableName, vs.config.TableName),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
			vs.config.TableName, vs.config.TableName),
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

// EnsureCollection creates the collection if it does not exist.
func (vs *VectorStore) EnsureCollection(ctx context.Context, collection string) error {
	_, err := vs.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, vs.collectionsTable()),
		collection)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Insert writes all chunks in one transaction.
func (vs *VectorStore) Insert(ctx context.Context, collection string, chunks []models.IndexedChunk) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, vs.collectionsTable()),
		collection); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, collection, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(chunks))

		batch := &pgx.Batch{}
		for _, chunk := range chunks[start:end] {
			if len(chunk.Embedding) != vs.config.VectorDim {
				return fmt.Errorf("chunk %s has dimension %d, expected %d",
					chunk.ID, len(chunk.Embedding), vs.config.VectorDim)
			}
			batch.Queue(stmt,
				chunk.ID,
				collection,
				sanitizeUTF8(chunk.Text),
				pgvector.NewVector(chunk.Embedding),
				chunk.Metadata,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Query returns the topK chunks closest to embedding. Score is the cosine
// distance. An unknown collection yields types.ErrCollectionNotFound.
func (vs *VectorStore) Query(ctx context.Context, collection string, embedding []float32, topK int) ([]models.RetrievalHit, error) {
	var exists bool
	err := vs.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)`, vs.collectionsTable()),
		collection).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up collection: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}

	query := fmt.Sprintf(`
		SELECT content, metadata, embedding <=> $2 AS distance
		FROM %s
		WHERE collection = $1
		ORDER BY distance
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, collection, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var hits []models.RetrievalHit
	for rows.Next() {
		var hit models.RetrievalHit
		if err := rows.Scan(&hit.Text, &hit.Meta, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// DeleteCollection removes the collection and its chunks.
func (vs *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := vs.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, vs.collectionsTable()),
		collection)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.owned && vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes and NULs, which Postgres TEXT rejects.
func sanitizeUTF8(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
