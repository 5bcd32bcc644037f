package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("intellidocs"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("error tearing down postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgres(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	pool, err := store.NewPool(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	t.Run("vector store", func(t *testing.T) {
		vs, err := store.NewVectorStore(ctx, store.VectorStoreConfig{
			Pool:      pool,
			TableName: "test_chunks",
			VectorDim: 3,
			BatchSize: 2,
		})
		require.NoError(t, err)
		defer vs.Close()

		collection := models.CollectionName(1, "penguins.pdf")

		_, err = vs.Query(ctx, collection, []float32{1, 0, 0}, 5)
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)

		require.NoError(t, vs.EnsureCollection(ctx, collection))
		require.NoError(t, vs.EnsureCollection(ctx, collection))
		hits, err := vs.Query(ctx, collection, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		var chunks []models.IndexedChunk
		for i, emb := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}} {
			chunks = append(chunks, models.IndexedChunk{
				ID:        fmt.Sprintf("%s-job-%d", collection, i),
				Text:      fmt.Sprintf("chunk %d\x00", i),
				Metadata:  models.ChunkMeta{Page: i + 1, Start: 0, End: 7}.Metadata(),
				Embedding: emb,
			})
		}
		require.NoError(t, vs.Insert(ctx, collection, chunks))

		hits, err = vs.Query(ctx, collection, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "chunk 0", hits[0].Text)
		assert.Equal(t, 1, hits[0].Page())
		assert.InDelta(t, 0, hits[0].Score, 1e-6)
		assert.Equal(t, "chunk 2", hits[1].Text)
		assert.Less(t, hits[0].Score, hits[1].Score)

		other := models.CollectionName(2, "penguins.pdf")
		require.NoError(t, vs.Insert(ctx, other, []models.IndexedChunk{{
			ID: other + "-job-0", Text: "someone else", Embedding: []float32{1, 0, 0},
		}}))
		hits, err = vs.Query(ctx, collection, []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 3, "collections must not leak into each other")

		err = vs.Insert(ctx, collection, []models.IndexedChunk{{ID: "bad", Embedding: []float32{1}}})
		assert.Error(t, err)

		require.NoError(t, vs.DeleteCollection(ctx, collection))
		_, err = vs.Query(ctx, collection, []float32{1, 0, 0}, 5)
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	})

	t.Run("registry", func(t *testing.T) {
		reg, err := store.OpenPostgres(ctx, pool)
		require.NoError(t, err)
		defer reg.Close()

		runRegistrySuite(t, reg)
	})
}
